package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WorkspaceDir is the per-project directory molt keeps its state in.
const WorkspaceDir = ".social-duo"

// Workspace locates the files of an initialized workspace.
type Workspace struct {
	Root string
}

// NewWorkspace returns the workspace rooted under cwd.
func NewWorkspace(cwd string) Workspace {
	return Workspace{Root: filepath.Join(cwd, WorkspaceDir)}
}

func (w Workspace) ConfigPath() string  { return filepath.Join(w.Root, "config.yaml") }
func (w Workspace) HistoryPath() string { return filepath.Join(w.Root, "history.db") }
func (w Workspace) ExportsDir() string  { return filepath.Join(w.Root, "exports") }
func (w Workspace) TurnLogPath() string { return filepath.Join(w.Root, "turns.jsonl") }

// FeedDir is the sharded event log directory of one run.
func (w Workspace) FeedDir(runID int64) string {
	return filepath.Join(w.Root, "feed", fmt.Sprintf("run-%d", runID))
}

// Init creates the workspace layout and a default config when none exists.
// It reports whether a new config file was written.
func (w Workspace) Init() (bool, error) {
	for _, dir := range []string{w.Root, w.ExportsDir(), filepath.Join(w.Root, "feed")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return false, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if _, err := os.Stat(w.ConfigPath()); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := Save(w.ConfigPath(), Default()); err != nil {
		return false, err
	}
	return true, nil
}

// Load reads the workspace config, or ErrNoWorkspace.
func (w Workspace) Load() (*Config, error) {
	return Load(w.ConfigPath())
}
