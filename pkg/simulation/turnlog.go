package simulation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TurnLog captures one turn of a run for offline analysis.
type TurnLog struct {
	Timestamp    time.Time `json:"timestamp"`
	RunID        int64     `json:"run_id,omitempty"`
	Turn         int       `json:"turn"`
	Agent        string    `json:"agent"`
	Prompt       string    `json:"prompt"`
	Responses    []string  `json:"responses,omitempty"`
	Attempts     int       `json:"attempts"`
	Proposed     string    `json:"proposed,omitempty"`
	Emitted      []string  `json:"emitted,omitempty"`
	Error        string    `json:"error,omitempty"`
	PromptTokens int32     `json:"prompt_tokens,omitempty"`
	OutputTokens int32     `json:"output_tokens,omitempty"`
	TotalTokens  int32     `json:"total_tokens,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
}

// TurnLogger records turns for later analysis.
type TurnLogger interface {
	LogTurn(TurnLog) error
	Close() error
}

// JSONLTurnLogger writes each turn as a JSON line.
type JSONLTurnLogger struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewJSONLTurnLogger opens (appending) a turn log at path.
func NewJSONLTurnLogger(path string) (*JSONLTurnLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &JSONLTurnLogger{file: file, writer: bufio.NewWriter(file)}, nil
}

// LogTurn writes a single turn.
func (l *JSONLTurnLogger) LogTurn(tl TurnLog) error {
	if l == nil {
		return nil
	}
	data, err := json.Marshal(tl)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write turn: %w", err)
	}
	return l.writer.Flush()
}

// Close flushes and closes the log file.
func (l *JSONLTurnLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer != nil {
		_ = l.writer.Flush()
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
