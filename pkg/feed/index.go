package feed

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Index is the manifest of a sharded JSONL event log.
type Index struct {
	Version           int       `json:"version"`
	RunID             int64     `json:"run_id,omitempty"`
	GeneratedAt       time.Time `json:"generated_at"`
	MaxEventsPerShard int       `json:"max_events_per_shard,omitempty"`

	// Shards are ordered oldest -> newest (append-only).
	Shards []Shard `json:"shards"`

	TotalEvents int `json:"total_events"`
}

// Shard is one JSONL file of the log.
type Shard struct {
	Seq    int    `json:"seq"`
	File   string `json:"file"` // relative to the log directory, e.g. "events-000001.jsonl"
	Events int    `json:"events"`
}

const indexFile = "index.json"

// LoadIndex reads an index manifest.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	idx := &Index{}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, err
	}
	if idx.Version == 0 {
		idx.Version = 1
	}
	return idx, nil
}

// SaveIndexAtomic writes idx via a temp file and rename.
func SaveIndexAtomic(path string, idx *Index) error {
	if idx == nil {
		return nil
	}
	if idx.Version <= 0 {
		idx.Version = 1
	}
	idx.GeneratedAt = time.Now()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
