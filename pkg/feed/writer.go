package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cpunion/molt/pkg/types"
)

// DefaultMaxEventsPerShard is used when WriterConfig leaves it unset.
const DefaultMaxEventsPerShard = 200

// WriterConfig configures a Writer.
type WriterConfig struct {
	Dir               string
	RunID             int64
	MaxEventsPerShard int
	Append            bool // resume an existing log instead of starting a new one
}

// Writer appends committed events to a sharded JSONL log. A shard rotates
// once it holds MaxEventsPerShard events; index.json tracks all shards.
type Writer struct {
	mu sync.Mutex

	dir       string
	indexPath string
	maxEvents int
	idx       *Index

	file   *os.File
	buf    *bufio.Writer
	seq    int
	events int
}

// OpenWriter opens (or creates) the event log under cfg.Dir.
func OpenWriter(cfg WriterConfig) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, errors.New("feed dir is required")
	}
	if cfg.MaxEventsPerShard <= 0 {
		cfg.MaxEventsPerShard = DefaultMaxEventsPerShard
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create feed dir: %w", err)
	}

	w := &Writer{
		dir:       cfg.Dir,
		indexPath: filepath.Join(cfg.Dir, indexFile),
		maxEvents: cfg.MaxEventsPerShard,
		idx:       &Index{Version: 1, RunID: cfg.RunID, MaxEventsPerShard: cfg.MaxEventsPerShard},
	}
	if cfg.Append {
		if idx, err := LoadIndex(w.indexPath); err == nil {
			w.idx = idx
			if w.idx.MaxEventsPerShard == 0 {
				w.idx.MaxEventsPerShard = cfg.MaxEventsPerShard
			}
		}
	}

	if last := w.lastShard(); last != nil && cfg.Append {
		if err := w.open(last.Seq, last.Events); err != nil {
			return nil, err
		}
		return w, nil
	}
	w.idx.Shards = nil
	w.idx.TotalEvents = 0
	if err := w.rotateTo(1); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) lastShard() *Shard {
	if len(w.idx.Shards) == 0 {
		return nil
	}
	return &w.idx.Shards[len(w.idx.Shards)-1]
}

func (w *Writer) open(seq, events int) error {
	path := filepath.Join(w.dir, shardFileName(seq))
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if events == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("open shard %d: %w", seq, err)
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	w.seq = seq
	w.events = events
	return nil
}

func (w *Writer) rotateTo(seq int) error {
	if err := w.closeShard(); err != nil {
		return err
	}
	if err := w.open(seq, 0); err != nil {
		return err
	}
	w.idx.Shards = append(w.idx.Shards, Shard{Seq: seq, File: shardFileName(seq)})
	return SaveIndexAtomic(w.indexPath, w.idx)
}

func (w *Writer) closeShard() error {
	if w.buf != nil {
		if err := w.buf.Flush(); err != nil {
			return err
		}
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// Append writes one event as a JSON line.
func (w *Writer) Append(ev types.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf == nil {
		return errors.New("writer is closed")
	}
	if w.events >= w.maxEvents {
		if err := w.rotateTo(w.seq + 1); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	w.events++
	w.idx.TotalEvents++
	w.lastShard().Events = w.events
	return SaveIndexAtomic(w.indexPath, w.idx)
}

// Emit implements the simulation event sink.
func (w *Writer) Emit(_ context.Context, ev types.Event) error {
	return w.Append(ev)
}

// Close flushes the current shard and writes the final index.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.closeShard()
	w.buf = nil
	w.file = nil
	if saveErr := SaveIndexAtomic(w.indexPath, w.idx); err == nil {
		err = saveErr
	}
	return err
}

func shardFileName(seq int) string {
	return fmt.Sprintf("events-%06d.jsonl", seq)
}

func parseShardSeq(name string) int {
	if !strings.HasPrefix(name, "events-") || !strings.HasSuffix(name, ".jsonl") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "events-"), ".jsonl"))
	if err != nil {
		return 0
	}
	return n
}
