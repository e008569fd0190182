package feed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cpunion/molt/pkg/types"
)

// ReadEvents loads every event under dir in append order. Shards come from
// index.json; when the index is missing the shard files are globbed and
// ordered by sequence number.
func ReadEvents(dir string) ([]types.Event, error) {
	files, err := shardFiles(dir)
	if err != nil {
		return nil, err
	}

	var events []types.Event
	for _, name := range files {
		evs, err := readShard(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}
	return events, nil
}

func shardFiles(dir string) ([]string, error) {
	if idx, err := LoadIndex(filepath.Join(dir, indexFile)); err == nil {
		out := make([]string, 0, len(idx.Shards))
		for _, s := range idx.Shards {
			out = append(out, s.File)
		}
		return out, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, "events-*.jsonl"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name := filepath.Base(m)
		if parseShardSeq(name) > 0 {
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return parseShardSeq(out[i]) < parseShardSeq(out[j])
	})
	return out, nil
}

func readShard(path string) ([]types.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()

	var out []types.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
