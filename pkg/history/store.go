// Package history persists sessions, runs and their committed events in a
// local SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cpunion/molt/pkg/feed"
	"github.com/cpunion/molt/pkg/types"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

const timeLayout = "2006-01-02T15:04:05Z"

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

// Store is the history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateSession records a CLI session and returns its id.
func (s *Store) CreateSession(ctx context.Context, cwd, label string) (int64, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions(created_at, updated_at, cwd, label) VALUES(?,?,?,?)",
		ts, ts, cwd, nullString(label))
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	return res.LastInsertId()
}

// TouchSession bumps a session's updated_at.
func (s *Store) TouchSession(ctx context.Context, sessionID int64) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE sessions SET updated_at=? WHERE id=?", now(), sessionID); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// Run types.
const (
	RunTypeMolt    = "molt"
	RunTypePost    = "post"
	RunTypeReply   = "reply"
	RunTypeChat    = "chat"
	RunTypeDiscuss = "discuss"
)

// Run is a stored run.
type Run struct {
	ID        int64           `json:"id"`
	UID       string          `json:"uid"`
	SessionID int64           `json:"session_id"`
	Type      string          `json:"type"`
	Platform  string          `json:"platform,omitempty"`
	CreatedAt string          `json:"created_at"`
	Input     json.RawMessage `json:"input"`
	Label     string          `json:"label,omitempty"`
}

// CreateRun records a run with its input parameters.
func (s *Store) CreateRun(ctx context.Context, sessionID int64, runType, platform string, input any) (*Run, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal run input: %w", err)
	}
	run := &Run{
		UID:       uuid.NewString(),
		SessionID: sessionID,
		Type:      runType,
		Platform:  platform,
		CreatedAt: now(),
		Input:     data,
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO runs(uid, session_id, type, platform, created_at, input_json) VALUES(?,?,?,?,?,?)",
		run.UID, sessionID, runType, nullString(platform), run.CreatedAt, string(data))
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the newest runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT r.id, r.uid, r.session_id, r.type, r.platform, r.created_at, r.input_json, s.label
FROM runs r JOIN sessions s ON r.session_id = s.id
ORDER BY r.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r               Run
			platform, label sql.NullString
			input           string
		)
		if err := rows.Scan(&r.ID, &r.UID, &r.SessionID, &r.Type, &platform, &r.CreatedAt, &input, &label); err != nil {
			return nil, err
		}
		r.Platform = platform.String
		r.Label = label.String
		r.Input = json.RawMessage(input)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestRunID returns the id of the most recent run.
func (s *Store) LatestRunID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM runs ORDER BY id DESC LIMIT 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrRunNotFound
	}
	return id, err
}

// Step is one stored turn of a run.
type Step struct {
	Index     int             `json:"step_index"`
	AgentName string          `json:"agent_name"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	CreatedAt string          `json:"created_at"`
}

// AddStep stores one turn record.
func (s *Store) AddStep(ctx context.Context, runID int64, index int, agent, role string, content any) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal step: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO steps(run_id, step_index, agent_name, role, content, created_at, metadata_json) VALUES(?,?,?,?,?,?,?)",
		runID, index, agent, role, string(data), now(), "{}"); err != nil {
		return fmt.Errorf("add step: %w", err)
	}
	return nil
}

// AddOutput stores the final summary of a run.
func (s *Store) AddOutput(ctx context.Context, runID int64, final any) error {
	data, err := json.Marshal(final)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO outputs(run_id, final_json, created_at) VALUES(?,?,?)",
		runID, string(data), now()); err != nil {
		return fmt.Errorf("add output: %w", err)
	}
	return nil
}

// RunDetail is a run with its steps and latest output.
type RunDetail struct {
	Run    Run             `json:"run"`
	Steps  []Step          `json:"steps"`
	Output json.RawMessage `json:"output,omitempty"`
}

// GetRun loads a run with its steps and latest output.
func (s *Store) GetRun(ctx context.Context, runID int64) (*RunDetail, error) {
	var (
		d               RunDetail
		platform, label sql.NullString
		input           string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT r.id, r.uid, r.session_id, r.type, r.platform, r.created_at, r.input_json, s.label
FROM runs r JOIN sessions s ON r.session_id = s.id WHERE r.id = ?`, runID).
		Scan(&d.Run.ID, &d.Run.UID, &d.Run.SessionID, &d.Run.Type, &platform, &d.Run.CreatedAt, &input, &label)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	d.Run.Platform = platform.String
	d.Run.Label = label.String
	d.Run.Input = json.RawMessage(input)

	rows, err := s.db.QueryContext(ctx,
		"SELECT step_index, agent_name, role, content, created_at FROM steps WHERE run_id=? ORDER BY step_index ASC, id ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st Step
		var content string
		if err := rows.Scan(&st.Index, &st.AgentName, &st.Role, &content, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.Content = json.RawMessage(content)
		d.Steps = append(d.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var output string
	err = s.db.QueryRowContext(ctx,
		"SELECT final_json FROM outputs WHERE run_id=? ORDER BY id DESC LIMIT 1", runID).Scan(&output)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("get output: %w", err)
	default:
		d.Output = json.RawMessage(output)
	}
	return &d, nil
}

// EventRow is one stored event, in the persisted log shape.
type EventRow struct {
	ID          int64  `json:"id"`
	RunID       int64  `json:"run_id"`
	CreatedAt   string `json:"created_at"`
	Agent       string `json:"agent"`
	Action      string `json:"action"`
	TargetID    string `json:"target_id"`
	PayloadJSON string `json:"payload_json"`
}

// Event decodes the row back into an event.
func (r EventRow) Event() (types.Event, error) {
	ev := types.Event{Agent: r.Agent, Action: types.Action(r.Action), TargetID: r.TargetID}
	if err := json.Unmarshal([]byte(r.PayloadJSON), &ev.Payload); err != nil {
		return ev, fmt.Errorf("decode payload of event %d: %w", r.ID, err)
	}
	return ev, nil
}

// AddEvent appends a committed event to a run.
func (s *Store) AddEvent(ctx context.Context, runID int64, ev types.Event) (int64, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO events(run_id, created_at, agent, action, target_id, payload_json) VALUES(?,?,?,?,?,?)",
		runID, now(), ev.Agent, string(ev.Action), nullString(ev.TargetID), string(payload))
	if err != nil {
		return 0, fmt.Errorf("add event: %w", err)
	}
	return res.LastInsertId()
}

// ListEvents returns a run's events in insertion order.
func (s *Store) ListEvents(ctx context.Context, runID int64) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, created_at, agent, action, target_id, payload_json FROM events WHERE run_id=? ORDER BY id ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		var target sql.NullString
		if err := rows.Scan(&r.ID, &r.RunID, &r.CreatedAt, &r.Agent, &r.Action, &target, &r.PayloadJSON); err != nil {
			return nil, err
		}
		r.TargetID = target.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns a run's events decoded, in insertion order.
func (s *Store) Events(ctx context.Context, runID int64) ([]types.Event, error) {
	rows, err := s.ListEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Event, 0, len(rows))
	for _, r := range rows {
		ev, err := r.Event()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// ReplayRun rebuilds the feed state of a run from its stored events.
func (s *Store) ReplayRun(ctx context.Context, runID int64, limits feed.Limits) (*feed.State, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	events, err := s.Events(ctx, runID)
	if err != nil {
		return nil, err
	}
	return feed.Replay(limits, events), nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
