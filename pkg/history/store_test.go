package history

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/cpunion/molt/pkg/feed"
	"github.com/cpunion/molt/pkg/simulation"
	"github.com/cpunion/molt/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createRun(t *testing.T, s *Store) *Run {
	t.Helper()
	ctx := context.Background()
	sid, err := s.CreateSession(ctx, "/tmp/work", "molt")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	run, err := s.CreateRun(ctx, sid, "molt", "all", map[string]any{"turns": 4, "stop_on": "turns"})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	for i := 0; i < 2; i++ {
		s, err := Open(context.Background(), path)
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
			t.Fatalf("count migrations: %v", err)
		}
		if n != 1 {
			t.Fatalf("migrations recorded=%d, want 1", n)
		}
		_ = s.Close()
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRunsAndOutputs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	run := createRun(t, s)
	if run.ID == 0 || run.UID == "" {
		t.Fatalf("run=%+v", run)
	}
	second := createRun(t, s)

	latest, err := s.LatestRunID(ctx)
	if err != nil || latest != second.ID {
		t.Fatalf("LatestRunID=%d,%v want %d", latest, err, second.ID)
	}
	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != second.ID || runs[0].Label != "molt" {
		t.Fatalf("runs=%+v", runs)
	}

	if err := s.AddStep(ctx, run.ID, 0, "AgentA", "CREATE_POST", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("AddStep: %v", err)
	}
	if err := s.AddOutput(ctx, run.ID, map[string]int{"events": 3}); err != nil {
		t.Fatalf("AddOutput: %v", err)
	}
	d, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(d.Steps) != 1 || d.Steps[0].Role != "CREATE_POST" {
		t.Fatalf("steps=%+v", d.Steps)
	}
	var out map[string]int
	if err := json.Unmarshal(d.Output, &out); err != nil || out["events"] != 3 {
		t.Fatalf("output=%s err=%v", d.Output, err)
	}
	var input map[string]any
	if err := json.Unmarshal(d.Run.Input, &input); err != nil || input["stop_on"] != "turns" {
		t.Fatalf("input=%s", d.Run.Input)
	}

	if _, err := s.GetRun(ctx, 999); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("GetRun(999) err=%v, want ErrRunNotFound", err)
	}
}

func TestLatestRunID_Empty(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.LatestRunID(context.Background()); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err=%v, want ErrRunNotFound", err)
	}
}

func TestEventsAndReplay(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	run := createRun(t, s)

	events := []types.Event{
		{Agent: types.AgentA, Action: types.ActionCreatePost, TargetID: "P1",
			Payload: types.Payload{PostID: "P1", Title: "Solar grids", Content: "body"}},
		{Agent: types.AgentB, Action: types.ActionComment, TargetID: "P1",
			Payload: types.Payload{CommentID: "C1", PostID: "P1", Content: "solar batteries"}},
		{Agent: types.AgentError, Action: types.ActionError, Payload: types.Payload{Error: "boom"}},
		{Agent: types.AgentA, Action: types.ActionReply, TargetID: "C1",
			Payload: types.Payload{ReplyID: "R1", ParentID: "C1", Content: "solar costs"}},
	}
	sink := s.EventSink(run.ID)
	for _, ev := range events {
		if err := sink.Emit(ctx, ev); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	rows, err := s.ListEvents(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows=%d, want 4", len(rows))
	}
	if rows[0].PayloadJSON != `{"post_id":"P1","title":"Solar grids","content":"body"}` {
		t.Fatalf("payload_json=%s", rows[0].PayloadJSON)
	}
	if rows[2].TargetID != "" || rows[2].Agent != "ERROR" {
		t.Fatalf("error row=%+v", rows[2])
	}

	state, err := s.ReplayRun(ctx, run.ID, feed.DefaultLimits())
	if err != nil {
		t.Fatalf("ReplayRun: %v", err)
	}
	if state.Posts.Len() != 1 || state.Comments.Len() != 1 || state.Replies.Len() != 1 {
		t.Fatalf("replayed sizes=%d/%d/%d", state.Posts.Len(), state.Comments.Len(), state.Replies.Len())
	}

	exp, err := s.ExportEvents(ctx, run.ID)
	if err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}
	if exp.RunID != run.ID || len(exp.Events) != 4 {
		t.Fatalf("export=%+v", exp)
	}
	if _, err := s.ReplayRun(ctx, 999, feed.DefaultLimits()); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("ReplayRun(999) err=%v", err)
	}
}

func TestStepLogger(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	run := createRun(t, s)

	var logger simulation.TurnLogger = s.StepLogger(run.ID)
	if err := logger.LogTurn(simulation.TurnLog{Turn: 0, Agent: "AgentA", Proposed: "CREATE_POST", Attempts: 1}); err != nil {
		t.Fatalf("LogTurn: %v", err)
	}
	if err := logger.LogTurn(simulation.TurnLog{Turn: 1, Agent: "AgentB", Error: "bad json", Attempts: 2}); err != nil {
		t.Fatalf("LogTurn: %v", err)
	}
	d, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(d.Steps) != 2 || d.Steps[0].Role != "CREATE_POST" || d.Steps[1].Role != "error" {
		t.Fatalf("steps=%+v", d.Steps)
	}
}
