package history

import (
	"context"

	"github.com/cpunion/molt/pkg/simulation"
	"github.com/cpunion/molt/pkg/types"
)

// Export is the export shape of a run's event log.
type Export struct {
	RunID  int64      `json:"run_id"`
	Events []EventRow `json:"events"`
}

// ExportEvents returns a run's event log for export.
func (s *Store) ExportEvents(ctx context.Context, runID int64) (*Export, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.ListEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []EventRow{}
	}
	return &Export{RunID: runID, Events: rows}, nil
}

// EventSink returns a simulation sink appending events to runID.
func (s *Store) EventSink(runID int64) simulation.EventSink {
	return simulation.SinkFunc(func(ctx context.Context, ev types.Event) error {
		_, err := s.AddEvent(ctx, runID, ev)
		return err
	})
}

// StepLogger stores each simulated turn as a step of a run.
type StepLogger struct {
	store *Store
	runID int64
}

// StepLogger returns a turn logger writing steps for runID.
func (s *Store) StepLogger(runID int64) *StepLogger {
	return &StepLogger{store: s, runID: runID}
}

// LogTurn implements simulation.TurnLogger.
func (l *StepLogger) LogTurn(tl simulation.TurnLog) error {
	role := tl.Proposed
	if tl.Error != "" {
		role = "error"
	}
	if role == "" {
		role = "unknown"
	}
	return l.store.AddStep(context.Background(), l.runID, tl.Turn, tl.Agent, role, tl)
}

// Close implements simulation.TurnLogger. The store is closed by its owner.
func (l *StepLogger) Close() error {
	return nil
}
