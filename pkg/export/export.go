// Package export renders stored runs as Markdown or JSON: a simulation
// run's event log, or a drafting run's output and steps.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cpunion/molt/pkg/history"
)

// Format is an export file format.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatMarkdown, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("format must be md or json, got %q", s)
}

// FileName returns the export file name of a run.
func FileName(runID int64, f Format) string {
	return fmt.Sprintf("molt_%d.%s", runID, f)
}

// Markdown renders a heading plus one bullet per event.
func Markdown(runID int64, rows []history.EventRow) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# MOLT Run %d\n", runID)
	for _, r := range rows {
		fmt.Fprintf(&b, "\n- %s %s %s: %s", r.Agent, r.Action, r.TargetID, r.PayloadJSON)
	}
	return []byte(b.String())
}

// JSON renders the run id and its event rows, indented.
func JSON(runID int64, rows []history.EventRow) ([]byte, error) {
	if rows == nil {
		rows = []history.EventRow{}
	}
	return json.MarshalIndent(history.Export{RunID: runID, Events: rows}, "", "  ")
}

// Render dispatches on f.
func Render(runID int64, rows []history.EventRow, f Format) ([]byte, error) {
	switch f {
	case FormatMarkdown:
		return Markdown(runID, rows), nil
	case FormatJSON:
		return JSON(runID, rows)
	}
	return nil, fmt.Errorf("unsupported format %q", f)
}

// RunFileName returns the export file name of a post, reply, chat or
// discuss run.
func RunFileName(runID int64, f Format) string {
	return fmt.Sprintf("run_%d.%s", runID, f)
}

// discussOutput is the part of a discuss run's output the Markdown export
// lists.
type discussOutput struct {
	Artifacts []struct {
		Kind     string `json:"kind"`
		Platform string `json:"platform"`
		Content  string `json:"content"`
	} `json:"artifacts"`
	Transcript []struct {
		Agent string `json:"agent"`
		Turn  *struct {
			Intent  string `json:"intent"`
			Message string `json:"message"`
		} `json:"turn"`
	} `json:"transcript"`
}

// RunMarkdown renders a run's type, final output and steps.
func RunMarkdown(d *history.RunDetail) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %d\n\nType: %s\nPlatform: %s\n", d.Run.ID, d.Run.Type, d.Run.Platform)
	if len(d.Output) > 0 {
		b.WriteString("\n## Final Output\n")
		if d.Run.Type == history.RunTypeDiscuss {
			var out discussOutput
			if err := json.Unmarshal(d.Output, &out); err != nil {
				return nil, fmt.Errorf("decode discuss output: %w", err)
			}
			b.WriteString("\n### Artifacts\n")
			for _, a := range out.Artifacts {
				fmt.Fprintf(&b, "- %s %s: %s\n", a.Platform, a.Kind, a.Content)
			}
			b.WriteString("\n### Transcript\n")
			for _, e := range out.Transcript {
				intent, msg := "unknown", ""
				if e.Turn != nil {
					intent, msg = e.Turn.Intent, e.Turn.Message
				}
				fmt.Fprintf(&b, "- %s (%s): %s\n", e.Agent, intent, msg)
			}
		} else {
			var indented bytes.Buffer
			if err := json.Indent(&indented, d.Output, "", "  "); err != nil {
				return nil, fmt.Errorf("indent output: %w", err)
			}
			b.Write(indented.Bytes())
			b.WriteString("\n")
		}
	}
	b.WriteString("\n## Steps\n")
	for _, s := range d.Steps {
		fmt.Fprintf(&b, "- %s (%s): %s\n", s.AgentName, s.Role, s.Content)
	}
	return []byte(b.String()), nil
}

// RenderRun dispatches on f for a whole run detail.
func RenderRun(d *history.RunDetail, f Format) ([]byte, error) {
	switch f {
	case FormatMarkdown:
		return RunMarkdown(d)
	case FormatJSON:
		return json.MarshalIndent(d, "", "  ")
	}
	return nil, fmt.Errorf("unsupported format %q", f)
}
