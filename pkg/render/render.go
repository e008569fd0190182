// Package render prints feed events and run summaries to a terminal.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/cpunion/molt/pkg/compose"
	"github.com/cpunion/molt/pkg/discuss"
	"github.com/cpunion/molt/pkg/feed"
	"github.com/cpunion/molt/pkg/types"
)

const network = "MyVillage"

var (
	colorGreen   = lipgloss.Color("#2CD7C7")
	colorBlue    = lipgloss.Color("#3B82F6")
	colorCyan    = lipgloss.Color("#22D3EE")
	colorRed     = lipgloss.Color("#E74C3C")
	colorYellow  = lipgloss.Color("#F4D03F")
	colorMagenta = lipgloss.Color("#C084FC")
	colorMuted   = lipgloss.Color("#2C4A54")
)

func panel(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(c).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(c).
		Padding(0, 1)
}

var (
	metaStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	upvoteStyle = lipgloss.NewStyle().Foreground(colorYellow)
)

// Renderer writes one block per event. It is safe for concurrent use.
type Renderer struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

// New returns a renderer writing to w. Verbose adds a meta line per event.
func New(w io.Writer, verbose bool) *Renderer {
	return &Renderer{w: w, verbose: verbose}
}

// Emit implements simulation.EventSink.
func (r *Renderer) Emit(_ context.Context, ev types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := io.WriteString(r.w, r.format(ev))
	return err
}

func (r *Renderer) format(ev types.Event) string {
	var out []string
	if r.verbose && ev.Action != types.ActionError {
		out = append(out, metaStyle.Render(fmt.Sprintf("[%s meta] %s -> %s", network, ev.Agent, ev.Action)))
	}

	p := ev.Payload
	switch ev.Action {
	case types.ActionCreatePost:
		out = append(out, panel(colorGreen).Render(fmt.Sprintf("[%s POST %s] (Agent: %s)", network, p.PostID, ev.Agent)))
		if p.Title != "" {
			out = append(out, p.Title)
		}
		out = append(out, p.Content)
	case types.ActionComment:
		out = append(out,
			panel(colorBlue).Render(fmt.Sprintf("[%s COMMENT %s] on %s (Agent: %s)", network, p.CommentID, p.PostID, ev.Agent)),
			p.Content)
	case types.ActionReply:
		out = append(out,
			panel(colorCyan).Render(fmt.Sprintf("[%s REPLY %s] on %s (Agent: %s)", network, p.ReplyID, p.ParentID, ev.Agent)),
			p.Content)
	case types.ActionUpvote:
		out = append(out, upvoteStyle.Render(fmt.Sprintf("[%s UPVOTE] %s upvoted %s (+%d)", network, ev.Agent, ev.TargetID, p.DeltaOr(1))))
	case types.ActionModerate:
		out = append(out,
			panel(colorRed).Render(fmt.Sprintf("[%s MODERATE] %s flagged %s", network, ev.Agent, ev.TargetID)),
			p.Reason,
			"Rewrite: "+p.Rewrite)
	case types.ActionRewrite:
		out = append(out,
			panel(colorYellow).Render(fmt.Sprintf("[%s REWRITE] %s", network, ev.TargetID)),
			p.Rewrite)
	case types.ActionWrapup:
		out = append(out, panel(colorMagenta).Render(fmt.Sprintf("[%s WRAPUP]", network)))
	case types.ActionError:
		out = append(out,
			panel(colorRed).Render(fmt.Sprintf("[%s ERROR]", network)),
			p.Error)
	default:
		out = append(out, fmt.Sprintf("[%s %s] (Agent: %s)", network, ev.Action, ev.Agent))
	}
	return lipgloss.JoinVertical(lipgloss.Left, out...) + "\n"
}

// Summary describes a finished run for display.
type Summary struct {
	RunID      int64  `json:"run_id"`
	Events     int    `json:"events"`
	Turns      int    `json:"turns"`
	Platform   string `json:"platform"`
	StopReason string `json:"stop_reason,omitempty"`
	Errors     int    `json:"errors,omitempty"`
}

// WriteSummary prints the run completion panel.
func WriteSummary(w io.Writer, s Summary) error {
	body := fmt.Sprintf("%s Network run complete: %d", network, s.RunID)
	detail := metaStyle.Render(fmt.Sprintf("events=%d turns=%d platform=%s stop=%s errors=%d",
		s.Events, s.Turns, s.Platform, s.StopReason, s.Errors))
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, panel(colorGreen).Render(body), detail))
	return err
}

// WriteFeed prints the reconstructed feed of a replayed run.
func WriteFeed(w io.Writer, s *feed.State) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorMuted)).
		Headers("ID", "Parent", "Author", "Votes", "Content")
	for _, c := range []*feed.Collection{s.Posts, s.Comments, s.Replies} {
		for _, rec := range c.All() {
			text := rec.Content
			if rec.Title != "" {
				text = rec.Title + ": " + rec.Content
			}
			t.Row(rec.ID, rec.ParentID, rec.Author, strconv.Itoa(s.Votes[rec.ID]), truncate(text, 60))
		}
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// RunRow is one line of the run listing.
type RunRow struct {
	ID        int64
	Type      string
	Platform  string
	CreatedAt string
	Label     string
}

// WriteRuns prints the recent-runs table.
func WriteRuns(w io.Writer, rows []RunRow) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorMuted)).
		Headers("ID", "Type", "Platform", "Created", "Label")
	for _, r := range rows {
		t.Row(strconv.FormatInt(r.ID, 10), r.Type, r.Platform, r.CreatedAt, r.Label)
	}
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, panel(colorBlue).Render("Recent Runs"), t.Render()))
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Draft headings.
const (
	PostHeading  = "Final Recommended Post"
	ReplyHeading = "Recommended Reply"
)

// WriteDraft prints a writer/editor result: the recommended text, the
// variants, the rationale and the editor's verdict. Verbose adds the trace.
func WriteDraft(w io.Writer, heading string, r *compose.Result, verbose bool) error {
	column := "Variant"
	if heading == ReplyHeading {
		column = "Reply"
	}
	out := []string{panel(colorGreen).Render(heading), r.Final.Recommended}
	if len(r.Final.Hashtags) > 0 {
		out = append(out, metaStyle.Render(strings.Join(r.Final.Hashtags, " ")))
	}
	out = append(out, "")

	variants := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorMuted)).
		Headers("#", column)
	for i, v := range r.Final.Variants {
		variants.Row(strconv.Itoa(i+1), v)
	}
	out = append(out, variants.Render())

	if len(r.Final.Rationale) > 0 {
		out = append(out, panel(colorBlue).Render("Rationale"))
		for _, line := range r.Final.Rationale {
			out = append(out, "- "+line)
		}
	}

	s := r.Editor.Scores
	verdict := fmt.Sprintf("%s after %d round(s) on %s: constraint_fit=%d clarity=%d hook=%d risk=%d",
		r.Editor.Verdict, r.Rounds, r.Platform, s.ConstraintFit, s.Clarity, s.Hook, s.Risk)
	out = append(out, metaStyle.Render(verdict))
	for _, is := range r.Issues {
		out = append(out, upvoteStyle.Render("! "+is))
	}
	for _, is := range r.Editor.Issues {
		out = append(out, upvoteStyle.Render(fmt.Sprintf("! %s: %s", is.Type, is.Detail)))
	}

	if verbose && len(r.Trace) > 0 {
		out = append(out, panel(colorYellow).Render("Trace"))
		for _, st := range r.Trace {
			data, err := json.Marshal(st.Content)
			if err != nil {
				return err
			}
			out = append(out, fmt.Sprintf("[%s %s] %s", st.Agent, st.Role, data))
		}
	}
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, out...))
	return err
}

// WriteDiscussion prints the artifacts of a discussion, posts before
// replies. Verbose adds the transcript.
func WriteDiscussion(w io.Writer, res *discuss.Result, artifacts []discuss.Artifact, verbose bool) error {
	out := []string{panel(colorGreen).Render("Discuss Complete")}
	if verbose {
		out = append(out, panel(colorYellow).Render("Transcript"))
		for _, e := range res.Transcript {
			msg := e.ParseError
			if e.Turn != nil {
				msg = e.Turn.Message
			}
			out = append(out, fmt.Sprintf("[%s %s] %s", e.Agent, e.Role(), msg))
		}
	}

	out = append(out, panel(colorGreen).Render("Artifacts"))
	if len(artifacts) == 0 {
		out = append(out, "No artifacts generated.")
	}
	var posts, replies []discuss.Artifact
	for _, a := range artifacts {
		if a.Kind == discuss.KindReply {
			replies = append(replies, a)
		} else {
			posts = append(posts, a)
		}
	}
	for _, group := range []struct {
		title string
		items []discuss.Artifact
	}{{"Posts/Threads", posts}, {"Replies/Comments", replies}} {
		if len(group.items) == 0 {
			continue
		}
		out = append(out, panel(colorCyan).Render(group.title))
		for _, a := range group.items {
			out = append(out, panel(colorBlue).Render(a.Platform+" - "+a.Kind), a.Content)
		}
	}
	out = append(out, metaStyle.Render("stop="+res.StopReason))
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, out...))
	return err
}
