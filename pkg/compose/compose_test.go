package compose

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"sync"
	"testing"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// scriptedModel returns its texts in order, one per request.
type scriptedModel struct {
	mu       sync.Mutex
	texts    []string
	requests []*model.LLMRequest
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) GenerateContent(_ context.Context, req *model.LLMRequest, _ bool) iter.Seq2[*model.LLMResponse, error] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.texts) == 0 {
		return func(yield func(*model.LLMResponse, error) bool) {
			yield(nil, errors.New("script exhausted"))
		}
	}
	text := m.texts[0]
	m.texts = m.texts[1:]
	return func(yield func(*model.LLMResponse, error) bool) {
		yield(&model.LLMResponse{Content: genai.NewContentFromText(text, genai.RoleModel)}, nil)
	}
}

func (m *scriptedModel) prompt(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b strings.Builder
	for _, c := range m.requests[i].Contents {
		for _, p := range c.Parts {
			b.WriteString(p.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

const (
	draftJSON  = `{"recommended":"Rooftop gardens cool whole blocks. Join us Saturday.","variants":["a","b"],"hashtags":["#garden"],"rationale":["short"]}`
	reviseJSON = `{"recommended":"Rooftop gardens cool blocks. Join Saturday.","variants":[],"hashtags":[],"rationale":["tighter"]}`
	failJSON   = `{"verdict":"FAIL","issues":[{"type":"clarity","detail":"Cut the filler."}],"edited_version":"Rooftop gardens cool blocks.","alt_suggestions":[],"scores":{"constraint_fit":90,"clarity":60,"hook":70,"risk":10}}`
	passJSON   = `{"verdict":"PASS","issues":[],"edited_version":"","alt_suggestions":["x"],"scores":{"constraint_fit":95,"clarity":90,"hook":80,"risk":5}}`
)

func newTestComposer(t *testing.T, m model.LLM, rounds int) *Composer {
	t.Helper()
	c, err := New(Config{Model: m, Rounds: rounds})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCompose_ReviseUntilPass(t *testing.T) {
	m := &scriptedModel{texts: []string{draftJSON, failJSON, reviseJSON, passJSON}}
	c := newTestComposer(t, m, 3)

	res, err := c.Compose(context.Background(), Brief{Topic: "urban gardens", Platform: "x", CTARequired: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Rounds != 2 || res.Editor.Verdict != VerdictPass {
		t.Fatalf("rounds=%d verdict=%s", res.Rounds, res.Editor.Verdict)
	}
	if res.Final.Recommended != "Rooftop gardens cool blocks. Join Saturday." {
		t.Fatalf("final=%q", res.Final.Recommended)
	}
	if len(res.Issues) != 0 || !res.Metrics.CTAPresent {
		t.Fatalf("issues=%v metrics=%+v", res.Issues, res.Metrics)
	}
	if want := []string{res.Final.Recommended, res.Final.Recommended, res.Final.Recommended}; !slices.Equal(res.Final.Variants, want) {
		t.Fatalf("variants=%q", res.Final.Variants)
	}

	var roles []string
	for _, s := range res.Trace {
		roles = append(roles, s.Agent+":"+s.Role)
	}
	if got := strings.Join(roles, ","); got != "WriterAgent:draft,EditorAgent:critique,WriterAgent:revise,EditorAgent:critique" {
		t.Fatalf("trace=%s", got)
	}

	revise := m.prompt(2)
	for _, want := range []string{"Mode: revise", "Editor feedback: Cut the filler.", "Editor suggested revision: Rooftop gardens cool blocks."} {
		if !strings.Contains(revise, want) {
			t.Errorf("revise prompt missing %q:\n%s", want, revise)
		}
	}
	if got := *m.requests[2].Config.Temperature; got != reviseTemperature {
		t.Errorf("revise temperature=%v", got)
	}
	editor := m.prompt(1)
	if !strings.Contains(editor, `"char_count":`) || !strings.Contains(editor, "Constraint issues: []") {
		t.Errorf("editor prompt:\n%s", editor)
	}
}

func TestCompose_ReplyPrompts(t *testing.T) {
	m := &scriptedModel{texts: []string{draftJSON, passJSON}}
	brief := Brief{
		Goal:       "reply",
		Platform:   "x",
		Style:      "witty",
		Stance:     "disagree",
		SourceText: "Gardens are a fad.",
	}
	if _, err := newTestComposer(t, m, 2).Compose(context.Background(), brief); err != nil {
		t.Fatal(err)
	}
	if w := m.prompt(0); !strings.Contains(w, "Source text: Gardens are a fad.") || strings.Contains(w, "Instruction:") {
		t.Errorf("writer prompt:\n%s", w)
	}
	e := m.prompt(1)
	for _, want := range []string{"Source text: Gardens are a fad.", "Goal: reply", "Reply style: witty", "Reply stance: disagree"} {
		if !strings.Contains(e, want) {
			t.Errorf("editor prompt missing %q:\n%s", want, e)
		}
	}
	if sys := m.requests[1].Config.SystemInstruction.Parts[0].Text; !strings.Contains(sys, "escalation risk") {
		t.Errorf("editor system=%q", sys)
	}
}

func TestCompose_StopsAtRoundBudget(t *testing.T) {
	m := &scriptedModel{texts: []string{draftJSON, failJSON}}
	res, err := newTestComposer(t, m, 1).Compose(context.Background(), Brief{Platform: "threads"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Rounds != 1 || res.Editor.Verdict != VerdictFail || len(m.requests) != 2 {
		t.Fatalf("rounds=%d verdict=%s requests=%d", res.Rounds, res.Editor.Verdict, len(m.requests))
	}
}

func TestCompose_RetriesMalformedOutput(t *testing.T) {
	m := &scriptedModel{texts: []string{
		"Here is a post!",
		"```json\n" + draftJSON + "\n```",
		`{"verdict":"MAYBE","issues":[],"scores":{}}`,
		passJSON,
	}}
	res, err := newTestComposer(t, m, 2).Compose(context.Background(), Brief{Platform: "linkedin"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Editor.Verdict != VerdictPass || len(m.requests) != 4 {
		t.Fatalf("verdict=%s requests=%d", res.Editor.Verdict, len(m.requests))
	}
	if !strings.Contains(m.prompt(1), jsonCorrection) {
		t.Fatalf("retry lacks correction:\n%s", m.prompt(1))
	}
	if got := *m.requests[3].Config.Temperature; got != editorRetryTemp {
		t.Fatalf("editor retry temperature=%v", got)
	}
}

func TestCompose_EditorFailureKeepsTrace(t *testing.T) {
	m := &scriptedModel{texts: []string{draftJSON, "nope", "still nope"}}
	_, err := newTestComposer(t, m, 2).Compose(context.Background(), Brief{Platform: "x"})

	var le *LoopError
	if !errors.As(err, &le) {
		t.Fatalf("err=%v, want LoopError", err)
	}
	if le.Stage != "editor" || len(le.Trace) != 1 || le.Trace[0].Agent != WriterAgent {
		t.Fatalf("stage=%s trace=%+v", le.Stage, le.Trace)
	}
}

type panickingModel struct{}

func (panickingModel) Name() string { return "panics" }

func (panickingModel) GenerateContent(context.Context, *model.LLMRequest, bool) iter.Seq2[*model.LLMResponse, error] {
	panic("socket closed")
}

func TestCompose_ModelPanicIsWriterError(t *testing.T) {
	_, err := newTestComposer(t, panickingModel{}, 1).Compose(context.Background(), Brief{Platform: "x"})
	var le *LoopError
	if !errors.As(err, &le) || le.Stage != "writer" || !strings.Contains(err.Error(), "socket closed") {
		t.Fatalf("err=%v", err)
	}
}

func TestCompose_UnknownPlatform(t *testing.T) {
	if _, err := newTestComposer(t, &scriptedModel{}, 1).Compose(context.Background(), Brief{Platform: "all"}); err == nil {
		t.Fatal("expected error for unexpanded platform")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("missing model accepted")
	}
	if _, err := New(Config{Model: &scriptedModel{}, Rounds: -1}); err == nil {
		t.Fatal("negative rounds accepted")
	}
	c, err := New(Config{Model: &scriptedModel{}})
	if err != nil || c.cfg.Rounds != DefaultRounds {
		t.Fatalf("c=%+v err=%v", c, err)
	}
}
