package export

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/cpunion/molt/pkg/history"
)

var rows = []history.EventRow{
	{ID: 1, RunID: 4, Agent: "AgentA", Action: "CREATE_POST", TargetID: "P1", PayloadJSON: `{"post_id":"P1","title":"Hi","content":"Test"}`},
	{ID: 2, RunID: 4, Agent: "ERROR", Action: "ERROR", PayloadJSON: `{"error":"bad"}`},
}

func TestMarkdown(t *testing.T) {
	got := string(Markdown(4, rows))
	want := "# MOLT Run 4\n" +
		"\n- AgentA CREATE_POST P1: {\"post_id\":\"P1\",\"title\":\"Hi\",\"content\":\"Test\"}" +
		"\n- ERROR ERROR : {\"error\":\"bad\"}"
	if got != want {
		t.Fatalf("Markdown:\n%s\nwant:\n%s", got, want)
	}
	if got := string(Markdown(9, nil)); got != "# MOLT Run 9\n" {
		t.Fatalf("empty run markdown=%q", got)
	}
}

func TestJSON(t *testing.T) {
	data, err := JSON(4, rows)
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if !strings.Contains(string(data), "\n  \"run_id\": 4,") {
		t.Fatalf("expected indented output:\n%s", data)
	}
	var back history.Export
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.RunID != 4 || len(back.Events) != 2 || back.Events[0].PayloadJSON != rows[0].PayloadJSON {
		t.Fatalf("round trip=%+v", back)
	}

	empty, err := JSON(5, nil)
	if err != nil || !strings.Contains(string(empty), `"events": []`) {
		t.Fatalf("empty export=%s err=%v", empty, err)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"md": FormatMarkdown, "JSON": FormatJSON, " md ": FormatMarkdown} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("csv"); err == nil {
		t.Fatal("expected error for csv")
	}
	if got := FileName(3, FormatJSON); got != "molt_3.json" {
		t.Fatalf("FileName=%q", got)
	}
}

func TestRunMarkdown(t *testing.T) {
	post := &history.RunDetail{
		Run:    history.Run{ID: 2, Type: "post", Platform: "x"},
		Steps:  []history.Step{{Index: 0, AgentName: "WriterAgent", Role: "draft", Content: json.RawMessage(`{"round":1}`)}},
		Output: json.RawMessage(`{"final":{"recommended":"Hi"}}`),
	}
	got, err := RunMarkdown(post)
	if err != nil {
		t.Fatalf("RunMarkdown: %v", err)
	}
	want := "# Run 2\n\nType: post\nPlatform: x\n" +
		"\n## Final Output\n{\n  \"final\": {\n    \"recommended\": \"Hi\"\n  }\n}\n" +
		"\n## Steps\n- WriterAgent (draft): {\"round\":1}\n"
	if string(got) != want {
		t.Fatalf("post markdown:\n%s\nwant:\n%s", got, want)
	}

	disc := &history.RunDetail{
		Run: history.Run{ID: 5, Type: "discuss", Platform: "all"},
		Output: json.RawMessage(`{"artifacts":[{"kind":"post","platform":"x","content":"Draft"}],` +
			`"transcript":[{"agent":"AgentA","turn":{"intent":"DRAFT","message":"here"}},{"agent":"AgentB","parse_error":"bad"}]}`),
	}
	got, err = RunMarkdown(disc)
	if err != nil {
		t.Fatalf("RunMarkdown: %v", err)
	}
	for _, line := range []string{"### Artifacts\n- x post: Draft\n", "- AgentA (DRAFT): here\n", "- AgentB (unknown): \n", "## Steps\n"} {
		if !strings.Contains(string(got), line) {
			t.Errorf("discuss markdown missing %q:\n%s", line, got)
		}
	}

	bare, err := RunMarkdown(&history.RunDetail{Run: history.Run{ID: 7, Type: "reply"}})
	if err != nil || strings.Contains(string(bare), "Final Output") {
		t.Fatalf("run without output=%q err=%v", bare, err)
	}
}

func TestRenderRun(t *testing.T) {
	d := &history.RunDetail{Run: history.Run{ID: 3, Type: "reply"}, Steps: []history.Step{}}
	data, err := RenderRun(d, FormatJSON)
	if err != nil || !strings.Contains(string(data), `"type": "reply"`) {
		t.Fatalf("json=%s err=%v", data, err)
	}
	if got := RunFileName(3, FormatMarkdown); got != "run_3.md" {
		t.Fatalf("RunFileName=%q", got)
	}
	if _, err := RenderRun(d, Format("csv")); err == nil {
		t.Fatal("expected error for csv")
	}
}
