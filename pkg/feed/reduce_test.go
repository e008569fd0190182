package feed

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cpunion/molt/pkg/types"
)

func sampleEvents() []types.Event {
	return []types.Event{
		{Agent: types.AgentA, Action: types.ActionCreatePost, TargetID: "P1",
			Payload: types.Payload{PostID: "P1", Title: "Urban gardens transform neighborhoods", Content: "body"}},
		{Agent: types.AgentB, Action: types.ActionComment, TargetID: "P1",
			Payload: types.Payload{CommentID: "C1", PostID: "P1", Content: "On the post about neighborhoods, shade"}},
		{Agent: types.AgentA, Action: types.ActionReply, TargetID: "C1",
			Payload: types.Payload{ReplyID: "R1", ParentID: "C1", Content: "On neighborhoods, soil"}},
		{Agent: types.AgentB, Action: types.ActionUpvote, TargetID: "R1",
			Payload: types.Payload{Delta: types.IntPtr(2)}},
		{Agent: types.AgentB, Action: types.ActionModerate, TargetID: "R1",
			Payload: types.Payload{TargetID: "R1", Reason: "tone", Rewrite: "softer"}},
		{Agent: types.AgentSystem, Action: types.ActionRewrite, TargetID: "R1",
			Payload: types.Payload{Rewrite: "softer"}},
		{Agent: types.AgentError, Action: types.ActionError, Payload: types.Payload{Error: "boom"}},
	}
}

func TestReduce(t *testing.T) {
	s := Replay(DefaultLimits(), sampleEvents())

	if s.Posts.Len() != 1 || s.Comments.Len() != 1 || s.Replies.Len() != 1 {
		t.Fatalf("sizes=%d/%d/%d, want 1/1/1", s.Posts.Len(), s.Comments.Len(), s.Replies.Len())
	}
	if s.PostKeyword != "neighborhoods" {
		t.Fatalf("PostKeyword=%q, want neighborhoods", s.PostKeyword)
	}
	if !s.HasTopic("urban gardens transform neighborhoods") {
		t.Fatalf("topics=%v", s.SortedTopics())
	}
	if got := s.Votes; got["P1"] != 0 || got["C1"] != 0 || got["R1"] != 2 {
		t.Fatalf("votes=%v", got)
	}
	if s.UpvotesUsed[types.AgentB] != 1 {
		t.Fatalf("UpvotesUsed=%v", s.UpvotesUsed)
	}
	if s.LastCommentAgent != types.AgentB || s.LastReplyAgent != types.AgentA {
		t.Fatalf("last agents comment=%q reply=%q", s.LastCommentAgent, s.LastReplyAgent)
	}
	if s.ReplyAgentByTarget["C1"] != types.AgentA {
		t.Fatalf("ReplyAgentByTarget=%v", s.ReplyAgentByTarget)
	}
	if s.LastReplyTextByAgent[types.AgentA] != "On neighborhoods, soil" {
		t.Fatalf("LastReplyTextByAgent=%v", s.LastReplyTextByAgent)
	}
	if r := s.Replies.Get("R1"); r.Content != "On neighborhoods, soil" {
		t.Fatalf("moderation must not rewrite stored content, got %q", r.Content)
	}
	if s.ThreadHead().ID != "R1" {
		t.Fatalf("ThreadHead=%s, want R1", s.ThreadHead().ID)
	}
	if s.CommentsRemaining() != 0 {
		t.Fatalf("CommentsRemaining=%d, want 0", s.CommentsRemaining())
	}
	for kind, want := range map[Kind]string{KindPost: "P2", KindComment: "C2", KindReply: "R2"} {
		if got := s.NextID(kind); got != want {
			t.Fatalf("NextID(%s)=%s, want %s", kind, got, want)
		}
	}
}

func TestReduce_IgnoresIncompleteEvents(t *testing.T) {
	s := NewState(DefaultLimits())
	Reduce(s, types.Event{Action: types.ActionCreatePost})
	Reduce(s, types.Event{Action: types.ActionComment})
	Reduce(s, types.Event{Action: types.ActionReply})
	Reduce(s, types.Event{Agent: types.AgentA, Action: types.ActionUpvote})

	if diff := cmp.Diff(NewState(DefaultLimits()), s, cmp.AllowUnexported(Collection{})); diff != "" {
		t.Fatalf("state changed (-want +got):\n%s", diff)
	}
}

func TestReplay_FromWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(WriterConfig{Dir: dir, MaxEventsPerShard: 2})
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	live := NewState(DefaultLimits())
	for _, ev := range sampleEvents() {
		Reduce(live, ev)
		if err := w.Emit(t.Context(), ev); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events, err := ReadEvents(dir)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if diff := cmp.Diff(sampleEvents(), events); diff != "" {
		t.Fatalf("stored events differ (-want +got):\n%s", diff)
	}
	replayed := Replay(DefaultLimits(), events)
	if diff := cmp.Diff(live, replayed, cmp.AllowUnexported(Collection{})); diff != "" {
		t.Fatalf("replayed state differs (-live +replayed):\n%s", diff)
	}
}

func TestCollection_Recent(t *testing.T) {
	c := newCollection()
	for _, id := range []string{"R1", "R2", "R3"} {
		c.Add(&Record{ID: id})
	}
	c.Add(&Record{ID: "R2", Content: "replaced"})

	got := c.Recent(2)
	if len(got) != 2 || got[0].ID != "R2" || got[1].ID != "R3" {
		t.Fatalf("Recent(2)=%v", got)
	}
	if got[0].Content != "replaced" {
		t.Fatalf("replacement lost: %+v", got[0])
	}
	if len(c.Recent(10)) != 3 || c.Last().ID != "R3" {
		t.Fatalf("Recent(10)/Last wrong")
	}
}
