package protocol

import (
	"testing"

	"github.com/cpunion/molt/pkg/feed"
	"github.com/cpunion/molt/pkg/types"
)

const (
	a = types.AgentA
	b = types.AgentB
)

// step normalizes raw for agent and reduces the resulting event, if any.
func step(t *testing.T, n *Normalizer, s *feed.State, agent string, raw types.RawAction) (types.Event, bool) {
	t.Helper()
	ev, ok := n.Normalize(raw, s, agent)
	if ok {
		feed.Reduce(s, ev)
	}
	return ev, ok
}

func mustStep(t *testing.T, n *Normalizer, s *feed.State, agent string, raw types.RawAction, want types.Action) types.Event {
	t.Helper()
	ev, ok := step(t, n, s, agent, raw)
	if !ok {
		t.Fatalf("%s %s: no event, want %s", agent, raw.Action, want)
	}
	if ev.Action != want {
		t.Fatalf("%s %s: got %s, want %s (event %+v)", agent, raw.Action, ev.Action, want, ev)
	}
	return ev
}

func mustDrop(t *testing.T, n *Normalizer, s *feed.State, agent string, raw types.RawAction) {
	t.Helper()
	if ev, ok := step(t, n, s, agent, raw); ok {
		t.Fatalf("%s %s: got %+v, want no event", agent, raw.Action, ev)
	}
}

func post(title, content string) types.RawAction {
	return types.RawAction{Action: types.ActionCreatePost, Title: title, Content: content}
}

func comment(target, content string) types.RawAction {
	return types.RawAction{Action: types.ActionComment, TargetID: target, Content: content}
}

func reply(target, content string) types.RawAction {
	return types.RawAction{Action: types.ActionReply, TargetID: target, Content: content}
}

func upvote() types.RawAction {
	return types.RawAction{Action: types.ActionUpvote}
}

func TestNormalize_PostCommentReply(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.DefaultLimits())

	mustStep(t, n, s, a, post("t", "c"), types.ActionCreatePost)
	mustStep(t, n, s, b, comment("P1", "hi"), types.ActionComment)
	ev := mustStep(t, n, s, a, reply("C1", "yo"), types.ActionReply)

	if s.Posts.Len() != 1 || !s.Posts.Has("P1") {
		t.Fatalf("posts=%v, want only P1", s.Posts.All())
	}
	if s.Comments.Len() != 1 || !s.Comments.Has("C1") {
		t.Fatalf("comments=%v, want only C1", s.Comments.All())
	}
	if s.Replies.Len() != 1 || !s.Replies.Has("R1") {
		t.Fatalf("replies=%v, want only R1", s.Replies.All())
	}
	if ev.TargetID != "C1" || ev.Payload.ParentID != "C1" || ev.Payload.ReplyID != "R1" {
		t.Fatalf("reply event=%+v, want R1 on C1", ev)
	}
}

func TestNormalize_ReplyCap(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.DefaultLimits())

	mustStep(t, n, s, a, post("Solar grids", "body"), types.ActionCreatePost)
	mustStep(t, n, s, b, comment("", "solar batteries"), types.ActionComment)
	mustStep(t, n, s, a, reply("", "solar batteries help"), types.ActionReply)
	mustStep(t, n, s, b, reply("", "solar panels degrade"), types.ActionReply)

	mustDrop(t, n, s, a, reply("", "solar storage wins"))
	if s.Replies.Len() != 2 {
		t.Fatalf("replies=%d, want 2", s.Replies.Len())
	}
}

func TestNormalize_UpvoteCap(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.DefaultLimits())

	mustStep(t, n, s, a, post("Solar grids", "body"), types.ActionCreatePost)
	ev := mustStep(t, n, s, a, upvote(), types.ActionUpvote)
	if ev.TargetID != "P1" || ev.Payload.DeltaOr(0) != 1 {
		t.Fatalf("upvote event=%+v, want +1 on P1", ev)
	}
	mustDrop(t, n, s, a, upvote())
	if s.Votes["P1"] != 1 || s.UpvotesUsed[a] != 1 {
		t.Fatalf("votes=%d used=%d, want 1/1", s.Votes["P1"], s.UpvotesUsed[a])
	}

	// Explicit vote block with a delta.
	vote := types.RawAction{Action: types.ActionUpvote, Vote: &types.Vote{TargetID: "P1", Delta: types.IntPtr(2)}}
	mustStep(t, n, s, b, vote, types.ActionUpvote)
	if s.Votes["P1"] != 3 {
		t.Fatalf("votes=%d, want 3", s.Votes["P1"])
	}

	// With a comment in place, the second attempt becomes a reply.
	mustStep(t, n, s, b, comment("P1", "solar batteries"), types.ActionComment)
	ev = mustStep(t, n, s, a, upvote(), types.ActionReply)
	if ev.Payload.Content != FallbackReply || ev.Payload.ParentID != "C1" {
		t.Fatalf("redirected reply=%+v, want fallback text on C1", ev)
	}
	if s.UpvotesUsed[a] != 1 {
		t.Fatalf("upvotes used=%d, want 1", s.UpvotesUsed[a])
	}
}

func TestNormalize_UpvoteRedirectAnotherAngle(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.Limits{MaxPosts: 1, MaxComments: 1, MaxReplies: 5})

	mustStep(t, n, s, a, post("Solar grids", "body"), types.ActionCreatePost)
	mustStep(t, n, s, b, comment("P1", "solar batteries"), types.ActionComment)
	mustStep(t, n, s, a, upvote(), types.ActionReply)

	ev := mustStep(t, n, s, b, upvote(), types.ActionReply)
	if ev.Payload.Content != "Another angle: "+FallbackReply {
		t.Fatalf("content=%q, want another-angle prefix", ev.Payload.Content)
	}
	if ev.Payload.ParentID != "R1" || ev.Payload.ReplyID != "R2" {
		t.Fatalf("reply=%+v, want R2 on R1", ev)
	}
}

func TestNormalize_AuthorInvariants(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.Limits{MaxPosts: 1, MaxComments: 1, MaxReplies: 5})

	mustStep(t, n, s, a, post("Solar grids", "body"), types.ActionCreatePost)
	mustStep(t, n, s, b, comment("P1", "solar batteries"), types.ActionComment)

	// The commenter may not open the thread, directly or via a redirect.
	mustDrop(t, n, s, b, reply("C1", "solar again"))
	mustDrop(t, n, s, b, upvote())

	mustStep(t, n, s, a, reply("C1", "solar batteries are key"), types.ActionReply)
	// No agent replies twice in a row.
	mustDrop(t, n, s, a, reply("R1", "solar more"))
	mustDrop(t, n, s, a, upvote())

	mustStep(t, n, s, b, reply("R1", "solar panels degrade"), types.ActionReply)

	var prev string
	for _, r := range s.Replies.All() {
		if r.Author == prev {
			t.Fatalf("consecutive replies by %s", r.Author)
		}
		parent := s.Replies.Get(r.ParentID)
		if parent == nil {
			parent = s.Comments.Get(r.ParentID)
		}
		if parent == nil || parent.Author == r.Author {
			t.Fatalf("reply %s targets %v", r.ID, parent)
		}
		prev = r.Author
	}
}

func TestNormalize_CreatePostRedirects(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.DefaultLimits())

	// No post yet and nothing to fall back to: a normal post.
	mustStep(t, n, s, a, post("Solar grids", "body"), types.ActionCreatePost)

	// Cap reached, comment capacity remains: becomes a comment without anchoring.
	ev := mustStep(t, n, s, b, post("Wind farms", "turbines are loud"), types.ActionComment)
	if ev.TargetID != "P1" || ev.Payload.Content != "turbines are loud" {
		t.Fatalf("redirected comment=%+v", ev)
	}

	// Cap reached, comment exists: becomes a reply on the thread head.
	ev = mustStep(t, n, s, a, post("Tidal power", "waves"), types.ActionReply)
	if ev.Payload.ParentID != "C1" || ev.Payload.Content != "waves" {
		t.Fatalf("redirected reply=%+v", ev)
	}
	if s.Posts.Len() != 1 || s.Comments.Len() != 1 {
		t.Fatalf("posts=%d comments=%d, want 1/1", s.Posts.Len(), s.Comments.Len())
	}
}

func TestNormalize_CreatePostFallsBackToUpvote(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.DefaultLimits())

	mustStep(t, n, s, a, post("Solar grids", "body"), types.ActionCreatePost)
	// No content: no comment redirect, no thread: upvote the post once.
	ev := mustStep(t, n, s, b, post("Second", ""), types.ActionUpvote)
	if ev.TargetID != "P1" {
		t.Fatalf("upvote target=%q, want P1", ev.TargetID)
	}
	mustDrop(t, n, s, b, post("Third", ""))
}

func TestNormalize_CreatePostBlockedReplyFallsBackToUpvote(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.DefaultLimits())

	mustStep(t, n, s, a, post("Solar grids", "body"), types.ActionCreatePost)
	mustStep(t, n, s, b, comment("P1", "solar batteries"), types.ActionComment)

	// The reply redirect would make B answer its own comment: upvote the post instead.
	ev := mustStep(t, n, s, b, post("Another", "x"), types.ActionUpvote)
	if ev.TargetID != "P1" || ev.Agent != b {
		t.Fatalf("upvote=%+v, want B on P1", ev)
	}
	if s.UpvotesUsed[b] != 1 || s.Votes["P1"] != 1 {
		t.Fatalf("upvotesUsed=%v votes=%v", s.UpvotesUsed, s.Votes)
	}
	if s.Replies.Len() != 0 {
		t.Fatalf("replies=%d, want 0", s.Replies.Len())
	}
	// Upvote already spent: nothing left to fall back to.
	mustDrop(t, n, s, b, post("Third", "y"))
}

func TestNormalize_DuplicateTopicBlockedReplyFallsBackToUpvote(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.Limits{MaxPosts: 2, MaxComments: 1, MaxReplies: 2})

	mustStep(t, n, s, a, post("Solar grids", "body"), types.ActionCreatePost)
	mustStep(t, n, s, b, comment("P1", "solar batteries"), types.ActionComment)

	ev := mustStep(t, n, s, b, post("Solar grids", "again"), types.ActionUpvote)
	if ev.TargetID != "P1" {
		t.Fatalf("upvote target=%q, want P1", ev.TargetID)
	}
}

func TestNormalize_DuplicateTopic(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.Limits{MaxPosts: 2, MaxComments: 1, MaxReplies: 2})

	mustStep(t, n, s, a, post("Solar grids", "body"), types.ActionCreatePost)
	ev := mustStep(t, n, s, b, post("SOLAR grids!", "other body"), types.ActionUpvote)
	if ev.TargetID != "P1" {
		t.Fatalf("duplicate topic should upvote P1, got %+v", ev)
	}
	mustStep(t, n, s, a, post("Wind farms", "body"), types.ActionCreatePost)
	if s.Posts.Len() != 2 || !s.Posts.Has("P2") {
		t.Fatalf("posts=%v, want P1 and P2", s.Posts.All())
	}
}

func TestNormalize_CommentRules(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.DefaultLimits())

	mustDrop(t, n, s, a, comment("", "no post yet"))
	mustStep(t, n, s, a, post("Urban gardens transform neighborhoods", "body"), types.ActionCreatePost)
	mustDrop(t, n, s, b, comment("P1", ""))

	ev := mustStep(t, n, s, b, comment("P9", "Soil quality matters"), types.ActionComment)
	if ev.TargetID != "P1" {
		t.Fatalf("unknown target should fall back to latest post, got %q", ev.TargetID)
	}
	if want := "On the post about neighborhoods, Soil quality matters"; ev.Payload.Content != want {
		t.Fatalf("content=%q, want %q", ev.Payload.Content, want)
	}
	mustDrop(t, n, s, a, comment("P1", "one more"))
}

func TestNormalize_CommentKeywordPresent(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.DefaultLimits())
	mustStep(t, n, s, a, post("Urban gardens transform neighborhoods", "body"), types.ActionCreatePost)
	ev := mustStep(t, n, s, b, comment("P1", "NEIGHBORHOODS need shade"), types.ActionComment)
	if ev.Payload.Content != "NEIGHBORHOODS need shade" {
		t.Fatalf("content=%q, want unchanged", ev.Payload.Content)
	}
}

func TestNormalize_ReplyAnchoring(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.Limits{MaxPosts: 1, MaxComments: 1, MaxReplies: 5})
	mustStep(t, n, s, a, post("Solar grids", "body"), types.ActionCreatePost)
	mustStep(t, n, s, b, comment("P1", "solar batteries"), types.ActionComment)

	ev := mustStep(t, n, s, a, reply("C1", "Costs are high"), types.ActionReply)
	if want := "On your point about batteries, On solar, Costs are high"; ev.Payload.Content != want {
		t.Fatalf("content=%q, want %q", ev.Payload.Content, want)
	}
}

func TestNormalize_ReplySimilarity(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.Limits{MaxPosts: 1, MaxComments: 1, MaxReplies: 5})
	mustStep(t, n, s, a, post("Solar grids", "body"), types.ActionCreatePost)
	mustStep(t, n, s, b, comment("P1", "solar batteries"), types.ActionComment)
	mustStep(t, n, s, a, reply("C1", "On solar, batteries matter most"), types.ActionReply)

	ev := mustStep(t, n, s, b, reply("R1", "On solar, batteries matter most"), types.ActionReply)
	if want := "What’s a practical next step on solar for cities?"; ev.Payload.Content != want {
		t.Fatalf("content=%q, want %q", ev.Payload.Content, want)
	}
}

func TestNormalize_ReplyDiversify(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.Limits{MaxPosts: 1, MaxComments: 1, MaxReplies: 5})
	mustStep(t, n, s, a, post("Solar grids", "body"), types.ActionCreatePost)
	mustStep(t, n, s, b, comment("P1", "solar batteries"), types.ActionComment)
	mustStep(t, n, s, a, reply("", "solar batteries are key"), types.ActionReply)
	mustStep(t, n, s, b, reply("", "I think solar batteries cost"), types.ActionReply)
	mustStep(t, n, s, a, reply("", "solar batteries scale well"), types.ActionReply)

	ev := mustStep(t, n, s, b, reply("", "I think solar grids need batteries plus smarter demand response"), types.ActionReply)
	if want := "Building on that, I think solar grids need batteries plus smarter demand response"; ev.Payload.Content != want {
		t.Fatalf("content=%q, want %q", ev.Payload.Content, want)
	}
}

func TestNormalize_ModerateAndWrapup(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.DefaultLimits())

	mod := types.RawAction{
		Action:     types.ActionModerate,
		Moderation: &types.Moderation{TargetID: "P1", Reason: "Too risky", Rewrite: "Safer version"},
	}
	ev := mustStep(t, n, s, a, mod, types.ActionModerate)
	if ev.TargetID != "P1" || ev.Payload.Reason != "Too risky" || ev.Payload.Rewrite != "Safer version" {
		t.Fatalf("moderate event=%+v", ev)
	}
	mustDrop(t, n, s, a, types.RawAction{Action: types.ActionModerate})
	mustDrop(t, n, s, a, types.RawAction{Action: types.ActionWrapup})
	mustDrop(t, n, s, a, types.RawAction{Action: types.ActionRewrite})
}

func TestNormalize_DoesNotMutateState(t *testing.T) {
	n := NewNormalizer(nil)
	s := feed.NewState(feed.DefaultLimits())
	mustStep(t, n, s, a, post("Solar grids", "body"), types.ActionCreatePost)

	for _, raw := range []types.RawAction{upvote(), comment("P1", "x"), post("Other", "y")} {
		if _, ok := n.Normalize(raw, s, b); !ok {
			t.Fatalf("%s: expected an event", raw.Action)
		}
	}
	if s.Counters[feed.KindComment] != 0 || s.UpvotesUsed[b] != 0 || s.Comments.Len() != 0 {
		t.Fatalf("normalize wrote state: counters=%v upvotes=%v", s.Counters, s.UpvotesUsed)
	}
}
