// Package protocol turns the actions agents propose into protocol-compliant
// feed events. Proposals that cannot legally apply are redirected to a
// different action or dropped; neither case is an error.
package protocol

import (
	"log/slog"
	"strings"

	"github.com/cpunion/molt/pkg/feed"
	"github.com/cpunion/molt/pkg/similarity"
	"github.com/cpunion/molt/pkg/types"
)

// FallbackReply is used when a redirected reply carries no content.
const FallbackReply = "I agree with your point."

// Normalizer applies the feed protocol to raw actions. It reads the state but
// never writes it; the caller reduces the returned event.
type Normalizer struct {
	Logger *slog.Logger
}

// NewNormalizer returns a Normalizer logging redirects and drops to logger.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{Logger: logger}
}

// Normalize converts a raw action proposed by agent into at most one event.
// The rules are evaluated in priority order; the order is observable.
func (n *Normalizer) Normalize(action types.RawAction, s *feed.State, agent string) (types.Event, bool) {
	// Once a comment exists upvotes never land on the thread; they become replies.
	if action.Action == types.ActionUpvote && s.LastComment() != nil {
		return n.replyFallback(action, s, agent, "upvote after comment")
	}

	switch action.Action {
	case types.ActionCreatePost:
		return n.createPost(action, s, agent)
	case types.ActionComment:
		return n.comment(action, s, agent)
	case types.ActionReply:
		return n.reply(action, s, agent)
	case types.ActionUpvote:
		target := s.LatestPost()
		if action.Vote != nil {
			return n.upvote(s, agent, action.Vote.TargetID, action.Vote.DeltaOrDefault())
		}
		if target == nil {
			return n.drop(agent, action.Action, "no post to upvote")
		}
		return n.upvote(s, agent, target.ID, 1)
	case types.ActionModerate:
		if action.Moderation == nil {
			return n.drop(agent, action.Action, "missing moderation block")
		}
		m := action.Moderation
		return types.Event{
			Agent:    agent,
			Action:   types.ActionModerate,
			TargetID: m.TargetID,
			Payload:  types.Payload{TargetID: m.TargetID, Reason: m.Reason, Rewrite: m.Rewrite},
		}, true
	case types.ActionWrapup:
		// Handled by the turn loop.
		return types.Event{}, false
	}
	return n.drop(agent, action.Action, "unsupported action")
}

func (n *Normalizer) createPost(action types.RawAction, s *feed.State, agent string) (types.Event, bool) {
	if s.Posts.Len() >= s.Limits.MaxPosts {
		post := s.LatestPost()
		if post == nil {
			return n.drop(agent, action.Action, "post cap reached with no post")
		}
		if s.CommentsRemaining() > 0 && action.Content != "" {
			n.Logger.Debug("redirect post to comment", "agent", agent, "post", post.ID)
			return commentEvent(s, agent, post.ID, action.Content), true
		}
		if s.LastComment() != nil {
			if ev, ok := n.replyFallback(action, s, agent, "post cap reached"); ok {
				return ev, true
			}
		}
		return n.upvote(s, agent, post.ID, 1)
	}

	if key := similarity.NormalizeTopic(action.Title, action.Content); key != "" && s.HasTopic(key) {
		post := s.LatestPost()
		if post == nil {
			return n.drop(agent, action.Action, "duplicate topic")
		}
		if s.LastComment() != nil {
			if ev, ok := n.replyFallback(action, s, agent, "duplicate topic"); ok {
				return ev, true
			}
		}
		return n.upvote(s, agent, post.ID, 1)
	}

	id := s.NextID(feed.KindPost)
	return types.Event{
		Agent:    agent,
		Action:   types.ActionCreatePost,
		TargetID: id,
		Payload:  types.Payload{PostID: id, Title: action.Title, Content: action.Content},
	}, true
}

func (n *Normalizer) comment(action types.RawAction, s *feed.State, agent string) (types.Event, bool) {
	if s.CommentsRemaining() <= 0 {
		return n.drop(agent, action.Action, "comment cap reached")
	}
	post := s.Posts.Get(action.TargetID)
	if post == nil {
		post = s.LatestPost()
	}
	if post == nil || action.Content == "" {
		return n.drop(agent, action.Action, "no post or empty content")
	}

	content := action.Content
	source := post.Title
	if source == "" {
		source = post.Content
	}
	if key := similarity.ExtractKeyword(source); !mentions(content, key) {
		content = "On the post about " + key + ", " + content
	}
	return commentEvent(s, agent, post.ID, content), true
}

func (n *Normalizer) reply(action types.RawAction, s *feed.State, agent string) (types.Event, bool) {
	head := s.ThreadHead()
	if head == nil || action.Content == "" {
		return n.drop(agent, action.Action, "no thread or empty content")
	}
	if s.Replies.Len() >= s.Limits.MaxReplies {
		return n.drop(agent, action.Action, "reply cap reached")
	}
	if reason := replyBlocked(s, head, agent); reason != "" {
		return n.drop(agent, action.Action, reason)
	}

	postKey := s.PostKeyword
	if postKey == "" {
		var title string
		if p := s.LatestPost(); p != nil {
			title = p.Title
		}
		postKey = similarity.ExtractKeyword(title)
	}
	lastKey := similarity.ExtractKeyword(head.Content)

	content := action.Content
	if !mentions(content, postKey) {
		content = "On " + postKey + ", " + content
	}
	if !mentions(content, lastKey) {
		content = "On your point about " + lastKey + ", " + content
	}
	if !mentions(content, postKey) {
		content = "On " + postKey + ", how do you see this evolving?"
	}
	for _, prev := range s.RecentReplyTexts(2) {
		if similarity.TooSimilar(content, prev) {
			content = similarity.ShortFollowup(firstNonEmpty(postKey, lastKey, "this"))
			break
		}
	}
	content = similarity.Diversify(content, agent, s.LastReplyTextByAgent, s.Replies.Len())

	return replyEvent(s, agent, head.ID, content), true
}

// replyFallback redirects an action into a reply on the thread head. It does
// not consult the reply cap, but it never lets an agent answer itself.
func (n *Normalizer) replyFallback(action types.RawAction, s *feed.State, agent, why string) (types.Event, bool) {
	head := s.ThreadHead()
	if head == nil {
		return n.drop(agent, action.Action, "no thread for reply redirect")
	}
	if reason := replyBlocked(s, head, agent); reason != "" {
		return n.drop(agent, action.Action, reason)
	}

	content := action.Content
	if content == "" {
		content = FallbackReply
	}
	if last := s.LastReply(); last != nil && similarity.TooSimilar(content, last.Content) {
		content = "Another angle: " + content
	}
	n.Logger.Debug("redirect to reply", "agent", agent, "action", action.Action, "reason", why, "parent", head.ID)
	return replyEvent(s, agent, head.ID, content), true
}

func (n *Normalizer) upvote(s *feed.State, agent, target string, delta int) (types.Event, bool) {
	if target == "" {
		return n.drop(agent, types.ActionUpvote, "no upvote target")
	}
	if s.UpvotesUsed[agent] >= 1 {
		return n.drop(agent, types.ActionUpvote, "upvote already used")
	}
	return types.Event{
		Agent:    agent,
		Action:   types.ActionUpvote,
		TargetID: target,
		Payload:  types.Payload{Delta: types.IntPtr(delta)},
	}, true
}

func (n *Normalizer) drop(agent string, action types.Action, reason string) (types.Event, bool) {
	n.Logger.Debug("action dropped", "agent", agent, "action", action, "reason", reason)
	return types.Event{}, false
}

// replyBlocked returns why agent may not reply to head, or "".
func replyBlocked(s *feed.State, head *feed.Record, agent string) string {
	switch {
	case head.Author == agent:
		return "agent authored the thread head"
	case s.LastReply() == nil && s.LastCommentAgent == agent:
		return "first reply must come from the other agent"
	case s.LastReplyAgent == agent:
		return "agent wrote the previous reply"
	case s.ReplyAgentByTarget[head.ID] == agent:
		return "agent already replied to this node"
	}
	return ""
}

func commentEvent(s *feed.State, agent, postID, content string) types.Event {
	id := s.NextID(feed.KindComment)
	return types.Event{
		Agent:    agent,
		Action:   types.ActionComment,
		TargetID: postID,
		Payload:  types.Payload{CommentID: id, PostID: postID, Content: content},
	}
}

func replyEvent(s *feed.State, agent, parentID, content string) types.Event {
	id := s.NextID(feed.KindReply)
	return types.Event{
		Agent:    agent,
		Action:   types.ActionReply,
		TargetID: parentID,
		Payload:  types.Payload{ReplyID: id, ParentID: parentID, Content: content},
	}
}

// mentions reports whether key occurs in text, ignoring case.
func mentions(text, key string) bool {
	return key == "" || strings.Contains(strings.ToLower(text), key)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
