package feed

import (
	"strconv"
	"strings"

	"github.com/cpunion/molt/pkg/similarity"
	"github.com/cpunion/molt/pkg/types"
)

// Reduce applies a committed event to the state. It never fails: events are
// normalized before they get here, and anything it cannot place is ignored.
func Reduce(s *State, ev types.Event) {
	p := ev.Payload
	switch ev.Action {
	case types.ActionCreatePost:
		if p.PostID == "" {
			return
		}
		s.Posts.Add(&Record{ID: p.PostID, Title: p.Title, Content: p.Content, Author: ev.Agent})
		s.Votes[p.PostID] = 0
		s.advance(KindPost, p.PostID)
		if key := similarity.NormalizeTopic(p.Title, p.Content); key != "" {
			s.Topics[key] = struct{}{}
		}
		source := p.Title
		if source == "" {
			source = p.Content
		}
		s.PostKeyword = similarity.ExtractKeyword(source)

	case types.ActionComment:
		if p.CommentID == "" {
			return
		}
		s.Comments.Add(&Record{ID: p.CommentID, ParentID: p.PostID, Content: p.Content, Author: ev.Agent})
		s.Votes[p.CommentID] = 0
		s.advance(KindComment, p.CommentID)
		s.LastCommentAgent = ev.Agent

	case types.ActionReply:
		if p.ReplyID == "" {
			return
		}
		s.Replies.Add(&Record{ID: p.ReplyID, ParentID: p.ParentID, Content: p.Content, Author: ev.Agent})
		s.Votes[p.ReplyID] = 0
		s.advance(KindReply, p.ReplyID)
		s.LastReplyAgent = ev.Agent
		if ev.Agent != "" {
			s.ReplyAgentByTarget[p.ParentID] = ev.Agent
			if p.Content != "" {
				s.LastReplyTextByAgent[ev.Agent] = p.Content
			}
		}

	case types.ActionUpvote:
		if ev.TargetID == "" {
			return
		}
		s.Votes[ev.TargetID] += p.DeltaOr(1)
		if ev.Agent != "" {
			s.UpvotesUsed[ev.Agent]++
		}

	case types.ActionModerate, types.ActionRewrite, types.ActionError:
		// Audit only.
	}
}

// advance moves the id counter of kind past id.
func (s *State) advance(kind Kind, id string) {
	n, err := strconv.Atoi(strings.TrimPrefix(id, kind.prefix()))
	if err != nil {
		s.Counters[kind]++
		return
	}
	if n > s.Counters[kind] {
		s.Counters[kind] = n
	}
}

// Replay reduces events, in order, into a fresh state.
func Replay(limits Limits, events []types.Event) *State {
	s := NewState(limits)
	for _, ev := range events {
		Reduce(s, ev)
	}
	return s
}
