// Package types defines the wire and event types shared by the feed simulation.
package types

// Action identifies what an agent proposed or what an event records.
type Action string

const (
	ActionCreatePost Action = "CREATE_POST"
	ActionComment    Action = "COMMENT"
	ActionReply      Action = "REPLY"
	ActionUpvote     Action = "UPVOTE"
	ActionModerate   Action = "MODERATE"
	ActionRewrite    Action = "REWRITE" // synthetic, emitted after MODERATE
	ActionWrapup     Action = "WRAPUP"  // stop signal, never an event
	ActionError      Action = "ERROR"   // failed turn
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreatePost, ActionComment, ActionReply, ActionUpvote,
		ActionModerate, ActionRewrite, ActionWrapup, ActionError:
		return true
	}
	return false
}

// Participants and synthetic authors.
const (
	AgentA      = "AgentA"
	AgentB      = "AgentB"
	AgentSystem = "SYSTEM"
	AgentError  = "ERROR"
)

// AgentForTurn returns the acting agent for a zero-based turn index.
func AgentForTurn(turn int) string {
	if turn%2 == 0 {
		return AgentA
	}
	return AgentB
}

// Event is a committed, immutable record of something that happened in the feed.
// It is the unit of both the audit log and replay.
type Event struct {
	Agent    string  `json:"agent"`
	Action   Action  `json:"action"`
	TargetID string  `json:"target_id,omitempty"`
	Payload  Payload `json:"payload"`
}

// Payload carries the per-action fields of an event. Only the keys relevant
// to the action are set, so the serialized form matches the stored
// payload_json shapes:
//
//	CREATE_POST  post_id, title, content
//	COMMENT      comment_id, post_id, content
//	REPLY        reply_id, parent_id, content
//	UPVOTE       delta
//	MODERATE     target_id, reason, rewrite
//	REWRITE      rewrite
//	ERROR        error
type Payload struct {
	PostID    string `json:"post_id,omitempty"`
	CommentID string `json:"comment_id,omitempty"`
	ReplyID   string `json:"reply_id,omitempty"`
	ParentID  string `json:"parent_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content,omitempty"`
	Delta     *int   `json:"delta,omitempty"`
	TargetID  string `json:"target_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Rewrite   string `json:"rewrite,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DeltaOr returns the vote delta, or def when the payload has none.
func (p Payload) DeltaOr(def int) int {
	if p.Delta == nil {
		return def
	}
	return *p.Delta
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
