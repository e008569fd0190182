// Package feed holds the simulated feed: its mutable state, the reducer that
// applies committed events to it, and a sharded JSONL store for the event log.
package feed

import (
	"fmt"
	"sort"
)

// Kind identifies a record collection and its identifier prefix.
type Kind string

const (
	KindPost    Kind = "post"
	KindComment Kind = "comment"
	KindReply   Kind = "reply"
)

func (k Kind) prefix() string {
	switch k {
	case KindPost:
		return "P"
	case KindComment:
		return "C"
	case KindReply:
		return "R"
	}
	return "X"
}

// Record is a post, comment or reply.
type Record struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Title    string `json:"title,omitempty"`
	Content  string `json:"content"`
	Author   string `json:"author"`
}

// Collection is an insertion-ordered set of records addressed by id.
type Collection struct {
	order []string
	byID  map[string]*Record
}

func newCollection() *Collection {
	return &Collection{byID: make(map[string]*Record)}
}

// Add inserts or replaces a record. Replacing keeps the original position.
func (c *Collection) Add(r *Record) {
	if _, ok := c.byID[r.ID]; !ok {
		c.order = append(c.order, r.ID)
	}
	c.byID[r.ID] = r
}

// Get returns the record with id, or nil.
func (c *Collection) Get(id string) *Record {
	if id == "" {
		return nil
	}
	return c.byID[id]
}

// Has reports whether id is present.
func (c *Collection) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Len returns the number of records.
func (c *Collection) Len() int {
	return len(c.order)
}

// Last returns the most recently inserted record, or nil.
func (c *Collection) Last() *Record {
	if len(c.order) == 0 {
		return nil
	}
	return c.byID[c.order[len(c.order)-1]]
}

// Recent returns up to n of the newest records, oldest first.
func (c *Collection) Recent(n int) []*Record {
	start := len(c.order) - n
	if start < 0 {
		start = 0
	}
	out := make([]*Record, 0, len(c.order)-start)
	for _, id := range c.order[start:] {
		out = append(out, c.byID[id])
	}
	return out
}

// All returns every record in insertion order.
func (c *Collection) All() []*Record {
	return c.Recent(len(c.order))
}

// Limits are the per-run caps of the simulation.
type Limits struct {
	MaxPosts    int `json:"max_posts" yaml:"max_posts"`
	MaxComments int `json:"max_comments" yaml:"max_comments"`
	MaxReplies  int `json:"max_replies" yaml:"max_replies"`
}

// DefaultLimits returns one post, one comment and two replies.
func DefaultLimits() Limits {
	return Limits{MaxPosts: 1, MaxComments: 1, MaxReplies: 2}
}

// State is the mutable feed of one simulation run. Only Reduce writes it.
type State struct {
	Limits Limits

	Posts    *Collection
	Comments *Collection
	Replies  *Collection

	Votes    map[string]int
	Counters map[Kind]int
	Topics   map[string]struct{}

	// PostKeyword anchors comments and replies to the post topic.
	PostKeyword string

	LastCommentAgent string
	LastReplyAgent   string

	// ReplyAgentByTarget maps a replied-to node to the agent that replied to it.
	ReplyAgentByTarget   map[string]string
	LastReplyTextByAgent map[string]string
	UpvotesUsed          map[string]int
}

// NewState returns an empty feed with the given limits.
func NewState(limits Limits) *State {
	return &State{
		Limits:               limits,
		Posts:                newCollection(),
		Comments:             newCollection(),
		Replies:              newCollection(),
		Votes:                make(map[string]int),
		Counters:             map[Kind]int{KindPost: 0, KindComment: 0, KindReply: 0},
		Topics:               make(map[string]struct{}),
		ReplyAgentByTarget:   make(map[string]string),
		LastReplyTextByAgent: make(map[string]string),
		UpvotesUsed:          make(map[string]int),
	}
}

// NextID returns the identifier the next record of kind will get. It does not
// advance the counter; Reduce does when the record is inserted.
func (s *State) NextID(kind Kind) string {
	return fmt.Sprintf("%s%d", kind.prefix(), s.Counters[kind]+1)
}

// LatestPost returns the most recent post, or nil.
func (s *State) LatestPost() *Record {
	return s.Posts.Last()
}

// LastComment returns the most recent comment, or nil.
func (s *State) LastComment() *Record {
	return s.Comments.Last()
}

// LastReply returns the most recent reply, or nil.
func (s *State) LastReply() *Record {
	return s.Replies.Last()
}

// ThreadHead returns the node the next reply attaches to: the latest reply,
// or the latest comment when no reply exists yet.
func (s *State) ThreadHead() *Record {
	if r := s.Replies.Last(); r != nil {
		return r
	}
	return s.Comments.Last()
}

// CommentsRemaining returns how many comments may still be added.
func (s *State) CommentsRemaining() int {
	return max(0, s.Limits.MaxComments-s.Comments.Len())
}

// HasTopic reports whether a post with this topic key already exists.
func (s *State) HasTopic(key string) bool {
	_, ok := s.Topics[key]
	return ok
}

// SortedTopics returns the used topic keys in lexical order.
func (s *State) SortedTopics() []string {
	out := make([]string, 0, len(s.Topics))
	for t := range s.Topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// RecentReplyTexts returns the content of up to n newest replies.
func (s *State) RecentReplyTexts(n int) []string {
	recent := s.Replies.Recent(n)
	out := make([]string, 0, len(recent))
	for _, r := range recent {
		out = append(out, r.Content)
	}
	return out
}
