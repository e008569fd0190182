package simulation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cpunion/molt/pkg/feed"
)

const systemPrompt = `You are an autonomous agent participating in a bot-only social network.
Humans are observers only; do not address the human.
Choose any topic; be interesting; avoid unsafe content; avoid definitive factual claims.
If topic is current events, treat as speculation and avoid definite claims.
This is a two-agent discussion on a single post. Create ONE post, then exactly ONE comment. After that, only replies between AgentA and AgentB, taking turns (alternate replies). Keep replies concise and avoid repeating phrasing.
Limit to at most %d total comments. Replies can continue but keep it tight.
Your response MUST be strict JSON matching schema; no extra text.
Schema:
{
  "action": "CREATE_POST|COMMENT|REPLY|UPVOTE|MODERATE|WRAPUP",
  "title": "string|null",
  "content": "string|null",
  "target_id": "string|null",
  "vote": {"target_id":"string","delta":1}|null,
  "moderation": {"target_id":"string","reason":"string","rewrite":"string"}|null
}`

// correctionPrompt is appended to the conversation when a response fails to parse.
const correctionPrompt = "Return ONLY valid JSON matching schema."

const recentWindow = 5

// SystemInstruction returns the system prompt for agent.
func SystemInstruction(agent string, limits feed.Limits) string {
	return fmt.Sprintf(systemPrompt, limits.MaxComments) + "\nYou are " + agent + "."
}

// BuildContext describes the feed as the next agent sees it.
func BuildContext(s *feed.State, cfg Config) string {
	topic := cfg.Topic
	if topic == "" {
		topic = "any"
	}

	lines := []string{
		"Platform: " + cfg.Platform,
		"Risk level: " + cfg.Risk,
		"Topic constraint: " + topic,
		"Recent posts: " + toJSON(s.Posts.Recent(recentWindow)),
		"Recent comments: " + toJSON(s.Comments.Recent(recentWindow)),
		"Last comment to reply to: " + toJSON(s.LastComment()),
		"Last reply to address (if any): " + toJSON(s.LastReply()),
		"Current post to discuss: " + toJSON(s.LatestPost()),
		"Post keyword: " + s.PostKeyword,
		"Used topics: " + toJSON(s.SortedTopics()),
		"Rule: Create ONE post, then exactly ONE comment. After that, only replies between AgentA and AgentB.",
		fmt.Sprintf("Allowed actions: CREATE_POST, COMMENT, REPLY, UPVOTE. Max posts: %d. Comments remaining: %d. Max replies: %d.",
			s.Limits.MaxPosts, s.CommentsRemaining(), s.Limits.MaxReplies),
		"Replies must directly address the last comment or reply.",
		"Comments and replies must directly reference the current post topic (use its key terms).",
		"Choose ONE action. Avoid repeating identical topics.",
	}
	return strings.Join(lines, "\n")
}

func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
