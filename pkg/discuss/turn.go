package discuss

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/cpunion/molt/pkg/llm"
)

// Intent is what a discussion turn does.
type Intent string

const (
	IntentProposeTopic    Intent = "PROPOSE_TOPIC"
	IntentCritique        Intent = "CRITIQUE"
	IntentShortlist       Intent = "SHORTLIST"
	IntentDecide          Intent = "DECIDE"
	IntentDraft           Intent = "DRAFT"
	IntentRevise          Intent = "REVISE"
	IntentSimulateComment Intent = "SIMULATE_COMMENT"
	IntentReply           Intent = "REPLY"
	IntentWrapup          Intent = "WRAPUP"
)

// Artifact kinds.
const (
	KindPost   = "post"
	KindThread = "thread"
	KindReply  = "reply"
)

// TurnType is the only accepted Turn.Type.
const TurnType = "DISCUSS"

// Candidate is a proposed topic.
type Candidate struct {
	Topic    string `json:"topic"`
	Angle    string `json:"angle"`
	Platform string `json:"platform" validate:"oneof=x linkedin instagram threads"`
}

// Artifact is a drafted post, thread or reply.
type Artifact struct {
	Kind     string `json:"kind" validate:"oneof=post thread reply"`
	Platform string `json:"platform" validate:"oneof=x linkedin instagram threads"`
	Content  string `json:"content"`
}

// Turn is one agent message.
type Turn struct {
	Type       string      `json:"type" validate:"eq=DISCUSS"`
	Intent     Intent      `json:"intent" validate:"oneof=PROPOSE_TOPIC CRITIQUE SHORTLIST DECIDE DRAFT REVISE SIMULATE_COMMENT REPLY WRAPUP"`
	Message    string      `json:"message"`
	Candidates []Candidate `json:"candidates" validate:"dive"`
	Chosen     *Candidate  `json:"chosen"`
	Artifacts  []Artifact  `json:"artifacts" validate:"dive"`
	Stop       bool        `json:"stop"`
}

var validate = validator.New()

// ParseTurn decodes and validates a model response. A missing type means DISCUSS.
func ParseTurn(text string) (*Turn, error) {
	t := &Turn{Type: TurnType}
	if err := json.Unmarshal([]byte(llm.StripCodeFence(text)), t); err != nil {
		return nil, err
	}
	if err := validate.Struct(t); err != nil {
		return nil, err
	}
	if t.Candidates == nil {
		t.Candidates = []Candidate{}
	}
	if t.Artifacts == nil {
		t.Artifacts = []Artifact{}
	}
	return t, nil
}
