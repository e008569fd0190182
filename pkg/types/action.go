package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidAction is returned when agent output does not match the action schema.
var ErrInvalidAction = errors.New("invalid agent action")

// RawAction is the untrusted action an agent proposes for its turn.
type RawAction struct {
	Action     Action      `json:"action" validate:"required,oneof=CREATE_POST COMMENT REPLY UPVOTE MODERATE WRAPUP"`
	Title      string      `json:"title"`
	Content    string      `json:"content"`
	TargetID   string      `json:"target_id"`
	Vote       *Vote       `json:"vote" validate:"omitempty"`
	Moderation *Moderation `json:"moderation" validate:"omitempty"`
}

// Vote is the optional vote block of a RawAction.
type Vote struct {
	TargetID string `json:"target_id" validate:"required"`
	Delta    *int   `json:"delta"` // defaults to 1
}

// DeltaOrDefault returns the vote delta, 1 when omitted.
func (v *Vote) DeltaOrDefault() int {
	if v == nil || v.Delta == nil {
		return 1
	}
	return *v.Delta
}

// Moderation is the optional moderation block of a RawAction.
type Moderation struct {
	TargetID string `json:"target_id" validate:"required"`
	Reason   string `json:"reason"`
	Rewrite  string `json:"rewrite"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseRawAction decodes and validates agent output against the action schema.
// Any decode or validation failure wraps ErrInvalidAction.
func ParseRawAction(data []byte) (RawAction, error) {
	var action RawAction
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return action, fmt.Errorf("%w: empty response", ErrInvalidAction)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(&action); err != nil {
		return RawAction{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	if dec.More() {
		return RawAction{}, fmt.Errorf("%w: trailing data after JSON object", ErrInvalidAction)
	}
	if err := validate.Struct(action); err != nil {
		return RawAction{}, fmt.Errorf("%w: %s", ErrInvalidAction, describeValidation(err))
	}
	return action, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
