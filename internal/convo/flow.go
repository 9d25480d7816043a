package convo

import (
	"context"
	"maps"
	"time"

	"github.com/Titusvirous/ToxicInfoBot/internal/tg"
)

// FlowID names a multi-step conversation.
type FlowID string

const (
	FlowCreditGrant FlowID = "credit_grant"
	FlowBroadcast   FlowID = "broadcast"
)

// Scratch is the data a flow collects between steps.
type Scratch map[string]string

// Clone returns a copy that a step may modify freely.
func (s Scratch) Clone() Scratch {
	if s == nil {
		return Scratch{}
	}
	return maps.Clone(s)
}

// FlowState is the persisted position of one user inside a flow.
type FlowState struct {
	Flow      FlowID    `json:"flow"`
	Step      int       `json:"step"`
	Scratch   Scratch   `json:"scratch,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OutcomeKind tells the engine what to do after a step ran.
type OutcomeKind int

const (
	OutcomeAdvance OutcomeKind = iota
	OutcomeComplete
	OutcomeReject
	OutcomeCancel
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAdvance:
		return "advance"
	case OutcomeComplete:
		return "complete"
	case OutcomeReject:
		return "reject"
	case OutcomeCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Outcome is the result of a step.
type Outcome struct {
	Kind    OutcomeKind
	Scratch Scratch
	Reply   string
}

// Advance moves to the next step with the given scratch.
func Advance(s Scratch) Outcome { return Outcome{Kind: OutcomeAdvance, Scratch: s} }

// Complete ends the flow and runs its completion with s.
func Complete(s Scratch) Outcome { return Outcome{Kind: OutcomeComplete, Scratch: s} }

// Reject keeps the user on the current step and shows text.
func Reject(text string) Outcome { return Outcome{Kind: OutcomeReject, Reply: text} }

// Cancel aborts the flow.
func Cancel() Outcome { return Outcome{Kind: OutcomeCancel} }

// Step is one prompt/answer exchange of a flow.
type Step struct {
	// Prompt renders the Markdown prompt shown when the step is entered.
	Prompt func(s Scratch) string
	// Handle inspects the user's answer. A returned error leaves the flow
	// on the same step.
	Handle func(ctx context.Context, msg tg.Message, s Scratch) (Outcome, error)
}

// Flow is a named ordered list of steps with a completion action.
type Flow struct {
	ID       FlowID
	Steps    []Step
	Complete func(ctx context.Context, msg tg.Message, s Scratch) error
}
