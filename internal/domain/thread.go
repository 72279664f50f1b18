package domain

import (
	"time"
)

// Risk classifies the consequence of a pending dangerous capability call.
type Risk string

const (
	// RiskLow means the call may be dispatched without confirmation.
	RiskLow Risk = "LOW"
	// RiskHigh means the call is paused until the operator confirms.
	RiskHigh Risk = "HIGH"
)

// ThreadState is the full mutable state of one conversation thread. It is
// loaded from the checkpoint store at the start of every turn, mutated only
// by the orchestrator during that turn, and persisted back at the end.
type ThreadState struct {
	ThreadID string    `json:"thread_id"`
	Messages []Message `json:"messages"`

	// CurrentPage is caller-supplied UI context, passed through unchanged.
	CurrentPage string `json:"current_page,omitempty"`

	// TargetTripID identifies the trip targeted by the most recently
	// proposed dangerous call; cleared once resolved.
	TargetTripID *string `json:"target_trip_id,omitempty"`

	ConsequenceRisk    *Risk   `json:"consequence_risk,omitempty"`
	ConsequenceMessage *string `json:"consequence_message,omitempty"`

	// AwaitingConfirmation is true exactly when the orchestrator suspended
	// pending an explicit yes/no for TargetTripID.
	AwaitingConfirmation bool `json:"awaiting_confirmation"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewThreadState creates the empty state for a fresh thread.
func NewThreadState(threadID string) *ThreadState {
	now := time.Now().UTC()
	return &ThreadState{
		ThreadID:  threadID,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds messages to the thread history in call order.
func (s *ThreadState) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
}

// LastMessage returns the most recent message, or a zero Message when the
// thread is empty.
func (s *ThreadState) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Clone returns a deep copy so callers cannot alias the stored state.
func (s *ThreadState) Clone() *ThreadState {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	for i, m := range cp.Messages {
		if len(m.ToolCalls) > 0 {
			calls := make([]ToolCall, len(m.ToolCalls))
			copy(calls, m.ToolCalls)
			cp.Messages[i].ToolCalls = calls
		}
	}
	if s.TargetTripID != nil {
		v := *s.TargetTripID
		cp.TargetTripID = &v
	}
	if s.ConsequenceRisk != nil {
		v := *s.ConsequenceRisk
		cp.ConsequenceRisk = &v
	}
	if s.ConsequenceMessage != nil {
		v := *s.ConsequenceMessage
		cp.ConsequenceMessage = &v
	}
	return &cp
}
