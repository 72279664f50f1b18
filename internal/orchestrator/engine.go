// Package orchestrator drives one conversation turn through reasoning,
// consequence evaluation, confirmation, and tool dispatch, with durable
// per-thread state in the checkpoint store.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/transitops/movi/internal/audit"
	"github.com/transitops/movi/internal/capability"
	"github.com/transitops/movi/internal/checkpoint"
	"github.com/transitops/movi/internal/domain"
	"github.com/transitops/movi/internal/reasoning"
)

// DefaultSystemPrompt instructs the reasoning service how to behave as the
// Movi transport manager.
const DefaultSystemPrompt = `You are 'Movi', an expert transport manager AI.

CRITICAL RULES:
1. ID LOOKUP: If the user gives you a trip name (e.g. "Bulk - 00:01"), you MUST first call list_todays_trips to find its trip_id. NEVER guess the ID. NEVER use the name as the ID.
2. SAFETY CHECK: Once you have the trip_id, call remove_vehicle_from_trip. Do NOT check bookings yourself. The system will intercept and check safety.
3. VEHICLE LISTING: When the user asks for available buses or vehicles, call list_unassigned_vehicles, then summarise ID, license plate, type, and capacity.`

const (
	defaultMaxToolRounds = 8

	// confirmedMarker tags the synthetic instruction appended after an
	// affirmative reply. The reasoning step trusts it for exactly one
	// dispatch and skips re-evaluation.
	confirmedMarker = "User confirmed safety check"

	cancellationReply = "Okay, operation cancelled."
)

// affirmatives is the fixed confirmation vocabulary. Free-text confirmation
// parsing is inherently ambiguous ("yes but not now" still matches); the
// limitation is deliberate and documented rather than hidden behind intent
// parsing.
var affirmatives = []string{"yes", "proceed", "confirm", "go ahead", "do it"}

// RiskSource reads the booking metric used to classify a pending dangerous
// call. A nil metric means the trip is not tracked.
type RiskSource interface {
	BookingPercentage(ctx context.Context, tripID string) (*float64, error)
}

// Auditor records turn events. The orchestrator never blocks on it.
type Auditor interface {
	Log(event audit.Event)
}

// Options configure an Engine. Zero values fall back to defaults.
type Options struct {
	SystemPrompt        string
	DangerousCapability string
	MaxToolRounds       int
}

// Engine is the orchestration state machine. All collaborators are explicit
// constructor arguments; there are no process-wide singletons.
type Engine struct {
	gateway     reasoning.Gateway
	registry    *capability.Registry
	checkpoints checkpoint.Store
	risk        RiskSource
	auditor     Auditor
	logger      *slog.Logger

	systemPrompt  string
	dangerousName string
	maxToolRounds int

	locks *threadLocks
}

// NewEngine creates an orchestration engine.
func NewEngine(gateway reasoning.Gateway, registry *capability.Registry, checkpoints checkpoint.Store, risk RiskSource, auditor Auditor, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.DangerousCapability == "" {
		opts.DangerousCapability = capability.RemoveVehicleFromTrip
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = defaultMaxToolRounds
	}
	return &Engine{
		gateway:       gateway,
		registry:      registry,
		checkpoints:   checkpoints,
		risk:          risk,
		auditor:       auditor,
		logger:        logger,
		systemPrompt:  opts.SystemPrompt,
		dangerousName: opts.DangerousCapability,
		maxToolRounds: opts.MaxToolRounds,
		locks:         newThreadLocks(),
	}
}

// TurnRequest is one incoming user message for a thread.
type TurnRequest struct {
	ThreadID    string
	Message     string
	CurrentPage string
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	Reply                string
	AwaitingConfirmation bool
}

// Turn processes one user message. The thread's lock is held from load to
// save; state is persisted only when the turn reaches its end, so a failed
// turn leaves the prior checkpoint untouched.
func (e *Engine) Turn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if req.ThreadID == "" {
		return TurnResult{}, fmt.Errorf("turn request must have a thread_id")
	}

	unlock := e.locks.acquire(req.ThreadID)
	defer unlock()

	state, err := e.checkpoints.Load(ctx, req.ThreadID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("%w: load thread %s: %w", ErrCheckpoint, req.ThreadID, err)
	}
	if state == nil {
		state = domain.NewThreadState(req.ThreadID)
	}
	if req.CurrentPage != "" {
		state.CurrentPage = req.CurrentPage
	}

	e.audit(audit.Event{
		ThreadID:  req.ThreadID,
		EventType: audit.EventUserMessage,
		Role:      string(domain.RoleUser),
		Content:   req.Message,
	})

	if err := e.runTurn(ctx, state, req.Message); err != nil {
		e.audit(audit.Event{
			ThreadID:  req.ThreadID,
			EventType: audit.EventTurnFailed,
			Error:     err.Error(),
		})
		return TurnResult{}, err
	}

	if err := e.checkpoints.Save(ctx, state); err != nil {
		return TurnResult{}, fmt.Errorf("%w: save thread %s: %w", ErrCheckpoint, req.ThreadID, err)
	}

	reply := lastAssistantContent(state)
	e.audit(audit.Event{
		ThreadID:  req.ThreadID,
		EventType: audit.EventAssistantReply,
		Role:      string(domain.RoleAssistant),
		Content:   reply,
	})

	return TurnResult{
		Reply:                reply,
		AwaitingConfirmation: state.AwaitingConfirmation,
	}, nil
}

// runTurn walks the state machine for one turn, mutating state in place.
func (e *Engine) runTurn(ctx context.Context, state *domain.ThreadState, userText string) error {
	// start: the interlock recovery path runs before anything else when the
	// previous turn suspended awaiting confirmation.
	if state.AwaitingConfirmation {
		return e.resumeFromConfirmation(ctx, state, userText)
	}

	// First turn of a thread gets the fixed system instruction before the
	// user's first message.
	if len(state.Messages) == 0 || state.Messages[0].Role != domain.RoleSystem {
		state.Messages = append([]domain.Message{domain.SystemMessage(e.systemPrompt)}, state.Messages...)
	}
	state.Append(domain.UserMessage(userText))

	return e.reasonAndDispatch(ctx, state)
}

// resumeFromConfirmation handles the turn after an interlock pause. An
// affirmative reply is trusted for exactly one dispatch; consequence
// evaluation is never re-run on this path.
func (e *Engine) resumeFromConfirmation(ctx context.Context, state *domain.ThreadState, userText string) error {
	state.Append(domain.UserMessage(userText))

	if !isAffirmative(userText) {
		state.Append(domain.AssistantMessage(cancellationReply))
		state.AwaitingConfirmation = false
		state.TargetTripID = nil
		state.ConsequenceRisk = nil
		state.ConsequenceMessage = nil
		e.audit(audit.Event{
			ThreadID:  state.ThreadID,
			EventType: audit.EventCancelled,
			Content:   userText,
		})
		return nil
	}

	tripID := ""
	if state.TargetTripID != nil {
		tripID = *state.TargetTripID
	}
	instruction := fmt.Sprintf(
		"%s. Execute the removal of the vehicle from trip %s now.",
		confirmedMarker, tripID)
	state.Append(domain.SystemMessage(instruction))

	state.AwaitingConfirmation = false
	state.ConsequenceRisk = nil
	state.ConsequenceMessage = nil

	return e.reasonAndDispatch(ctx, state)
}

// reasonAndDispatch runs the reasoning/dispatch loop until the decision has
// no capability calls, the interlock suspends the turn, or the loop ceiling
// trips.
func (e *Engine) reasonAndDispatch(ctx context.Context, state *domain.ThreadState) error {
	defs := e.registry.Definitions()

	for round := 0; ; round++ {
		decision, err := e.gateway.Decide(ctx, state.Messages, defs)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrGateway, err)
		}
		decision.Role = domain.RoleAssistant
		state.Append(decision)

		if !decision.HasToolCalls() {
			return nil
		}

		if dangerous, ok := e.dangerousCall(decision); ok && !justConfirmed(state) {
			suspended, err := e.evaluateConsequence(ctx, state, dangerous)
			if err != nil {
				return err
			}
			if suspended {
				return nil
			}
		}

		// A dangerous call alongside safe calls gates the whole batch; by
		// this point either the batch is safe, risk was LOW, or the user
		// just confirmed.
		if round >= e.maxToolRounds {
			return fmt.Errorf("%w: %d rounds for thread %s", ErrLoopCeiling, round, state.ThreadID)
		}
		e.dispatchCalls(ctx, state, decision.ToolCalls)
	}
}

// dangerousCall returns the dangerous capability call in the decision, if any.
func (e *Engine) dangerousCall(decision domain.Message) (domain.ToolCall, bool) {
	for _, call := range decision.ToolCalls {
		if call.Name == e.dangerousName {
			return call, true
		}
	}
	return domain.ToolCall{}, false
}

// evaluateConsequence classifies the pending dangerous call. It returns true
// when the turn suspended awaiting confirmation. Lookup failures and missing
// rows classify LOW: blocking every removal on infrastructure flakiness or
// untracked trips is worse than the residual risk.
func (e *Engine) evaluateConsequence(ctx context.Context, state *domain.ThreadState, call domain.ToolCall) (bool, error) {
	tripID, _ := call.Arguments["trip_id"].(string)
	if tripID == "" {
		low := domain.RiskLow
		state.ConsequenceRisk = &low
		state.TargetTripID = nil
		return false, nil
	}
	state.TargetTripID = &tripID

	pct, err := e.risk.BookingPercentage(ctx, tripID)
	if err != nil {
		e.logger.Warn("risk lookup failed, defaulting to LOW",
			"thread_id", state.ThreadID, "trip_id", tripID, "error", err)
		pct = nil
	}

	if pct == nil || *pct <= 0 {
		low := domain.RiskLow
		state.ConsequenceRisk = &low
		return false, nil
	}

	high := domain.RiskHigh
	warning := fmt.Sprintf(
		"WAIT: this trip is %.0f%% booked. Removing the vehicle will cancel these bookings. Do you want to proceed?", *pct)
	state.ConsequenceRisk = &high
	state.ConsequenceMessage = &warning

	// Every capability call eventually gets a matching tool message, even
	// when it is paused instead of dispatched.
	state.Append(domain.ToolMessage(call.ID, fmt.Sprintf(
		"SAFETY INTERLOCK: trip is %.0f%% booked. Action paused pending user confirmation.", *pct)))

	// confirming: the warning becomes the turn's reply and the thread
	// suspends until the user answers.
	state.Append(domain.AssistantMessage(warning))
	state.AwaitingConfirmation = true

	e.audit(audit.Event{
		ThreadID:   state.ThreadID,
		EventType:  audit.EventInterlock,
		Capability: call.Name,
		CallID:     call.ID,
		Content:    warning,
	})
	return true, nil
}

// dispatchCalls invokes every capability call in order and appends one tool
// message per call. Handler errors are recorded, not fatal: the next
// reasoning step sees and explains them.
func (e *Engine) dispatchCalls(ctx context.Context, state *domain.ThreadState, calls []domain.ToolCall) {
	for _, call := range calls {
		result, err := e.registry.Invoke(ctx, call.Name, call.Arguments)
		if err != nil {
			e.logger.Warn("capability invocation failed",
				"thread_id", state.ThreadID, "capability", call.Name, "error", err)
			result = fmt.Sprintf("Error executing %s: %v", call.Name, err)
		}
		state.Append(domain.ToolMessage(call.ID, result))

		if call.Name == e.dangerousName && err == nil {
			// The pending dangerous action is resolved.
			state.TargetTripID = nil
		}
		e.audit(audit.Event{
			ThreadID:   state.ThreadID,
			EventType:  audit.EventToolDispatch,
			Capability: call.Name,
			CallID:     call.ID,
			Content:    result,
		})
	}
}

// justConfirmed reports whether the latest decision directly follows the
// synthetic confirmation instruction, meaning the user approved this exact
// action earlier in the same turn.
func justConfirmed(state *domain.ThreadState) bool {
	n := len(state.Messages)
	if n < 2 {
		return false
	}
	prev := state.Messages[n-2]
	return prev.Role == domain.RoleSystem && strings.Contains(prev.Content, confirmedMarker)
}

// isAffirmative matches the reply against the fixed confirmation vocabulary.
func isAffirmative(text string) bool {
	lower := strings.ToLower(text)
	for _, word := range affirmatives {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func lastAssistantContent(state *domain.ThreadState) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == domain.RoleAssistant {
			return state.Messages[i].Content
		}
	}
	return ""
}

func (e *Engine) audit(event audit.Event) {
	if e.auditor != nil {
		e.auditor.Log(event)
	}
}
