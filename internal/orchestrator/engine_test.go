package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/transitops/movi/internal/capability"
	"github.com/transitops/movi/internal/checkpoint"
	"github.com/transitops/movi/internal/domain"
)

// scriptedGateway returns its decisions in order and fails when exhausted.
type scriptedGateway struct {
	mu        sync.Mutex
	decisions []domain.Message
	calls     int
	err       error
}

func (g *scriptedGateway) Decide(_ context.Context, _ []domain.Message, _ []capability.Definition) (domain.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return domain.Message{}, g.err
	}
	if g.calls >= len(g.decisions) {
		return domain.Message{}, fmt.Errorf("scripted gateway exhausted after %d calls", g.calls)
	}
	d := g.decisions[g.calls]
	g.calls++
	return d, nil
}

// loopingGateway always requests another capability call.
type loopingGateway struct {
	calls int
}

func (g *loopingGateway) Decide(_ context.Context, _ []domain.Message, _ []capability.Definition) (domain.Message, error) {
	g.calls++
	return domain.Message{
		Role: domain.RoleAssistant,
		ToolCalls: []domain.ToolCall{
			{ID: fmt.Sprintf("call_%d", g.calls), Name: "list_trips", Arguments: map[string]any{}},
		},
	}, nil
}

// stubRisk serves booking metrics from a map; absent trips return nil.
type stubRisk struct {
	metrics map[string]float64
	err     error
	queries int
}

func (s *stubRisk) BookingPercentage(_ context.Context, tripID string) (*float64, error) {
	s.queries++
	if s.err != nil {
		return nil, s.err
	}
	pct, ok := s.metrics[tripID]
	if !ok {
		return nil, nil
	}
	return &pct, nil
}

// testHarness bundles the engine with its observable stubs.
type testHarness struct {
	engine       *Engine
	gateway      *scriptedGateway
	risk         *stubRisk
	store        *checkpoint.MemoryStore
	removedTrips *[]string
	listedTrips  *int
}

func newHarness(t *testing.T, gateway *scriptedGateway, risk *stubRisk) *testHarness {
	t.Helper()

	var removed []string
	var listed int
	registry := capability.NewRegistry()
	caps := []capability.Capability{
		{
			Definition: capability.Definition{Name: "list_trips", Parameters: capability.Schema{Type: "object"}},
			Handler: func(_ context.Context, _ map[string]any) (string, error) {
				listed++
				return `[{"trip_id":"trip_009","display_name":"Bulk - 00:01"}]`, nil
			},
		},
		{
			Definition: capability.Definition{Name: capability.RemoveVehicleFromTrip, Parameters: capability.Schema{Type: "object"}},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				tripID, _ := args["trip_id"].(string)
				removed = append(removed, tripID)
				return fmt.Sprintf("Vehicle removed from trip %s.", tripID), nil
			},
		},
		{
			Definition: capability.Definition{Name: "broken_tool", Parameters: capability.Schema{Type: "object"}},
			Handler: func(_ context.Context, _ map[string]any) (string, error) {
				return "", errors.New("backend unavailable")
			},
		},
	}
	for _, c := range caps {
		if err := registry.Register(c); err != nil {
			t.Fatalf("register capability: %v", err)
		}
	}

	store := checkpoint.NewMemory()
	engine := NewEngine(gateway, registry, store, risk, nil, nil, Options{MaxToolRounds: 4})
	return &testHarness{
		engine:       engine,
		gateway:      gateway,
		risk:         risk,
		store:        store,
		removedTrips: &removed,
		listedTrips:  &listed,
	}
}

func dangerousDecision(callID, tripID string) domain.Message {
	return domain.Message{
		Role: domain.RoleAssistant,
		ToolCalls: []domain.ToolCall{
			{ID: callID, Name: capability.RemoveVehicleFromTrip, Arguments: map[string]any{"trip_id": tripID}},
		},
	}
}

func TestPlainReplyEndsTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &scriptedGateway{
		decisions: []domain.Message{domain.AssistantMessage("Hello, how can I help?")},
	}, &stubRisk{})

	result, err := h.engine.Turn(context.Background(), TurnRequest{ThreadID: "t1", Message: "hi"})
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if result.Reply != "Hello, how can I help?" {
		t.Errorf("unexpected reply: %q", result.Reply)
	}
	if result.AwaitingConfirmation {
		t.Error("plain reply should not await confirmation")
	}

	state, err := h.store.Load(context.Background(), "t1")
	if err != nil || state == nil {
		t.Fatalf("expected persisted state, got %v, %v", state, err)
	}
	if state.Messages[0].Role != domain.RoleSystem {
		t.Errorf("first message should be the system prompt, got role %s", state.Messages[0].Role)
	}
	if got := state.Messages[1]; got.Role != domain.RoleUser || got.Content != "hi" {
		t.Errorf("second message should be the user message, got %+v", got)
	}
}

func TestHighRiskPausesForConfirmation(t *testing.T) {
	t.Parallel()

	// Scenario A: removal of a trip with a 60% booking metric.
	h := newHarness(t, &scriptedGateway{
		decisions: []domain.Message{dangerousDecision("call_1", "trip_009")},
	}, &stubRisk{metrics: map[string]float64{"trip_009": 60}})

	result, err := h.engine.Turn(context.Background(), TurnRequest{ThreadID: "t1", Message: "remove the vehicle from trip_009"})
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if !result.AwaitingConfirmation {
		t.Fatal("expected turn to suspend awaiting confirmation")
	}
	if !strings.Contains(result.Reply, "60% booked") {
		t.Errorf("reply should carry the warning, got %q", result.Reply)
	}
	if len(*h.removedTrips) != 0 {
		t.Fatalf("dangerous handler must not run on a HIGH risk turn, removed %v", *h.removedTrips)
	}

	state, _ := h.store.Load(context.Background(), "t1")
	if state.ConsequenceRisk == nil || *state.ConsequenceRisk != domain.RiskHigh {
		t.Errorf("expected HIGH risk recorded, got %v", state.ConsequenceRisk)
	}
	if state.TargetTripID == nil || *state.TargetTripID != "trip_009" {
		t.Errorf("expected target trip recorded, got %v", state.TargetTripID)
	}

	// The paused call still received a tool message tagged with its ID.
	var interlock *domain.Message
	for i := range state.Messages {
		if state.Messages[i].ToolCallID == "call_1" {
			interlock = &state.Messages[i]
		}
	}
	if interlock == nil {
		t.Fatal("expected a tool message for the paused call")
	}
	if !strings.Contains(interlock.Content, "SAFETY INTERLOCK") {
		t.Errorf("unexpected interlock message: %q", interlock.Content)
	}

	// Invariant: awaiting implies the last stored message is the prompt.
	last, _ := state.LastMessage()
	if last.Role != domain.RoleAssistant || !strings.Contains(last.Content, "Do you want to proceed?") {
		t.Errorf("last message should be the confirmation prompt, got %+v", last)
	}
}

func TestDangerousCallGatesWholeBatch(t *testing.T) {
	t.Parallel()

	// A dangerous call arriving alongside safe calls must gate everything:
	// a HIGH risk pauses the whole batch, not just the dangerous member.
	h := newHarness(t, &scriptedGateway{
		decisions: []domain.Message{
			{
				Role: domain.RoleAssistant,
				ToolCalls: []domain.ToolCall{
					{ID: "call_1", Name: "list_trips", Arguments: map[string]any{}},
					{ID: "call_2", Name: capability.RemoveVehicleFromTrip, Arguments: map[string]any{"trip_id": "trip_009"}},
				},
			},
		},
	}, &stubRisk{metrics: map[string]float64{"trip_009": 60}})

	result, err := h.engine.Turn(context.Background(), TurnRequest{ThreadID: "t1", Message: "list trips and remove the vehicle from trip_009"})
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if !result.AwaitingConfirmation {
		t.Fatal("expected the mixed batch to suspend awaiting confirmation")
	}
	if !strings.Contains(result.Reply, "60% booked") {
		t.Errorf("reply should carry the warning, got %q", result.Reply)
	}
	if got := *h.listedTrips; got != 0 {
		t.Errorf("safe calls must not dispatch while the batch is gated, list_trips ran %d times", got)
	}
	if got := *h.removedTrips; len(got) != 0 {
		t.Errorf("dangerous handler must not run on a HIGH risk turn, removed %v", got)
	}

	state, _ := h.store.Load(context.Background(), "t1")
	if state.TargetTripID == nil || *state.TargetTripID != "trip_009" {
		t.Errorf("expected target trip recorded, got %v", state.TargetTripID)
	}
}

func TestAffirmativeReplyDispatchesExactlyOnce(t *testing.T) {
	t.Parallel()

	// Scenario A then B on the same thread.
	h := newHarness(t, &scriptedGateway{
		decisions: []domain.Message{
			dangerousDecision("call_1", "trip_009"),
			dangerousDecision("call_2", "trip_009"),
			domain.AssistantMessage("Done. The vehicle was removed from trip_009."),
		},
	}, &stubRisk{metrics: map[string]float64{"trip_009": 60}})

	ctx := context.Background()
	if _, err := h.engine.Turn(ctx, TurnRequest{ThreadID: "t1", Message: "remove the vehicle from trip_009"}); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	riskQueriesAfterPause := h.risk.queries

	result, err := h.engine.Turn(ctx, TurnRequest{ThreadID: "t1", Message: "yes, proceed"})
	if err != nil {
		t.Fatalf("confirmation turn failed: %v", err)
	}
	if result.AwaitingConfirmation {
		t.Error("confirmation turn should not suspend again")
	}
	if !strings.Contains(result.Reply, "removed") {
		t.Errorf("reply should describe the removal, got %q", result.Reply)
	}
	if got := *h.removedTrips; len(got) != 1 || got[0] != "trip_009" {
		t.Fatalf("dangerous handler should run exactly once for trip_009, got %v", got)
	}
	// The recovery path trusts the confirmation: no re-evaluation.
	if h.risk.queries != riskQueriesAfterPause {
		t.Errorf("consequence evaluation must not re-run after confirmation, queries went %d -> %d",
			riskQueriesAfterPause, h.risk.queries)
	}

	state, _ := h.store.Load(ctx, "t1")
	if state.AwaitingConfirmation {
		t.Error("awaiting_confirmation should be cleared")
	}
	if state.TargetTripID != nil {
		t.Errorf("target trip should be cleared once resolved, got %v", *state.TargetTripID)
	}
}

func TestNegativeReplyCancels(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &scriptedGateway{
		decisions: []domain.Message{dangerousDecision("call_1", "trip_009")},
	}, &stubRisk{metrics: map[string]float64{"trip_009": 60}})

	ctx := context.Background()
	if _, err := h.engine.Turn(ctx, TurnRequest{ThreadID: "t1", Message: "remove the vehicle from trip_009"}); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	result, err := h.engine.Turn(ctx, TurnRequest{ThreadID: "t1", Message: "no thanks"})
	if err != nil {
		t.Fatalf("cancellation turn failed: %v", err)
	}
	if result.AwaitingConfirmation {
		t.Error("cancellation should clear awaiting_confirmation")
	}
	if result.Reply != "Okay, operation cancelled." {
		t.Errorf("unexpected cancellation reply: %q", result.Reply)
	}
	if len(*h.removedTrips) != 0 {
		t.Fatalf("dangerous handler must never run after a negative reply, removed %v", *h.removedTrips)
	}

	state, _ := h.store.Load(ctx, "t1")
	if state.AwaitingConfirmation || state.TargetTripID != nil {
		t.Errorf("cancellation should reset the interlock, got awaiting=%v target=%v",
			state.AwaitingConfirmation, state.TargetTripID)
	}
}

func TestZeroRiskDispatchesImmediately(t *testing.T) {
	t.Parallel()

	// Scenario C: booking metric is zero.
	h := newHarness(t, &scriptedGateway{
		decisions: []domain.Message{
			dangerousDecision("call_1", "trip_002"),
			domain.AssistantMessage("Vehicle removed."),
		},
	}, &stubRisk{metrics: map[string]float64{"trip_002": 0}})

	result, err := h.engine.Turn(context.Background(), TurnRequest{ThreadID: "t1", Message: "remove the vehicle from trip_002"})
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if result.AwaitingConfirmation {
		t.Error("zero risk should not suspend the turn")
	}
	if got := *h.removedTrips; len(got) != 1 || got[0] != "trip_002" {
		t.Fatalf("expected immediate dispatch for trip_002, got %v", got)
	}
}

func TestMissingRiskRowFailsOpen(t *testing.T) {
	t.Parallel()

	// Scenario D: no risk data for the trip.
	h := newHarness(t, &scriptedGateway{
		decisions: []domain.Message{
			dangerousDecision("call_1", "trip_unknown"),
			domain.AssistantMessage("Vehicle removed."),
		},
	}, &stubRisk{})

	result, err := h.engine.Turn(context.Background(), TurnRequest{ThreadID: "t1", Message: "remove it"})
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if result.AwaitingConfirmation {
		t.Error("missing risk data should classify LOW")
	}
	if len(*h.removedTrips) != 1 {
		t.Fatalf("expected dispatch under the fail-open policy, got %v", *h.removedTrips)
	}
}

func TestRiskLookupErrorFailsOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &scriptedGateway{
		decisions: []domain.Message{
			dangerousDecision("call_1", "trip_009"),
			domain.AssistantMessage("Vehicle removed."),
		},
	}, &stubRisk{err: errors.New("risk source unreachable")})

	result, err := h.engine.Turn(context.Background(), TurnRequest{ThreadID: "t1", Message: "remove it"})
	if err != nil {
		t.Fatalf("lookup failure must not abort the turn: %v", err)
	}
	if result.AwaitingConfirmation {
		t.Error("lookup failure should classify LOW, not suspend")
	}
	if len(*h.removedTrips) != 1 {
		t.Fatalf("expected dispatch under the fail-open policy, got %v", *h.removedTrips)
	}
}

func TestToolErrorIsAbsorbedIntoConversation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &scriptedGateway{
		decisions: []domain.Message{
			{
				Role: domain.RoleAssistant,
				ToolCalls: []domain.ToolCall{
					{ID: "call_1", Name: "broken_tool", Arguments: map[string]any{}},
				},
			},
			domain.AssistantMessage("The backend seems to be down, sorry."),
		},
	}, &stubRisk{})

	result, err := h.engine.Turn(context.Background(), TurnRequest{ThreadID: "t1", Message: "check trips"})
	if err != nil {
		t.Fatalf("tool errors must not abort the turn: %v", err)
	}
	if !strings.Contains(result.Reply, "down") {
		t.Errorf("reasoning step should see and explain the failure, got %q", result.Reply)
	}

	state, _ := h.store.Load(context.Background(), "t1")
	found := false
	for _, m := range state.Messages {
		if m.ToolCallID == "call_1" && strings.Contains(m.Content, "backend unavailable") {
			found = true
		}
	}
	if !found {
		t.Error("expected the tool message to record the handler error")
	}
}

func TestLoopCeiling(t *testing.T) {
	t.Parallel()

	gateway := &loopingGateway{}
	registry := capability.NewRegistry()
	err := registry.Register(capability.Capability{
		Definition: capability.Definition{Name: "list_trips", Parameters: capability.Schema{Type: "object"}},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return "[]", nil
		},
	})
	if err != nil {
		t.Fatalf("register capability: %v", err)
	}

	store := checkpoint.NewMemory()
	engine := NewEngine(gateway, registry, store, &stubRisk{}, nil, nil, Options{MaxToolRounds: 4})

	_, err = engine.Turn(context.Background(), TurnRequest{ThreadID: "t1", Message: "loop forever"})
	if !errors.Is(err, ErrLoopCeiling) {
		t.Fatalf("expected ErrLoopCeiling, got %v", err)
	}
	if gateway.calls > 6 {
		t.Errorf("gateway should be bounded by the ceiling, got %d calls", gateway.calls)
	}

	// A failed turn persists nothing.
	state, loadErr := store.Load(context.Background(), "t1")
	if loadErr != nil {
		t.Fatalf("load failed: %v", loadErr)
	}
	if state != nil {
		t.Error("failed turn must not persist state")
	}
}

func TestGatewayErrorPersistsNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &scriptedGateway{err: errors.New("connection refused")}, &stubRisk{})

	_, err := h.engine.Turn(context.Background(), TurnRequest{ThreadID: "t1", Message: "hi"})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}

	state, _ := h.store.Load(context.Background(), "t1")
	if state != nil {
		t.Error("gateway failure must not persist state")
	}
}

func TestCurrentPagePassesThrough(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &scriptedGateway{
		decisions: []domain.Message{domain.AssistantMessage("ok")},
	}, &stubRisk{})

	_, err := h.engine.Turn(context.Background(), TurnRequest{
		ThreadID: "t1", Message: "hi", CurrentPage: "busDashboard",
	})
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}

	state, _ := h.store.Load(context.Background(), "t1")
	if state.CurrentPage != "busDashboard" {
		t.Errorf("expected current_page to pass through, got %q", state.CurrentPage)
	}
}

func TestIsAffirmative(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"yes", true},
		{"Yes, proceed", true},
		{"go ahead", true},
		{"CONFIRM", true},
		{"no thanks", false},
		{"cancel that", false},
		{"", false},
		// Documented limitation of the fixed vocabulary.
		{"yes but not now", true},
	}
	for _, tt := range tests {
		if got := isAffirmative(tt.text); got != tt.want {
			t.Errorf("isAffirmative(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
