package checkpoint

import (
	"context"
	"database/sql"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/transitops/movi/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "checkpoints.db")
	db, err := sql.Open("sqlite", dbPath+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLite(db)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	return store
}

func sampleState(threadID string) *domain.ThreadState {
	state := domain.NewThreadState(threadID)
	state.CurrentPage = "busDashboard"
	state.Append(
		domain.SystemMessage("you are movi"),
		domain.UserMessage("remove the vehicle from trip_009"),
		domain.Message{
			Role: domain.RoleAssistant,
			ToolCalls: []domain.ToolCall{
				{ID: "call_1", Name: "remove_vehicle_from_trip", Arguments: map[string]any{"trip_id": "trip_009"}},
			},
		},
		domain.ToolMessage("call_1", "SAFETY INTERLOCK: trip is 60% booked."),
		domain.AssistantMessage("Do you want to proceed?"),
	)
	trip := "trip_009"
	high := domain.RiskHigh
	warning := "trip is 60% booked"
	state.TargetTripID = &trip
	state.ConsequenceRisk = &high
	state.ConsequenceMessage = &warning
	state.AwaitingConfirmation = true
	return state
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestSQLite(t)
	ctx := context.Background()

	saved := sampleState("thread-1")
	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "thread-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a checkpoint, got nil")
	}

	if !reflect.DeepEqual(loaded.Messages, saved.Messages) {
		t.Errorf("messages mismatch:\n got %+v\nwant %+v", loaded.Messages, saved.Messages)
	}
	if loaded.CurrentPage != "busDashboard" {
		t.Errorf("current_page = %q", loaded.CurrentPage)
	}
	if loaded.TargetTripID == nil || *loaded.TargetTripID != "trip_009" {
		t.Errorf("target_trip_id = %v", loaded.TargetTripID)
	}
	if loaded.ConsequenceRisk == nil || *loaded.ConsequenceRisk != domain.RiskHigh {
		t.Errorf("consequence_risk = %v", loaded.ConsequenceRisk)
	}
	if !loaded.AwaitingConfirmation {
		t.Error("awaiting_confirmation should survive the round trip")
	}
}

func TestSQLiteLoadAbsentThread(t *testing.T) {
	t.Parallel()

	store := newTestSQLite(t)

	state, err := store.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state != nil {
		t.Errorf("expected nil for an absent thread, got %+v", state)
	}
}

func TestSQLiteSaveIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newTestSQLite(t)
	ctx := context.Background()

	state := sampleState("thread-1")
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	first, err := store.Load(ctx, "thread-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Replaying load -> save with no mutation is a no-op.
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	second, err := store.Load(ctx, "thread-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !reflect.DeepEqual(first.Messages, second.Messages) ||
		first.AwaitingConfirmation != second.AwaitingConfirmation {
		t.Errorf("replayed save changed observable state:\n got %+v\nwant %+v", second, first)
	}
}

func TestSQLiteLastWriterWins(t *testing.T) {
	t.Parallel()

	store := newTestSQLite(t)
	ctx := context.Background()

	state := sampleState("thread-1")
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	state.AwaitingConfirmation = false
	state.TargetTripID = nil
	state.Append(domain.AssistantMessage("Okay, operation cancelled."))
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "thread-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.AwaitingConfirmation {
		t.Error("expected the later write to win")
	}
	if loaded.TargetTripID != nil {
		t.Errorf("target_trip_id should be cleared, got %v", *loaded.TargetTripID)
	}
	if last, _ := loaded.LastMessage(); last.Content != "Okay, operation cancelled." {
		t.Errorf("unexpected last message: %+v", last)
	}
}

func TestSQLiteDelete(t *testing.T) {
	t.Parallel()

	store := newTestSQLite(t)
	ctx := context.Background()

	if err := store.Save(ctx, sampleState("thread-1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, "thread-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	state, err := store.Load(ctx, "thread-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state != nil {
		t.Error("expected nil after delete")
	}
}

func TestSQLitePruneOlderThan(t *testing.T) {
	t.Parallel()

	store := newTestSQLite(t)
	ctx := context.Background()

	if err := store.Save(ctx, sampleState("stale")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// Backdate the row so it falls behind the cutoff.
	if _, err := store.db.ExecContext(ctx,
		`UPDATE thread_checkpoints SET updated_at = ? WHERE thread_id = 'stale'`,
		time.Now().Add(-48*time.Hour).Unix()); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}
	if err := store.Save(ctx, sampleState("fresh")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	pruned, err := store.PruneOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneOlderThan failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned thread, got %d", pruned)
	}

	if state, _ := store.Load(ctx, "stale"); state != nil {
		t.Error("stale thread should be gone")
	}
	if state, _ := store.Load(ctx, "fresh"); state == nil {
		t.Error("fresh thread should survive")
	}
}
