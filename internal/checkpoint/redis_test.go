package checkpoint

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisFromClient(client)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestRedis(t)
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
	if !loaded.AwaitingConfirmation {
		t.Error("awaiting_confirmation should survive the round trip")
	}
	if loaded.TargetTripID == nil || *loaded.TargetTripID != "trip_009" {
		t.Errorf("target_trip_id = %v", loaded.TargetTripID)
	}
}

func TestRedisLoadAbsentThread(t *testing.T) {
	t.Parallel()

	store := newTestRedis(t)

	state, err := store.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state != nil {
		t.Errorf("expected nil for an absent thread, got %+v", state)
	}
}

func TestRedisDelete(t *testing.T) {
	t.Parallel()

	store := newTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, sampleState("thread-1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, "thread-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if state, _ := store.Load(ctx, "thread-1"); state != nil {
		t.Error("expected nil after delete")
	}
}

func TestRedisPruneOlderThan(t *testing.T) {
	t.Parallel()

	store := newTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, sampleState("stale")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// Backdate the index entry so the thread falls behind the cutoff.
	store.client.ZAdd(ctx, store.indexKey(), redis.Z{
		Score:  float64(time.Now().Add(-48 * time.Hour).Unix()),
		Member: "stale",
	})
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
