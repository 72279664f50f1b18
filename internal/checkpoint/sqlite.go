package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/transitops/movi/internal/domain"
	"github.com/transitops/movi/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite. Messages are stored as an opaque
// JSON log next to the small fixed set of scalar fields, matching the
// checkpoint contract's view of the state.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writes to avoid SQLITE_BUSY under churn
}

// NewSQLite creates a SQLite-backed checkpoint store on an existing database
// handle. The handle is shared with the fleet store; Close does not close it.
func NewSQLite(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize checkpoint schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS thread_checkpoints (
		thread_id TEXT PRIMARY KEY,
		messages_json TEXT NOT NULL,
		current_page TEXT NOT NULL DEFAULT '',
		target_trip_id TEXT,
		consequence_risk TEXT,
		consequence_message TEXT,
		awaiting_confirmation INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_thread_checkpoints_updated ON thread_checkpoints(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load retrieves the state for a thread.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) (*domain.ThreadState, error) {
	query := `
		SELECT thread_id, messages_json, current_page, target_trip_id,
		       consequence_risk, consequence_message, awaiting_confirmation,
		       created_at, updated_at
		FROM thread_checkpoints WHERE thread_id = ?`

	row := s.db.QueryRowContext(ctx, query, threadID)

	var state domain.ThreadState
	var messagesJSON string
	var targetTripID, risk, warning sql.NullString
	var awaiting int
	var createdAt, updatedAt int64

	err := row.Scan(
		&state.ThreadID, &messagesJSON, &state.CurrentPage, &targetTripID,
		&risk, &warning, &awaiting, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint row: %w", err)
	}

	if err := json.Unmarshal([]byte(messagesJSON), &state.Messages); err != nil {
		return nil, fmt.Errorf("decode messages for thread %s: %w", threadID, err)
	}
	if targetTripID.Valid {
		state.TargetTripID = &targetTripID.String
	}
	if risk.Valid {
		r := domain.Risk(risk.String)
		state.ConsequenceRisk = &r
	}
	if warning.Valid {
		state.ConsequenceMessage = &warning.String
	}
	state.AwaitingConfirmation = awaiting != 0
	state.CreatedAt = time.Unix(createdAt, 0).UTC()
	state.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &state, nil
}

// Save persists the full state for a thread.
func (s *SQLiteStore) Save(ctx context.Context, state *domain.ThreadState) error {
	if state == nil || state.ThreadID == "" {
		return fmt.Errorf("checkpoint state must have a thread_id")
	}

	messagesJSON, err := json.Marshal(state.Messages)
	if err != nil {
		return fmt.Errorf("encode messages for thread %s: %w", state.ThreadID, err)
	}

	var targetTripID, risk, warning any
	if state.TargetTripID != nil {
		targetTripID = *state.TargetTripID
	}
	if state.ConsequenceRisk != nil {
		risk = string(*state.ConsequenceRisk)
	}
	if state.ConsequenceMessage != nil {
		warning = *state.ConsequenceMessage
	}
	awaiting := 0
	if state.AwaitingConfirmation {
		awaiting = 1
	}

	now := time.Now().UTC()
	createdAt := state.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO thread_checkpoints (
			thread_id, messages_json, current_page, target_trip_id,
			consequence_risk, consequence_message, awaiting_confirmation,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			messages_json = excluded.messages_json,
			current_page = excluded.current_page,
			target_trip_id = excluded.target_trip_id,
			consequence_risk = excluded.consequence_risk,
			consequence_message = excluded.consequence_message,
			awaiting_confirmation = excluded.awaiting_confirmation,
			updated_at = excluded.updated_at`

	s.mu.Lock()
	defer s.mu.Unlock()

	err = shared.RetryOnConflict(3, 50*time.Millisecond, func() error {
		_, execErr := s.db.ExecContext(ctx, query,
			state.ThreadID, string(messagesJSON), state.CurrentPage, targetTripID,
			risk, warning, awaiting, createdAt.Unix(), now.Unix(),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("save checkpoint for thread %s: %w", state.ThreadID, err)
	}
	return nil
}

// Delete removes the checkpoint for a thread.
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM thread_checkpoints WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("delete checkpoint for thread %s: %w", threadID, err)
	}
	return nil
}

// PruneOlderThan removes checkpoints idle for longer than ttl.
func (s *SQLiteStore) PruneOlderThan(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM thread_checkpoints WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	return res.RowsAffected()
}

// Close is a no-op; the database handle is owned by the caller.
func (s *SQLiteStore) Close() error {
	return nil
}
