// Package audit writes per-thread NDJSON records of every turn so
// conversations can be replayed and reviewed after the fact.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one audit record. Events for a thread are appended to
// <dir>/<thread_id>.ndjson in arrival order.
type Event struct {
	ThreadID   string `json:"thread_id"`
	Timestamp  string `json:"ts"`
	EventType  string `json:"event_type"`
	Role       string `json:"role,omitempty"`
	Content    string `json:"content,omitempty"`
	Capability string `json:"capability,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Event types recorded by the orchestrator.
const (
	EventUserMessage    = "user_message"
	EventAssistantReply = "assistant_reply"
	EventToolDispatch   = "tool_dispatch"
	EventInterlock      = "interlock_pause"
	EventCancelled      = "confirmation_declined"
	EventTurnFailed     = "turn_failed"
)

// Config controls the audit logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Logger appends events asynchronously. Log never blocks the turn; when the
// queue is full the event is dropped and counted.
type Logger struct {
	cfg     Config
	log     *slog.Logger
	queue   chan Event
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	dropped int64
}

// NewLogger creates an audit logger and starts its writer goroutine. A
// disabled config returns a logger whose Log is a no-op.
func NewLogger(cfg Config, log *slog.Logger) (*Logger, error) {
	if log == nil {
		log = slog.Default()
	}
	l := &Logger{
		cfg:  cfg,
		log:  log,
		done: make(chan struct{}),
	}
	if !cfg.Enabled {
		return l, nil
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
		l.cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	l.queue = make(chan Event, l.cfg.QueueSize)
	go l.run()
	return l, nil
}

// Log enqueues an event for writing.
func (l *Logger) Log(event Event) {
	if !l.cfg.Enabled {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case l.queue <- event:
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		l.log.Warn("audit queue full, dropping event",
			"thread_id", event.ThreadID, "event_type", event.EventType)
	}
}

// Dropped returns the number of events lost to a full queue.
func (l *Logger) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close stops the writer after draining queued events.
func (l *Logger) Close() error {
	if !l.cfg.Enabled {
		return nil
	}
	l.once.Do(func() {
		close(l.queue)
		<-l.done
	})
	return nil
}

func (l *Logger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.log.Warn("failed to write audit event",
				"thread_id", event.ThreadID, "error", err)
		}
	}
}

func (l *Logger) write(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	// Base() keeps hostile thread IDs from escaping the audit directory.
	path := filepath.Join(l.cfg.Dir, filepath.Base(event.ThreadID)+".ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
