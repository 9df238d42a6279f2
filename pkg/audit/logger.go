package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/rbacadmin/pkg/contextkeys"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

// Nop returns a Logger that discards everything
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Log(context.Context, *Event) error { return nil }
func (nopLogger) Close() error                      { return nil }

// stamp fills the ID, timestamp, request ID and actor from ctx when unset
func stamp(ctx context.Context, event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}
	if event.UserID == "" {
		event.UserID = contextkeys.GetUserID(ctx)
	}
}

// MemoryLogger keeps events in memory
type MemoryLogger struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemoryLogger creates an empty MemoryLogger
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log appends a copy of event
func (m *MemoryLogger) Log(ctx context.Context, event *Event) error {
	e := *event
	stamp(ctx, &e)
	m.mu.Lock()
	m.events = append(m.events, &e)
	m.mu.Unlock()
	return nil
}

// Events returns the recorded events, oldest first
func (m *MemoryLogger) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

// Close is a no-op
func (m *MemoryLogger) Close() error {
	return nil
}
