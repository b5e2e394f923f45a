// Package events publishes domain events after their transaction commits.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope written to the broker.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	TenantID   int64     `json:"tenant_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// New wraps payload in an envelope with a fresh id.
func New(eventType string, tenantID int64, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

type logged struct {
	next   Publisher
	logger *slog.Logger
}

// Logged wraps next so delivery failures are logged instead of surfacing to
// callers whose transaction already committed.
func Logged(next Publisher, logger *slog.Logger) Publisher {
	if next == nil {
		return Nop{}
	}
	return logged{next: next, logger: logger}
}

func (l logged) Publish(ctx context.Context, event Event) error {
	if err := l.next.Publish(ctx, event); err != nil {
		if l.logger != nil {
			l.logger.Warn("publish event",
				slog.String("type", event.Type),
				slog.String("id", event.ID),
				slog.Int64("tenant_id", event.TenantID),
				slog.Any("error", err))
		}
	}
	return nil
}
