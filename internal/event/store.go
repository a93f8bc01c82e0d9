package event

import (
	"context"
	"log/slog"
)

// Store persists and retrieves events.
type Store interface {
	// Append persists one or more events atomically.
	Append(ctx context.Context, events ...Event) error
	// Load returns all events for an aggregate, ordered by version.
	Load(ctx context.Context, aggregateID string) ([]Event, error)
	// LoadByType returns events filtered by type, oldest first.
	LoadByType(ctx context.Context, eventType Type) ([]Event, error)
}

// Record appends the events and logs instead of failing: the audit trail is
// best effort and must not undo a committed mutation.
func Record(ctx context.Context, s Store, logger *slog.Logger, events ...Event) {
	if len(events) == 0 {
		return
	}
	if err := s.Append(ctx, events...); err != nil {
		logger.ErrorContext(ctx, "failed to append events",
			slog.String("aggregate_id", events[0].AggregateID),
			slog.String("type", string(events[0].Type)),
			slog.Any("error", err),
		)
	}
}
