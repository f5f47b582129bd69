package rebalance

import (
	"context"

	"poseidon/internal/domain/position"
)

// Repository defines the interface for the rebalance journal
type Repository interface {
	CreateEvent(ctx context.Context, event *Event) error
	ListEventsByPosition(ctx context.Context, positionID string, limit int) ([]*Event, error)
	ListRecentEvents(ctx context.Context, limit int) ([]*Event, error)

	SaveSnapshot(ctx context.Context, snapshot *position.Position) error
	LatestSnapshot(ctx context.Context, positionID string) (*position.Position, error)
}
