package redis

import (
	"context"
	"time"

	"poseidon/internal/rebalancer"
	"poseidon/pkg/errors"
)

const (
	statusListKey   = "poseidon:status"
	statusKeyPrefix = "poseidon:status:"
)

// StatusStore publishes supervisor status snapshots to Redis so dashboards
// can read live state without touching the process. Implements
// rebalancer.StatusSink.
type StatusStore struct {
	client *Client
	ttl    time.Duration
}

// NewStatusStore creates a status store with the given snapshot TTL.
func NewStatusStore(client *Client, ttl time.Duration) *StatusStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &StatusStore{client: client, ttl: ttl}
}

// SaveStatus writes the full snapshot list plus one key per position. TTL
// bounds staleness: a crashed process leaves no zombie statuses behind.
func (s *StatusStore) SaveStatus(ctx context.Context, statuses []rebalancer.PositionStatus) error {
	if err := s.client.Set(ctx, statusListKey, statuses, s.ttl); err != nil {
		return errors.Wrap(err, "failed to store status list")
	}

	for _, status := range statuses {
		key := statusKeyPrefix + status.PositionID
		if err := s.client.Set(ctx, key, status, s.ttl); err != nil {
			return errors.Wrapf(err, "failed to store status for %s", status.PositionID)
		}
	}

	return nil
}
