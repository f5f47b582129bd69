package rebalancer

import (
	"context"
	"time"

	"poseidon/pkg/logger"
)

// StatusSink receives periodic supervisor status snapshots. Satisfied by
// the Redis status store.
type StatusSink interface {
	SaveStatus(ctx context.Context, statuses []PositionStatus) error
}

// StatusReporter periodically publishes the supervisor's status so external
// dashboards can read live state without poking the process.
type StatusReporter struct {
	supervisor *Supervisor
	sink       StatusSink
	interval   time.Duration
	log        *logger.Logger
}

// NewStatusReporter creates a reporter. interval defaults to 10s.
func NewStatusReporter(supervisor *Supervisor, sink StatusSink, interval time.Duration) *StatusReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &StatusReporter{
		supervisor: supervisor,
		sink:       sink,
		interval:   interval,
		log:        logger.Get().With("component", "status_reporter"),
	}
}

// Run publishes status snapshots until ctx is cancelled.
func (r *StatusReporter) Run(ctx context.Context) error {
	r.log.Infow("Status reporter started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Status reporter stopped")
			return ctx.Err()

		case <-ticker.C:
			if err := r.sink.SaveStatus(ctx, r.supervisor.Status()); err != nil {
				r.log.Warnw("Failed to publish status snapshot", "error", err)
			}
		}
	}
}
