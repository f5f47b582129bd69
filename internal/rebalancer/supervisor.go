package rebalancer

import (
	"context"
	"sort"
	"sync"
	"time"

	"poseidon/internal/domain/rebalance"
	"poseidon/internal/metrics"
	"poseidon/pkg/errors"
	"poseidon/pkg/logger"
)

// Supervisor runs one orchestrator per managed position. Each slot owns its
// position exclusively; the registry map is the only shared state and sits
// behind a single mutex. A fault in one orchestrator never affects others.
type Supervisor struct {
	client   PositionClient
	defaults OrchestratorConfig
	sinks    Sinks
	log      *logger.Logger

	shutdownTimeout time.Duration

	mu    sync.Mutex
	slots map[string]*slot
	wg    sync.WaitGroup
}

// slot tracks one supervised position. The key is the executor id the
// supervision started with; the orchestrator may move to replacement ids as
// it rebalances.
type slot struct {
	orch   *Orchestrator
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor creates a supervisor with default per-position settings.
func NewSupervisor(client PositionClient, defaults OrchestratorConfig, sinks Sinks, shutdownTimeout time.Duration) *Supervisor {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 2 * time.Minute
	}
	return &Supervisor{
		client:          client,
		defaults:        defaults,
		sinks:           sinks,
		shutdownTimeout: shutdownTimeout,
		slots:           make(map[string]*slot),
		log:             logger.Get().With("component", "supervisor"),
	}
}

// Start begins supervising an executor id. cfg overrides the supervisor's
// defaults when non-nil.
func (s *Supervisor) Start(ctx context.Context, positionID string, cfg *OrchestratorConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.slots[positionID]; exists {
		return errors.Wrapf(errors.ErrAlreadySupervised, "position %s", positionID)
	}

	conf := s.defaults
	if cfg != nil {
		conf = *cfg
	}

	orch := NewOrchestrator(positionID, s.client, conf, s.sinks)
	slotCtx, cancel := context.WithCancel(ctx)

	sl := &slot{
		orch:   orch,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.slots[positionID] = sl

	s.wg.Add(1)
	go s.runSlot(slotCtx, positionID, sl)

	metrics.SupervisedPositions.Inc()
	s.log.Infow("Supervision started", "position_id", positionID)

	event := rebalance.NewEvent(positionID, rebalance.EventSupervisionStarted,
		rebalance.SeverityInfo, "orchestrator spawned")
	s.emit(ctx, event)

	return nil
}

// runSlot executes one orchestrator to completion with panic isolation.
func (s *Supervisor) runSlot(ctx context.Context, positionID string, sl *slot) {
	defer s.wg.Done()
	defer close(sl.done)
	defer metrics.SupervisedPositions.Dec()

	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("Orchestrator panicked", "position_id", positionID, "panic", r)
		}
	}()

	err := sl.orch.Run(ctx)
	switch {
	case err == nil:
		s.log.Infow("Orchestrator finished", "position_id", positionID)
	case errors.Is(err, context.Canceled):
		s.log.Infow("Orchestrator cancelled", "position_id", positionID)
	default:
		s.log.Errorw("Orchestrator halted with failure", "position_id", positionID, "error", err)
	}
}

// Stop gracefully stops supervising a position: the orchestrator finishes
// its current cycle, issues no new rebalance, and exits. The registry entry
// is removed once the goroutine has drained.
func (s *Supervisor) Stop(positionID string) error {
	s.mu.Lock()
	sl, exists := s.slots[positionID]
	s.mu.Unlock()

	if !exists {
		return errors.Wrapf(errors.ErrNotSupervised, "position %s", positionID)
	}

	sl.cancel()

	select {
	case <-sl.done:
	case <-time.After(s.shutdownTimeout):
		s.log.Warnw("Orchestrator did not drain before timeout", "position_id", positionID)
	}

	s.mu.Lock()
	delete(s.slots, positionID)
	s.mu.Unlock()

	event := rebalance.NewEvent(positionID, rebalance.EventSupervisionStopped,
		rebalance.SeverityInfo, "operator requested stop")
	s.emit(context.Background(), event)

	s.log.Infow("Supervision stopped", "position_id", positionID)
	return nil
}

// StopAll cancels every orchestrator and waits for them to drain, bounded
// by the shutdown timeout.
func (s *Supervisor) StopAll() error {
	s.mu.Lock()
	for _, sl := range s.slots {
		sl.cancel()
	}
	s.mu.Unlock()

	s.log.Info("Stopping all orchestrators...")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("All orchestrators stopped gracefully")
		return nil
	case <-time.After(s.shutdownTimeout):
		s.log.Warn("Orchestrator shutdown timed out")
		return errors.Wrapf(errors.ErrTimeout, "shutdown timeout after %s", s.shutdownTimeout)
	}
}

// Status returns a snapshot per supervised slot, sorted by the slot's
// starting position id. Halted orchestrators remain listed with their
// terminal reason until explicitly stopped.
func (s *Supervisor) Status() []PositionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]PositionStatus, 0, len(s.slots))
	for _, sl := range s.slots {
		statuses = append(statuses, sl.orch.Status())
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].PositionID < statuses[j].PositionID
	})
	return statuses
}

// Count returns the number of supervised slots.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// emit fans a supervision event out to the configured sinks.
func (s *Supervisor) emit(ctx context.Context, event *rebalance.Event) {
	metrics.Events.WithLabelValues(event.Type.String(), event.Severity.String()).Inc()

	if s.sinks.Journal != nil {
		if err := s.sinks.Journal.CreateEvent(ctx, event); err != nil {
			s.log.Errorw("Failed to journal event", "event", event.Type, "error", err)
		}
	}
	if s.sinks.Events != nil {
		if err := s.sinks.Events.PublishEvent(ctx, event); err != nil {
			s.log.Errorw("Failed to publish event", "event", event.Type, "error", err)
		}
	}
}
