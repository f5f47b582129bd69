package rebalancer

import (
	"context"
	"sync"
	"time"

	"poseidon/internal/domain/position"
	"poseidon/internal/domain/rebalance"
	"poseidon/internal/metrics"
	"poseidon/pkg/errors"
	"poseidon/pkg/logger"
)

// PositionClient is the boundary to the trading backend. Satisfied by
// backend.Client.
type PositionClient interface {
	Get(ctx context.Context, id string) (*position.Position, error)
	Create(ctx context.Context, cfg position.CreateConfig) (*position.Position, error)
	Stop(ctx context.Context, id string, keepOnChain bool) error
}

// EventPublisher streams lifecycle events to an external bus
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *rebalance.Event) error
}

// Notifier pushes high-severity events to operators
type Notifier interface {
	NotifyEvent(ctx context.Context, event *rebalance.Event) error
}

// Sinks fans lifecycle events out to the journal, event stream, and
// operator alerts. Every field may be nil.
type Sinks struct {
	Journal  rebalance.Repository
	Events   EventPublisher
	Notifier Notifier
}

// OrchestratorConfig carries per-position control-loop settings
type OrchestratorConfig struct {
	PollInterval     time.Duration
	Plan             PlanConfig
	JournalSnapshots bool
}

// Orchestrator drives one supervised position through its lifecycle:
// poll, classify, time, plan, close-then-open, then track the replacement
// id. It exclusively owns the hysteresis timer for its position; the
// backend owns the position's authoritative state.
type Orchestrator struct {
	client PositionClient
	cfg    OrchestratorConfig
	sinks  Sinks
	timer  *HysteresisTimer
	log    *logger.Logger

	mu          sync.Mutex
	positionID  string
	lastPollAt  time.Time
	lastState   position.State
	lastRange   position.RangeStatus
	cycles      int64
	errorCount  int64
	terminal    *rebalance.Event
	holdFlagged bool
}

// PositionStatus is one orchestrator's status snapshot
type PositionStatus struct {
	PositionID        string                `json:"position_id"`
	State             position.State        `json:"state"`
	RangeStatus       position.RangeStatus  `json:"range_status"`
	OutOfRangeSince   *time.Time            `json:"out_of_range_since,omitempty"`
	OutOfRangeElapsed time.Duration         `json:"out_of_range_elapsed"`
	LastPollAt        time.Time             `json:"last_poll_at"`
	Cycles            int64                 `json:"cycles"`
	ErrorCount        int64                 `json:"error_count"`
	Halted            bool                  `json:"halted"`
	TerminalEvent     rebalance.EventType   `json:"terminal_event,omitempty"`
	TerminalReason    string                `json:"terminal_reason,omitempty"`
}

// NewOrchestrator creates an orchestrator for one executor id. The timer
// starts empty; it is explicitly not persisted across process restarts, so
// a restart resets the out-of-range dwell to zero.
func NewOrchestrator(positionID string, client PositionClient, cfg OrchestratorConfig, sinks Sinks) *Orchestrator {
	return &Orchestrator{
		client:     client,
		cfg:        cfg,
		sinks:      sinks,
		timer:      NewHysteresisTimer(),
		positionID: positionID,
		log:        logger.Get().With("component", "orchestrator", "position_id", positionID),
	}
}

// Run executes the control loop until the position reaches a terminal
// condition or ctx is cancelled. Cancellation is cooperative: it is checked
// between poll cycles and before a rebalance is issued, never in the middle
// of a close/open pair.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Infow("Orchestrator started", "poll_interval", o.cfg.PollInterval)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	// First cycle runs immediately
	if done, err := o.cycle(ctx); done {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			o.log.Info("Orchestrator stopping due to context cancellation")
			return ctx.Err()

		case <-ticker.C:
			if done, err := o.cycle(ctx); done {
				return err
			}
		}
	}
}

// cycle performs one poll iteration. done=true halts the loop.
func (o *Orchestrator) cycle(ctx context.Context) (done bool, err error) {
	o.mu.Lock()
	o.cycles++
	id := o.positionID
	o.mu.Unlock()

	pos, err := o.client.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrPositionNotFound) {
			// The backend lost the executor while the on-chain position may
			// still hold funds. Blind recreation is unsafe.
			event := rebalance.NewEvent(id, rebalance.EventReconciliationRequired,
				rebalance.SeverityCritical,
				"backend no longer knows this position id; on-chain position may still hold funds")
			o.finish(event)
			return true, errors.Wrapf(errors.ErrReconciliationRequired, "position %s", id)
		}

		// Transient failure: skip the cycle, leave the timer untouched.
		o.recordError()
		metrics.BackendPolls.WithLabelValues(id, "error").Inc()
		o.log.Warnw("Poll failed, skipping cycle", "error", err)
		return false, nil
	}

	metrics.BackendPolls.WithLabelValues(id, "success").Inc()
	o.recordPoll(pos)
	o.journalSnapshot(ctx, pos)

	if pos.State.InFlight() {
		// Transaction pending confirmation: no decision logic, and the
		// timer is cleared so a slow confirmation never counts as dwell.
		o.timer.Clear()
		o.log.Debugw("Position in flight, skipping decision", "state", pos.State)
		return false, nil
	}

	if pos.State.Terminal() {
		return true, o.handleTerminalState(pos)
	}

	status := pos.Classify()
	o.timer.Observe(status)
	o.recordRange(status)

	plan, perr := BuildPlan(PlanInput{
		Position: pos,
		Status:   status,
		Elapsed:  o.timer.Elapsed(),
		Config:   o.cfg.Plan,
	})
	if perr != nil {
		// Planner invariant violations fail closed before any network call.
		event := rebalance.NewEvent(id, rebalance.EventPlanInvariantViolation,
			rebalance.SeverityCritical, perr.Error())
		o.finish(event)
		return true, perr
	}

	if plan.Action == ActionKeep {
		o.handleKeep(ctx, id, plan)
		return false, nil
	}

	if ctx.Err() != nil {
		// Graceful stop requested: never start a new close/open pair.
		return true, ctx.Err()
	}

	return o.executeRebalance(ctx, pos, plan)
}

// handleKeep surfaces limit-policy holds once per excursion and otherwise
// lets the loop continue silently.
func (o *Orchestrator) handleKeep(ctx context.Context, id string, plan *Plan) {
	if !plan.OperatorAttention {
		o.mu.Lock()
		o.holdFlagged = false
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	alreadyFlagged := o.holdFlagged
	o.holdFlagged = true
	o.mu.Unlock()

	if alreadyFlagged {
		return
	}

	o.log.Warnw("Rebalance suppressed by limit policy", "reason", plan.Reason)
	event := rebalance.NewEvent(id, rebalance.EventLimitPolicyHold,
		rebalance.SeverityWarning, plan.Reason)
	o.emit(ctx, event)
}

// executeRebalance drives the close-then-open pair. The pair runs on a
// detached context so a shutdown arriving mid-sequence cannot abandon it
// between the close and the open.
func (o *Orchestrator) executeRebalance(ctx context.Context, pos *position.Position, plan *Plan) (bool, error) {
	o.log.Infow("Executing rebalance",
		"reason", plan.Reason,
		"side", plan.Create.Side,
		"lower", plan.Create.LowerPrice,
		"upper", plan.Create.UpperPrice,
	)

	seqCtx := context.WithoutCancel(ctx)

	if err := o.client.Stop(seqCtx, plan.ClosePositionID, false); err != nil {
		// Stop is safe to re-issue: the backend acks an already-stopped id.
		// Retry on the next tick; the dwell clock keeps running.
		o.recordError()
		metrics.Rebalances.WithLabelValues(pos.TradingPair, "stop_failed").Inc()
		o.log.Errorw("Stop failed, will retry next cycle", "error", err)
		return false, nil
	}

	created, err := o.client.Create(seqCtx, plan.Create)
	if err != nil {
		// The close succeeded but the open did not (or its ack was lost).
		// Funds are idle in the wallet and a blind retry risks
		// double-funding, so this halts the orchestrator.
		metrics.Rebalances.WithLabelValues(pos.TradingPair, "partial_failure").Inc()
		event := rebalance.NewEvent(plan.ClosePositionID, rebalance.EventRebalancePartialFailure,
			rebalance.SeverityCritical,
			errors.Wrap(err, "position closed but replacement create failed; funds idle in wallet").Error())
		o.finish(event)
		return true, errors.Wrapf(errors.ErrPartialFailure, "position %s", plan.ClosePositionID)
	}

	metrics.Rebalances.WithLabelValues(pos.TradingPair, "executed").Inc()

	event := rebalance.NewEvent(plan.ClosePositionID, rebalance.EventRebalanceExecuted,
		rebalance.SeverityInfo, plan.Reason)
	event.NewPositionID = created.ID
	event.Side = plan.Create.Side
	event.LowerPrice = plan.Create.LowerPrice
	event.UpperPrice = plan.Create.UpperPrice
	event.BaseAmount = plan.Create.BaseAmount
	event.QuoteAmount = plan.Create.QuoteAmount
	// Emitted on the detached context: a shutdown arriving right after the
	// pair completes must not drop the record of an executed rebalance.
	o.emit(seqCtx, event)

	o.mu.Lock()
	o.positionID = created.ID
	o.holdFlagged = false
	o.mu.Unlock()
	o.timer.Clear()

	o.log = logger.Get().With("component", "orchestrator", "position_id", created.ID)
	o.log.Infow("Rebalance complete", "previous_id", plan.ClosePositionID)

	return false, nil
}

// handleTerminalState emits the terminal event for a backend-confirmed
// COMPLETE or FAILED position.
func (o *Orchestrator) handleTerminalState(pos *position.Position) error {
	if pos.State == position.StateFailed {
		event := rebalance.NewEvent(pos.ID, rebalance.EventPositionFailed,
			rebalance.SeverityCritical, "backend reported transaction failure")
		o.finish(event)
		return errors.Newf("position %s failed on backend", pos.ID)
	}

	event := rebalance.NewEvent(pos.ID, rebalance.EventPositionComplete,
		rebalance.SeverityInfo, "backend confirmed final close")
	o.finish(event)
	return nil
}

// finish records the terminal event and fans it out. Emission uses a
// background context so shutdown cannot drop the record.
func (o *Orchestrator) finish(event *rebalance.Event) {
	o.mu.Lock()
	o.terminal = event
	o.mu.Unlock()

	o.emit(context.Background(), event)
	o.log.Infow("Orchestrator halted", "event", event.Type, "reason", event.Reason)
}

// emit fans one event out to every configured sink, best-effort.
func (o *Orchestrator) emit(ctx context.Context, event *rebalance.Event) {
	metrics.Events.WithLabelValues(event.Type.String(), event.Severity.String()).Inc()

	if o.sinks.Journal != nil {
		if err := o.sinks.Journal.CreateEvent(ctx, event); err != nil {
			o.log.Errorw("Failed to journal event", "event", event.Type, "error", err)
		}
	}
	if o.sinks.Events != nil {
		if err := o.sinks.Events.PublishEvent(ctx, event); err != nil {
			o.log.Errorw("Failed to publish event", "event", event.Type, "error", err)
		}
	}
	if o.sinks.Notifier != nil {
		if err := o.sinks.Notifier.NotifyEvent(ctx, event); err != nil {
			o.log.Errorw("Failed to notify event", "event", event.Type, "error", err)
		}
	}
}

// journalSnapshot persists the polled snapshot, best-effort.
func (o *Orchestrator) journalSnapshot(ctx context.Context, pos *position.Position) {
	if !o.cfg.JournalSnapshots || o.sinks.Journal == nil {
		return
	}
	if err := o.sinks.Journal.SaveSnapshot(ctx, pos); err != nil {
		o.log.Debugw("Failed to persist snapshot", "error", err)
	}
}

func (o *Orchestrator) recordPoll(pos *position.Position) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastPollAt = pos.FetchedAt
	o.lastState = pos.State
}

func (o *Orchestrator) recordRange(status position.RangeStatus) {
	o.mu.Lock()
	o.lastRange = status
	id := o.positionID
	o.mu.Unlock()

	metrics.OutOfRangeSeconds.WithLabelValues(id).Set(o.timer.Elapsed().Seconds())
}

func (o *Orchestrator) recordError() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errorCount++
}

// Status returns a point-in-time snapshot of this orchestrator.
func (o *Orchestrator) Status() PositionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := PositionStatus{
		PositionID:        o.positionID,
		State:             o.lastState,
		RangeStatus:       o.lastRange,
		OutOfRangeElapsed: o.timer.Elapsed(),
		LastPollAt:        o.lastPollAt,
		Cycles:            o.cycles,
		ErrorCount:        o.errorCount,
	}
	if since, ok := o.timer.Since(); ok {
		s.OutOfRangeSince = &since
	}
	if o.terminal != nil {
		s.Halted = true
		s.TerminalEvent = o.terminal.Type
		s.TerminalReason = o.terminal.Reason
	}
	return s
}

// PositionID returns the currently tracked executor id.
func (o *Orchestrator) PositionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.positionID
}
