package rebalance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"poseidon/internal/domain/position"
)

// Event is one journaled lifecycle event of a supervised position. Events
// are append-only; the journal exists so operators can audit every
// close/open the rebalancer has driven.
type Event struct {
	ID         uuid.UUID `db:"id"`
	PositionID string    `db:"position_id"`

	Type     EventType `db:"event_type"`
	Severity Severity  `db:"severity"`
	Reason   string    `db:"reason"`

	// Populated for executed rebalances
	NewPositionID string          `db:"new_position_id"`
	Side          position.Side   `db:"side"`
	LowerPrice    decimal.Decimal `db:"lower_price"`
	UpperPrice    decimal.Decimal `db:"upper_price"`
	BaseAmount    decimal.Decimal `db:"base_amount"`
	QuoteAmount   decimal.Decimal `db:"quote_amount"`

	CreatedAt time.Time `db:"created_at"`
}

// EventType identifies what happened to the supervised position
type EventType string

const (
	// EventSupervisionStarted records the start of supervision for an id
	EventSupervisionStarted EventType = "SUPERVISION_STARTED"

	// EventSupervisionStopped records a graceful operator-requested stop
	EventSupervisionStopped EventType = "SUPERVISION_STOPPED"

	// EventRebalanceExecuted records a completed close+open pair
	EventRebalanceExecuted EventType = "REBALANCE_EXECUTED"

	// EventRebalancePartialFailure records a close that succeeded without a
	// confirmed open: funds are idle in the wallet and no retry is safe
	EventRebalancePartialFailure EventType = "REBALANCE_PARTIAL_FAILURE"

	// EventReconciliationRequired records a position id the backend no
	// longer knows while the on-chain position may still hold funds
	EventReconciliationRequired EventType = "RECONCILIATION_REQUIRED"

	// EventLimitPolicyHold records a rebalance suppressed by the configured
	// anchor/limit policy; the position is kept as-is for operator review
	EventLimitPolicyHold EventType = "LIMIT_POLICY_HOLD"

	// EventPlanInvariantViolation records a planner failure that halted the
	// orchestrator before any network call was made
	EventPlanInvariantViolation EventType = "PLAN_INVARIANT_VIOLATION"

	// EventPositionComplete records the backend confirming a final close
	EventPositionComplete EventType = "POSITION_COMPLETE"

	// EventPositionFailed records a backend-reported transaction failure
	EventPositionFailed EventType = "POSITION_FAILED"
)

// String returns string representation
func (t EventType) String() string {
	return string(t)
}

// Terminal reports whether the event halts its orchestrator
func (t EventType) Terminal() bool {
	switch t {
	case EventRebalancePartialFailure, EventReconciliationRequired,
		EventPlanInvariantViolation, EventPositionComplete,
		EventPositionFailed, EventSupervisionStopped:
		return true
	}
	return false
}

// Severity grades an event for alert routing
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// String returns string representation
func (s Severity) String() string {
	return string(s)
}

// NewEvent builds a journal event with a fresh id and timestamp.
func NewEvent(positionID string, eventType EventType, severity Severity, reason string) *Event {
	return &Event{
		ID:         uuid.New(),
		PositionID: positionID,
		Type:       eventType,
		Severity:   severity,
		Reason:     reason,
		CreatedAt:  time.Now().UTC(),
	}
}
