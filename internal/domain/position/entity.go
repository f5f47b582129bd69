package position

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a snapshot of one funded liquidity range on a CLMM pool, as
// reported by the trading backend. The backend owns the authoritative state;
// this process only observes it.
type Position struct {
	ID          string `db:"id"`
	Connector   string `db:"connector"`
	PoolAddress string `db:"pool_address"`
	TradingPair string `db:"trading_pair"`

	Side Side `db:"side"`

	LowerPrice   decimal.Decimal `db:"lower_price"`
	UpperPrice   decimal.Decimal `db:"upper_price"`
	CurrentPrice decimal.Decimal `db:"current_price"`

	// Principal held in the range. The range mechanism converts one asset
	// into the other as price moves through the bounds.
	BaseAmount  decimal.Decimal `db:"base_amount"`
	QuoteAmount decimal.Decimal `db:"quote_amount"`

	// Fees accrued and collectible, separate from principal
	BaseFee  decimal.Decimal `db:"base_fee"`
	QuoteFee decimal.Decimal `db:"quote_fee"`

	State State `db:"state"`

	FetchedAt time.Time `db:"fetched_at"`
}

// Classify returns where the snapshot's current price sits relative to its bounds.
func (p *Position) Classify() RangeStatus {
	return Classify(p.CurrentPrice, p.LowerPrice, p.UpperPrice)
}

// WidthPct returns the relative width of the active range, measured against
// the lower bound. Zero when bounds are degenerate.
func (p *Position) WidthPct() decimal.Decimal {
	if p.LowerPrice.IsZero() || !p.UpperPrice.GreaterThan(p.LowerPrice) {
		return decimal.Zero
	}
	return p.UpperPrice.Sub(p.LowerPrice).Div(p.LowerPrice)
}

// Side defines which asset(s) fund the position and on which side of the
// current price its bounds sit.
type Side string

const (
	// SideBoth funds base and quote and centers bounds on current price
	SideBoth Side = "BOTH"
	// SideBuyOnly funds quote only, bounds below current price (limit-buy)
	SideBuyOnly Side = "BUY_ONLY"
	// SideSellOnly funds base only, bounds above current price (limit-sell)
	SideSellOnly Side = "SELL_ONLY"
)

// Valid checks if the side is a known value
func (s Side) Valid() bool {
	return s == SideBoth || s == SideBuyOnly || s == SideSellOnly
}

// String returns string representation
func (s Side) String() string {
	return string(s)
}

// State defines the position lifecycle state as tracked by the backend
type State string

const (
	StateNotActive  State = "NOT_ACTIVE"
	StateOpening    State = "OPENING"
	StateInRange    State = "IN_RANGE"
	StateOutOfRange State = "OUT_OF_RANGE"
	StateClosing    State = "CLOSING"
	StateComplete   State = "COMPLETE"
	StateFailed     State = "FAILED"
)

// Valid checks if the state is a known value
func (s State) Valid() bool {
	switch s {
	case StateNotActive, StateOpening, StateInRange, StateOutOfRange,
		StateClosing, StateComplete, StateFailed:
		return true
	}
	return false
}

// String returns string representation
func (s State) String() string {
	return string(s)
}

// InFlight reports whether a transaction is pending confirmation. Decision
// logic must not run against an in-flight snapshot.
func (s State) InFlight() bool {
	return s == StateOpening || s == StateClosing
}

// Terminal reports whether the position has reached the end of its life.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// RangeStatus is the result of classifying a price against range bounds
type RangeStatus string

const (
	RangeBelow   RangeStatus = "BELOW"
	RangeInRange RangeStatus = "IN_RANGE"
	RangeAbove   RangeStatus = "ABOVE"
)

// String returns string representation
func (s RangeStatus) String() string {
	return string(s)
}

// OutOfRange reports whether the status is below or above the bounds
func (s RangeStatus) OutOfRange() bool {
	return s == RangeBelow || s == RangeAbove
}

// Classify places price relative to [lower, upper]. Both bounds are
// inclusive: a price sitting exactly on a bound is still in range, so the
// edge never triggers a spurious rebalance.
func Classify(price, lower, upper decimal.Decimal) RangeStatus {
	switch {
	case price.LessThan(lower):
		return RangeBelow
	case price.GreaterThan(upper):
		return RangeAbove
	default:
		return RangeInRange
	}
}

// CreateConfig is the full configuration needed to open a new position on
// the backend.
type CreateConfig struct {
	Connector   string
	PoolAddress string
	TradingPair string

	Side       Side
	LowerPrice decimal.Decimal
	UpperPrice decimal.Decimal

	BaseAmount  decimal.Decimal
	QuoteAmount decimal.Decimal

	// Optional single-sided auto-close durations enforced by the backend
	CloseBelowAfter time.Duration
	CloseAboveAfter time.Duration

	// Optional venue-specific strategy tag passed through verbatim
	StrategyTag string
}
