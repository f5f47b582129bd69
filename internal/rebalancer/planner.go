package rebalancer

import (
	"time"

	"github.com/shopspring/decimal"

	"poseidon/internal/domain/position"
	"poseidon/pkg/errors"
)

// PlanAction is the planner's verdict for one poll cycle
type PlanAction string

const (
	// ActionKeep leaves the current position untouched
	ActionKeep PlanAction = "KEEP"
	// ActionRebalance closes the position and opens the replacement
	ActionRebalance PlanAction = "REBALANCE"
)

// PlanConfig carries the control parameters the planner decides with.
type PlanConfig struct {
	// Minimum continuous out-of-range dwell before a rebalance may trigger
	RebalanceDelay time.Duration

	// Minimum relative excursion beyond the violated bound. Zero disables
	// the excursion check; a small overshoot that self-corrects within the
	// delay window must not trigger.
	ThresholdPct decimal.Decimal

	// Relative width of the replacement range. Zero inherits the width of
	// the position being replaced.
	WidthPct decimal.Decimal

	// Venue width granularity. Non-zero widths are rounded DOWN to a
	// multiple of this step so a rounded range never exceeds the
	// configured risk limit.
	WidthStepPct decimal.Decimal

	// Anchor/limit policy: when the current price sits outside these
	// bounds the planner stops chasing and keeps the position as-is.
	BuyPriceMin  *decimal.Decimal
	BuyPriceMax  *decimal.Decimal
	SellPriceMin *decimal.Decimal
	SellPriceMax *decimal.Decimal

	// Optional backend-enforced auto-close durations and strategy tag,
	// copied verbatim onto every replacement create.
	CloseBelowAfter time.Duration
	CloseAboveAfter time.Duration
	StrategyTag     string
}

// Plan is the planner's ephemeral output. A Rebalance plan carries the full
// create configuration for the replacement position plus the id to close.
type Plan struct {
	Action PlanAction
	Reason string

	// OperatorAttention marks a Keep forced by the anchor/limit policy
	// rather than by the position being healthy.
	OperatorAttention bool

	// Populated for ActionRebalance
	ClosePositionID string
	Create          position.CreateConfig
}

// PlanInput is everything the planner needs for one decision. The planner
// is pure: identical inputs yield identical plans.
type PlanInput struct {
	Position *position.Position
	Status   position.RangeStatus
	Elapsed  time.Duration
	Config   PlanConfig
}

// BuildPlan decides whether the supervised position should be replaced and,
// if so, computes the replacement's side, bounds, and funding.
//
// A position whose price fell below the range holds base-only residual; the
// replacement is a SELL_ONLY range anchored at the current price so it
// converts back to quote as price recovers upward. The above-range case is
// symmetric with a BUY_ONLY range below the current price.
func BuildPlan(in PlanInput) (*Plan, error) {
	pos := in.Position
	cfg := in.Config

	if in.Status == position.RangeInRange {
		return &Plan{Action: ActionKeep, Reason: "price in range"}, nil
	}
	if in.Elapsed < cfg.RebalanceDelay {
		return &Plan{Action: ActionKeep, Reason: "out-of-range dwell below delay"}, nil
	}

	price := pos.CurrentPrice
	if !price.IsPositive() {
		return nil, errors.Wrapf(errors.ErrPlanInvariant, "non-positive current price %s", price)
	}

	if !cfg.ThresholdPct.IsZero() && excursion(in.Status, pos).LessThan(cfg.ThresholdPct) {
		return &Plan{Action: ActionKeep, Reason: "excursion below threshold"}, nil
	}

	width, err := resolveWidth(cfg, pos)
	if err != nil {
		return nil, err
	}

	switch in.Status {
	case position.RangeBelow:
		return planSell(pos, cfg, price, width)
	case position.RangeAbove:
		return planBuy(pos, cfg, price, width)
	default:
		return nil, errors.Wrapf(errors.ErrPlanInvariant, "unexpected range status %s", in.Status)
	}
}

// planSell builds the replacement for a below-range position: a base-only
// limit-sell range sitting directly above the current price.
func planSell(pos *position.Position, cfg PlanConfig, price, width decimal.Decimal) (*Plan, error) {
	if outsideLimits(price, cfg.SellPriceMin, cfg.SellPriceMax) {
		return &Plan{
			Action:            ActionKeep,
			Reason:            "current price outside sell limit policy",
			OperatorAttention: true,
		}, nil
	}

	funding := pos.BaseAmount.Add(pos.BaseFee)
	if !funding.IsPositive() {
		return nil, errors.Wrapf(errors.ErrPlanInvariant, "no base residual to fund sell range for %s", pos.ID)
	}

	return &Plan{
		Action:          ActionRebalance,
		Reason:          "sustained below-range excursion",
		ClosePositionID: pos.ID,
		Create: position.CreateConfig{
			Connector:       pos.Connector,
			PoolAddress:     pos.PoolAddress,
			TradingPair:     pos.TradingPair,
			Side:            position.SideSellOnly,
			LowerPrice:      price,
			UpperPrice:      price.Mul(decimal.NewFromInt(1).Add(width)),
			BaseAmount:      funding,
			QuoteAmount:     decimal.Zero,
			CloseBelowAfter: cfg.CloseBelowAfter,
			CloseAboveAfter: cfg.CloseAboveAfter,
			StrategyTag:     cfg.StrategyTag,
		},
	}, nil
}

// planBuy builds the replacement for an above-range position: a quote-only
// limit-buy range sitting directly below the current price.
func planBuy(pos *position.Position, cfg PlanConfig, price, width decimal.Decimal) (*Plan, error) {
	if outsideLimits(price, cfg.BuyPriceMin, cfg.BuyPriceMax) {
		return &Plan{
			Action:            ActionKeep,
			Reason:            "current price outside buy limit policy",
			OperatorAttention: true,
		}, nil
	}

	funding := pos.QuoteAmount.Add(pos.QuoteFee)
	if !funding.IsPositive() {
		return nil, errors.Wrapf(errors.ErrPlanInvariant, "no quote residual to fund buy range for %s", pos.ID)
	}

	return &Plan{
		Action:          ActionRebalance,
		Reason:          "sustained above-range excursion",
		ClosePositionID: pos.ID,
		Create: position.CreateConfig{
			Connector:       pos.Connector,
			PoolAddress:     pos.PoolAddress,
			TradingPair:     pos.TradingPair,
			Side:            position.SideBuyOnly,
			LowerPrice:      price.Mul(decimal.NewFromInt(1).Sub(width)),
			UpperPrice:      price,
			BaseAmount:      decimal.Zero,
			QuoteAmount:     funding,
			CloseBelowAfter: cfg.CloseBelowAfter,
			CloseAboveAfter: cfg.CloseAboveAfter,
			StrategyTag:     cfg.StrategyTag,
		},
	}, nil
}

// excursion measures the relative overshoot beyond the violated bound.
func excursion(status position.RangeStatus, pos *position.Position) decimal.Decimal {
	switch status {
	case position.RangeBelow:
		if pos.LowerPrice.IsPositive() {
			return pos.LowerPrice.Sub(pos.CurrentPrice).Div(pos.LowerPrice)
		}
	case position.RangeAbove:
		if pos.UpperPrice.IsPositive() {
			return pos.CurrentPrice.Sub(pos.UpperPrice).Div(pos.UpperPrice)
		}
	}
	return decimal.Zero
}

// resolveWidth picks the replacement width (override wins, otherwise the
// old position's width) and rounds it down to the venue granularity.
func resolveWidth(cfg PlanConfig, pos *position.Position) (decimal.Decimal, error) {
	width := cfg.WidthPct
	if width.IsZero() {
		width = pos.WidthPct()
	}
	if !width.IsPositive() {
		return decimal.Zero, errors.Wrapf(errors.ErrPlanInvariant, "no usable width for %s", pos.ID)
	}

	if cfg.WidthStepPct.IsPositive() {
		steps := width.Div(cfg.WidthStepPct).Floor()
		width = steps.Mul(cfg.WidthStepPct)
		if !width.IsPositive() {
			return decimal.Zero, errors.Wrapf(errors.ErrPlanInvariant,
				"width below venue granularity %s", cfg.WidthStepPct)
		}
	}

	return width, nil
}

// outsideLimits reports whether price escaped the optional [min, max] band.
func outsideLimits(price decimal.Decimal, min, max *decimal.Decimal) bool {
	if min != nil && price.LessThan(*min) {
		return true
	}
	if max != nil && price.GreaterThan(*max) {
		return true
	}
	return false
}
