package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestClassify_InsideBounds(t *testing.T) {
	assert.Equal(t, RangeInRange, Classify(d("105"), d("100"), d("110")))
}

func TestClassify_Below(t *testing.T) {
	assert.Equal(t, RangeBelow, Classify(d("99.999"), d("100"), d("110")))
	assert.Equal(t, RangeBelow, Classify(d("0"), d("100"), d("110")))
}

func TestClassify_Above(t *testing.T) {
	assert.Equal(t, RangeAbove, Classify(d("110.001"), d("100"), d("110")))
	assert.Equal(t, RangeAbove, Classify(d("1000000"), d("100"), d("110")))
}

func TestClassify_BoundsAreInclusive(t *testing.T) {
	// A price sitting exactly on a bound must never be classified out of
	// range: an off-by-one here causes spurious rebalances at the edge.
	assert.Equal(t, RangeInRange, Classify(d("100"), d("100"), d("110")))
	assert.Equal(t, RangeInRange, Classify(d("110"), d("100"), d("110")))
}

func TestRangeStatus_OutOfRange(t *testing.T) {
	assert.True(t, RangeBelow.OutOfRange())
	assert.True(t, RangeAbove.OutOfRange())
	assert.False(t, RangeInRange.OutOfRange())
}

func TestState_InFlight(t *testing.T) {
	assert.True(t, StateOpening.InFlight())
	assert.True(t, StateClosing.InFlight())
	assert.False(t, StateInRange.InFlight())
	assert.False(t, StateOutOfRange.InFlight())
	assert.False(t, StateComplete.InFlight())
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateComplete.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateInRange.Terminal())
	assert.False(t, StateOpening.Terminal())
}

func TestState_Valid(t *testing.T) {
	assert.True(t, StateOutOfRange.Valid())
	assert.False(t, State("RUNNING").Valid())
	assert.False(t, State("").Valid())
}

func TestPosition_WidthPct(t *testing.T) {
	p := &Position{LowerPrice: d("100"), UpperPrice: d("110")}
	assert.True(t, p.WidthPct().Equal(d("0.1")))
}

func TestPosition_WidthPct_DegenerateBounds(t *testing.T) {
	assert.True(t, (&Position{}).WidthPct().IsZero())

	inverted := &Position{LowerPrice: d("110"), UpperPrice: d("100")}
	assert.True(t, inverted.WidthPct().IsZero())
}

func TestPosition_Classify(t *testing.T) {
	p := &Position{
		LowerPrice:   d("100"),
		UpperPrice:   d("110"),
		CurrentPrice: d("95"),
	}
	assert.Equal(t, RangeBelow, p.Classify())
}
