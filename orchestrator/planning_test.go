package orchestrator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/hedgecore/engine/hedgetypes"
)

func TestNextFunding_AlwaysStrictlyFuture(t *testing.T) {
	now := time.Date(2026, 7, 29, 8, 0, 0, 0, time.UTC)
	next := NextFunding(now, hedgetypes.VenueReliableCEX)
	assert.True(t, next.After(now))
}

func TestNextFunding_FlakyVenueHourlyCadence(t *testing.T) {
	now := time.Date(2026, 7, 29, 8, 30, 0, 0, time.UTC)
	next := NextFunding(now, hedgetypes.VenueFlakyDEX)
	assert.Equal(t, time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC), next)
}

func TestNextFunding_ReliableVenueEightHourCadence(t *testing.T) {
	now := time.Date(2026, 7, 29, 1, 0, 0, 0, time.UTC)
	next := NextFunding(now, hedgetypes.VenueReliableCEX)
	assert.Equal(t, time.Date(2026, 7, 29, 8, 0, 0, 0, time.UTC), next)
}

func TestTimeToFunding_TakesMinimumAcrossVenues(t *testing.T) {
	now := time.Date(2026, 7, 29, 7, 59, 0, 0, time.UTC)
	d := TimeToFunding(now, hedgetypes.VenueReliableCEX, hedgetypes.VenueFlakyDEX)
	assert.Equal(t, time.Minute, d)
}

func defaultPlanConfig() PlanConfig {
	return PlanConfig{
		SliceFillTimeout:        45 * time.Second,
		FundingBuffer:           90 * time.Second,
		MinSlices:               1,
		MaxSlices:               20,
		MaxPortfolioPctPerSlice: decimal.NewFromFloat(0.10),
		MaxUSDPerSlice:          decimal.NewFromFloat(5000),
	}
}

func TestPlanSlices_SafetyDominatesWhenTimeIsPlentiful(t *testing.T) {
	result := PlanSlices(
		decimal.NewFromFloat(1.0),
		decimal.NewFromFloat(65000),
		decimal.NewFromFloat(1000000),
		2*time.Hour,
		defaultPlanConfig(),
	)
	assert.False(t, result.TimePressure)
	assert.GreaterOrEqual(t, result.Plan.SliceCount, result.SlicesForSafety)
}

func TestPlanSlices_TimePressureWhenFundingImminent(t *testing.T) {
	result := PlanSlices(
		decimal.NewFromFloat(10.0),
		decimal.NewFromFloat(65000),
		decimal.NewFromFloat(100000),
		2*time.Minute,
		defaultPlanConfig(),
	)
	assert.True(t, result.TimePressure)
	// Safety cadence still wins: slice count is never shrunk to fit the
	// clock, even though it may be clamped down to MaxSlices.
	assert.Equal(t, defaultPlanConfig().MaxSlices, result.Plan.SliceCount)
	assert.Less(t, result.SlicesForTime, result.SlicesForSafety)
}

func TestPlanSlices_SliceCountClampedToMaxSlices(t *testing.T) {
	cfg := defaultPlanConfig()
	cfg.MaxSlices = 3
	result := PlanSlices(
		decimal.NewFromFloat(100.0),
		decimal.NewFromFloat(65000),
		decimal.NewFromFloat(10000),
		4*time.Hour,
		cfg,
	)
	assert.Equal(t, 3, result.Plan.SliceCount)
}

func TestPlanSlices_SliceSizeSumsToTotal(t *testing.T) {
	total := decimal.NewFromFloat(2.5)
	result := PlanSlices(
		total,
		decimal.NewFromFloat(65000),
		decimal.NewFromFloat(1000000),
		3*time.Hour,
		defaultPlanConfig(),
	)
	sum := result.Plan.SliceSize.Mul(decimal.NewFromInt(int64(result.Plan.SliceCount)))
	assert.True(t, sum.Sub(total).Abs().LessThan(decimal.NewFromFloat(0.0001)))
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, 3, ceilDiv(decimal.NewFromInt(250), decimal.NewFromInt(100)))
	assert.Equal(t, 0, ceilDiv(decimal.NewFromInt(0), decimal.NewFromInt(100)))
	assert.Equal(t, 1, ceilDiv(decimal.NewFromInt(100), decimal.Zero))
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 1, clampInt(0, 1, 20))
	assert.Equal(t, 20, clampInt(100, 1, 20))
	assert.Equal(t, 5, clampInt(5, 1, 20))
}
