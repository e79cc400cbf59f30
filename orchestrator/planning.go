package orchestrator

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hedgecore/engine/hedgetypes"
)

// NextFunding returns the next strictly-in-the-future funding timestamp for a
// venue, given the current time. Calendar arithmetic is ambiguous when the
// current hour is already a funding boundary; this implementation always
// advances at least one full interval, so "now" is never returned as "next".
func NextFunding(now time.Time, v hedgetypes.VenueTag) time.Time {
	interval := v.FundingIntervalHours()
	u := now.UTC()
	dayStart := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	bucket := u.Hour()/interval + 1
	return dayStart.Add(time.Duration(bucket*interval) * time.Hour)
}

// TimeToFunding returns the minimum time-to-funding across both venues.
func TimeToFunding(now time.Time, long, short hedgetypes.VenueTag) time.Duration {
	tLong := NextFunding(now, long).Sub(now)
	tShort := NextFunding(now, short).Sub(now)
	if tLong < tShort {
		return tLong
	}
	return tShort
}

// PlanConfig holds the planning inputs from config.Config.
type PlanConfig struct {
	SliceFillTimeout        time.Duration
	FundingBuffer           time.Duration
	MinSlices               int
	MaxSlices               int
	MaxPortfolioPctPerSlice decimal.Decimal
	MaxUSDPerSlice          decimal.Decimal
}

// PlanResult is the slice plan plus whether safety overrode the time budget.
type PlanResult struct {
	Plan             hedgetypes.SlicePlan
	TimePressure     bool // slicesForTime < slicesForSafety: safety dominated
	SlicesForTime    int
	SlicesForSafety  int
}

// PlanSlices derives a slice count and per-slice size. Safety always dominates time:
// when the funding window has room for fewer slices than safety requires, the plan
// still uses the safety-derived count and reports TimePressure so the caller
// can log/emit a diagnostic, but execution proceeds anyway.
func PlanSlices(totalSize, avgPrice, totalPortfolio decimal.Decimal, timeToFunding time.Duration, cfg PlanConfig) PlanResult {
	slicesForTime := int(math.Floor(
		math.Max(0, (timeToFunding - cfg.FundingBuffer).Seconds()) /
			(cfg.SliceFillTimeout + time.Second).Seconds(),
	))

	maxSliceUSD := totalPortfolio.Mul(cfg.MaxPortfolioPctPerSlice)
	if cfg.MaxUSDPerSlice.LessThan(maxSliceUSD) {
		maxSliceUSD = cfg.MaxUSDPerSlice
	}

	totalUSD := totalSize.Mul(avgPrice)

	slicesForSafety := ceilDiv(totalUSD, maxSliceUSD)

	n := slicesForSafety
	if cfg.MinSlices > n {
		n = cfg.MinSlices
	}
	n = clampInt(n, cfg.MinSlices, cfg.MaxSlices)

	timePressure := slicesForTime < slicesForSafety

	// Recompute slice size; if it still exceeds the cap beyond rounding
	// slack, recompute N directly from the safety formula and clamp again.
	for i := 0; i < 5; i++ {
		sliceSize := totalSize.Div(decimal.NewFromInt(int64(n)))
		sliceUSD := sliceSize.Mul(avgPrice)
		if sliceUSD.LessThanOrEqual(maxSliceUSD.Mul(decimal.NewFromFloat(1.05))) {
			break
		}
		n = clampInt(ceilDiv(totalUSD, maxSliceUSD), cfg.MinSlices, cfg.MaxSlices)
	}

	sliceSize := totalSize.Div(decimal.NewFromInt(int64(n)))
	sliceUSD := sliceSize.Mul(avgPrice)

	return PlanResult{
		Plan: hedgetypes.SlicePlan{
			SliceCount: n,
			SliceSize:  sliceSize,
			AvgPrice:   avgPrice,
			SliceUSD:   sliceUSD,
			TimeBudget: timeToFunding,
		},
		TimePressure:    timePressure,
		SlicesForTime:   slicesForTime,
		SlicesForSafety: slicesForSafety,
	}
}

func ceilDiv(a, b decimal.Decimal) int {
	if b.IsZero() {
		return 1
	}
	f := a.Div(b).InexactFloat64()
	return int(math.Ceil(f))
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
