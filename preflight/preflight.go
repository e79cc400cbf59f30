// Package preflight implements the pre-engine-entry capital sizing step:
// cancelling stale resting orders, reading available margin, and scaling a
// requested notional down to what both venues can actually support.
// Grounded on risk/sizing.go's equity-based clamp (min/max position sizing),
// generalized from "% of equity at risk" to "margin-based notional scaling
// across two venues."
package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hedgecore/engine/hedgetypes"
	"github.com/hedgecore/engine/venue"
)

// marginReleaseWait is how long to wait after bulk-cancelling orders for
// margin to be released back to the account.
const marginReleaseWait = 500 * time.Millisecond

// CancelStaleOrders cancels all open orders for symbol on both venues and
// waits for margin release. Failures on either venue are logged but do not
// abort the call — pre-flight cancellation is best-effort housekeeping, not a
// correctness dependency.
func CancelStaleOrders(ctx context.Context, long, short venue.Adapter, symbol string) {
	longN, err := long.CancelAllOrders(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Str("venue", string(long.VenueTag())).Str("symbol", symbol).Msg("preflight: cancel-all failed on long venue")
	}
	shortN, err := short.CancelAllOrders(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Str("venue", string(short.VenueTag())).Str("symbol", symbol).Msg("preflight: cancel-all failed on short venue")
	}

	if longN > 0 || shortN > 0 {
		log.Info().Int("long_cancelled", longN).Int("short_cancelled", shortN).Str("symbol", symbol).Msg("preflight: stale orders cancelled")
	}

	select {
	case <-time.After(marginReleaseWait):
	case <-ctx.Done():
	}
}

// SizingResult is the outcome of margin-based notional scaling.
type SizingResult struct {
	Opportunity hedgetypes.Opportunity // possibly scaled down
	Scaled      bool
	Rejected    bool
	RejectReason string
}

// ScaleToMargin computes required margin for
// the opportunity's target size at the given leverage, and if either venue's
// available margin falls short, scale the notional down proportionally.
// Rejects entirely if the scaled notional falls below minPositionSizeUSD.
func ScaleToMargin(
	ctx context.Context,
	long, short venue.Adapter,
	opp hedgetypes.Opportunity,
	leverage decimal.Decimal,
	minPositionSizeUSD decimal.Decimal,
) (SizingResult, error) {
	longMargin, err := long.GetAvailableMargin(ctx)
	if err != nil {
		return SizingResult{}, fmt.Errorf("preflight: long margin query failed: %w", err)
	}
	shortMargin, err := short.GetAvailableMargin(ctx)
	if err != nil {
		return SizingResult{}, fmt.Errorf("preflight: short margin query failed: %w", err)
	}

	price := opp.MidPrice()
	requiredMargin := opp.TargetSize.Mul(price).Div(leverage)

	minMargin := longMargin
	if shortMargin.LessThan(minMargin) {
		minMargin = shortMargin
	}

	if minMargin.GreaterThanOrEqual(requiredMargin) {
		return SizingResult{Opportunity: opp}, nil
	}

	scaledNotionalUSD := minMargin.Mul(leverage)
	scaledSize := scaledNotionalUSD.Div(price)

	if scaledNotionalUSD.LessThan(minPositionSizeUSD) {
		return SizingResult{
			Rejected: true,
			RejectReason: fmt.Sprintf(
				"scaled notional %s USD below minimum position size %s USD (long margin %s, short margin %s, leverage %s)",
				scaledNotionalUSD.StringFixed(2), minPositionSizeUSD.StringFixed(2),
				longMargin.StringFixed(2), shortMargin.StringFixed(2), leverage.String(),
			),
		}, nil
	}

	scaledOpp := opp
	scaledOpp.TargetSize = scaledSize

	log.Warn().
		Str("symbol", opp.Symbol).
		Str("requested_size", opp.TargetSize.String()).
		Str("scaled_size", scaledSize.String()).
		Str("long_margin", longMargin.String()).
		Str("short_margin", shortMargin.String()).
		Msg("preflight: target size scaled down to fit available margin")

	return SizingResult{Opportunity: scaledOpp, Scaled: true}, nil
}
