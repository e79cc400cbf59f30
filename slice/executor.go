// Package slice implements the Slice Executor: one atomic two-leg hedge
// slice, sequential by construction so that the flaky venue (when present) is
// always leg A and no commitment is made on the reliable venue until leg A
// has actually filled. Grounded on execution/executor.go's
// Order/OrderState lifecycle and risk/tp_sl.go's exit-order construction,
// restructured into the PRE_FLIGHT -> PLACE_A -> WAIT_A -> PLACE_B -> WAIT_B
// -> VERIFY state machine.
package slice

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hedgecore/engine/diagnostics"
	"github.com/hedgecore/engine/fillwaiter"
	"github.com/hedgecore/engine/hedgetypes"
	"github.com/hedgecore/engine/registry"
	"github.com/hedgecore/engine/venue"
)

// Config holds per-slice safety and timing parameters, sourced from
// config.Config.
type Config struct {
	SliceFillTimeout        time.Duration
	FillCheckInterval       time.Duration
	OpenPollCeiling         time.Duration // backoff ceiling for opening waits
	ClosePollCeiling        time.Duration // backoff ceiling for place+wait calls made with isClose set; higher than OpenPollCeiling
	MaxImbalancePercent     decimal.Decimal // fractional, e.g. 0.05 for 5%
	MaxPortfolioPctPerSlice decimal.Decimal
	MaxUSDPerSlice          decimal.Decimal
}

// Params describes one slice to execute.
type Params struct {
	Symbol       string
	SliceIndex   int
	SliceSize    decimal.Decimal
	LongAdapter  venue.Adapter
	ShortAdapter venue.Adapter
	LongPrice    decimal.Decimal
	ShortPrice   decimal.Decimal
	FirstIsLong  bool
	ThreadID     string
}

// Executor executes exactly one two-leg slice per Execute call.
type Executor struct {
	reg  *registry.Registry
	sink diagnostics.Sink
	cfg  Config
}

// New constructs a slice Executor.
func New(reg *registry.Registry, sink diagnostics.Sink, cfg Config) *Executor {
	return &Executor{reg: reg, sink: sink, cfg: cfg}
}

type leg struct {
	side    hedgetypes.OrderSide
	adapter venue.Adapter
	price   decimal.Decimal
}

// legs splits Params into (legA, legB): the flaky venue, or
// LONG by convention if neither leg is flaky, goes first.
func (p Params) legs() (a, b leg) {
	long := leg{hedgetypes.SideLong, p.LongAdapter, p.LongPrice}
	short := leg{hedgetypes.SideShort, p.ShortAdapter, p.ShortPrice}
	if p.FirstIsLong {
		return long, short
	}
	return short, long
}

// Execute runs the full slice state machine.
func (e *Executor) Execute(ctx context.Context, p Params) hedgetypes.SliceResult {
	result := hedgetypes.SliceResult{SliceIndex: p.SliceIndex}

	legA, legB := p.legs()

	initialA, err := e.snapshotPositionSize(ctx, legA.adapter, p.Symbol, legA.side)
	if err != nil {
		result.ErrorReason = fmt.Sprintf("pre-flight: failed to snapshot leg A position: %v", err)
		return result
	}

	if reason, ok := e.preFlightSafetyCheck(ctx, p); !ok {
		result.ErrorReason = reason
		return result
	}

	// Leg A: place then wait.
	fA, orderIDA, reason, ok := e.placeAndWaitLeg(ctx, p, legA, p.SliceSize, initialA, false)
	result.SetFill(legA.side, fA)
	if legA.side == hedgetypes.SideLong {
		result.LongOrderID = orderIDA
	} else {
		result.ShortOrderID = orderIDA
	}
	if !ok {
		result.ErrorReason = reason
		e.sink.Emit(ctx, diagnostics.Event{
			Kind: diagnostics.KindSingleLegFailure, Message: reason,
			Venue: string(legA.adapter.VenueTag()), Symbol: p.Symbol,
		})
		return result
	}

	// Leg B: size exactly to leg A's actual fill, never the planned slice size.
	initialB, err := e.snapshotPositionSize(ctx, legB.adapter, p.Symbol, legB.side)
	if err != nil {
		return e.rollbackLegA(ctx, p, legA, fA, fmt.Sprintf("failed to snapshot leg B position: %v", err), result)
	}

	orderIDB, placeBReason, placeBOK := e.placeLegB(ctx, p, legB, fA)
	if legB.side == hedgetypes.SideLong {
		result.LongOrderID = orderIDB
	} else {
		result.ShortOrderID = orderIDB
	}
	if !placeBOK {
		return e.rollbackLegA(ctx, p, legA, fA, placeBReason, result)
	}

	waiter := fillwaiter.New(legB.adapter)
	resB := waiter.Wait(ctx, fillwaiter.Params{
		Venue:               legB.adapter.VenueTag(),
		OrderID:             orderIDB,
		Symbol:              p.Symbol,
		ExpectedSize:        fA,
		InitialPositionSize: initialB,
		Timeout:             e.cfg.SliceFillTimeout,
		PollInterval:        e.cfg.FillCheckInterval,
		PollCeiling:         e.cfg.OpenPollCeiling,
		IsClose:             false,
		OrderSide:           legB.side,
	})
	fB := resB.FilledSize
	result.SetFill(legB.side, fB)

	if fB.IsZero() {
		return e.rollbackLegA(ctx, p, legA, fA, "Leg B never filled", result)
	}

	imbalance := fA.Sub(fB).Abs()
	tolerance := fA.Mul(e.cfg.MaxImbalancePercent)
	if imbalance.GreaterThan(tolerance) {
		// Partial: leave both legs' actual fills in place; the orchestrator
		// decides whether to continue. Cancel leg B's resting remnant first —
		// it was only ever sized to fA and must not keep working in the
		// background once we've declared this slice done with it.
		if err := legB.adapter.CancelOrder(ctx, orderIDB, p.Symbol); err != nil {
			log.Warn().Err(err).Str("order_id", orderIDB).Msg("slice: best-effort cancel of leg B remnant failed")
		}
		e.reg.ForceClear(legB.adapter.VenueTag(), p.Symbol, legB.side)

		result.ErrorReason = fmt.Sprintf(
			"slice imbalance %s exceeds tolerance %s (legA=%s legB=%s)",
			imbalance.String(), tolerance.String(), fA.String(), fB.String(),
		)
		log.Warn().
			Str("symbol", p.Symbol).
			Int("slice", p.SliceIndex).
			Str("imbalance", imbalance.String()).
			Msg("slice partial fill beyond imbalance tolerance")
		return result
	}

	e.reg.UpdateOrderStatus(legB.adapter.VenueTag(), p.Symbol, legB.side, registry.StateFilled, orderIDB, "", false)
	result.BothFilled = true
	return result
}

// preFlightSafetyCheck re-reads equity on both venues and rejects a slice
// whose USD value exceeds the configured safety caps.
func (e *Executor) preFlightSafetyCheck(ctx context.Context, p Params) (string, bool) {
	longEquity, err := p.LongAdapter.GetEquity(ctx)
	if err != nil {
		return fmt.Sprintf("pre-flight: long equity query failed: %v", err), false
	}
	shortEquity, err := p.ShortAdapter.GetEquity(ctx)
	if err != nil {
		return fmt.Sprintf("pre-flight: short equity query failed: %v", err), false
	}
	totalPortfolio := longEquity.Add(shortEquity)

	avgPrice := p.LongPrice.Add(p.ShortPrice).Div(decimal.NewFromInt(2))
	sliceUSD := p.SliceSize.Mul(avgPrice)

	const slack = 1.1
	maxByPortfolio := totalPortfolio.Mul(e.cfg.MaxPortfolioPctPerSlice).Mul(decimal.NewFromFloat(slack))
	maxByUSD := e.cfg.MaxUSDPerSlice.Mul(decimal.NewFromFloat(slack))

	if sliceUSD.GreaterThan(maxByPortfolio) || sliceUSD.GreaterThan(maxByUSD) {
		return fmt.Sprintf(
			"slice USD %s exceeds safety cap (portfolio cap %s, usd cap %s)",
			sliceUSD.StringFixed(2), maxByPortfolio.StringFixed(2), maxByUSD.StringFixed(2),
		), false
	}
	return "", true
}

// snapshotPositionSize finds the current position size for (symbol, side) on
// adapter, returning zero if no such position exists.
func (e *Executor) snapshotPositionSize(ctx context.Context, adapter venue.Adapter, symbol string, side hedgetypes.OrderSide) (decimal.Decimal, error) {
	positions, err := adapter.GetPositions(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, pos := range positions {
		if pos.Symbol == symbol && pos.Side == side {
			return pos.Size, nil
		}
	}
	return decimal.Zero, nil
}

// placeAndWaitLeg handles PLACE_A/WAIT_A: it places a LIMIT GTC order and
// waits for its fill. isClose selects ClosePollCeiling instead of
// OpenPollCeiling as the backoff cap; Execute always passes false. Returns the
// actually filled size, the order id, a failure reason, and whether the leg
// succeeded.
func (e *Executor) placeAndWaitLeg(ctx context.Context, p Params, l leg, size, initialPos decimal.Decimal, isClose bool) (decimal.Decimal, string, string, bool) {
	if e.reg.HasActiveOrder(l.adapter.VenueTag(), p.Symbol, l.side) {
		return decimal.Zero, "", "race condition detected: active order already registered for this venue/symbol/side", false
	}
	if !e.reg.RegisterOrderPlacing(l.adapter.VenueTag(), p.Symbol, l.side, p.ThreadID, size.String(), l.price.String()) {
		return decimal.Zero, "", "race condition detected: concurrent registration for this venue/symbol/side", false
	}

	req := hedgetypes.OrderRequest{
		Symbol: p.Symbol,
		Side:   l.side,
		Type:   hedgetypes.OrderTypeLimit,
		Size:   size,
		Price:  l.price,
		TIF:    hedgetypes.TIFGoodTilCancel,
	}

	resp, err := l.adapter.PlaceOrder(ctx, req)
	if err != nil {
		e.reg.ForceClear(l.adapter.VenueTag(), p.Symbol, l.side)
		return decimal.Zero, "", fmt.Sprintf("leg placement transport error: %v", err), false
	}
	e.reg.UpdateOrderStatus(l.adapter.VenueTag(), p.Symbol, l.side, registry.StatePlaced, resp.OrderID, l.price.String(), false)

	if resp.Status == hedgetypes.StatusRejected {
		e.reg.ForceClear(l.adapter.VenueTag(), p.Symbol, l.side)
		return decimal.Zero, resp.OrderID, fmt.Sprintf("leg submission rejected: %s", resp.ErrorMessage), false
	}

	e.reg.UpdateOrderStatus(l.adapter.VenueTag(), p.Symbol, l.side, registry.StateWaitingFill, resp.OrderID, "", false)

	ceiling := e.cfg.OpenPollCeiling
	if isClose {
		ceiling = e.cfg.ClosePollCeiling
	}
	waiter := fillwaiter.New(l.adapter)
	res := waiter.Wait(ctx, fillwaiter.Params{
		Venue:               l.adapter.VenueTag(),
		OrderID:             resp.OrderID,
		Symbol:              p.Symbol,
		ExpectedSize:        size,
		InitialPositionSize: initialPos,
		Timeout:             e.cfg.SliceFillTimeout,
		PollInterval:        e.cfg.FillCheckInterval,
		PollCeiling:         ceiling,
		IsClose:             isClose,
		OrderSide:           l.side,
	})

	if res.FilledSize.IsZero() {
		e.reg.ForceClear(l.adapter.VenueTag(), p.Symbol, l.side)
		return decimal.Zero, resp.OrderID, "leg never filled", false
	}

	e.reg.UpdateOrderStatus(l.adapter.VenueTag(), p.Symbol, l.side, registry.StateFilled, resp.OrderID, "", false)
	return res.FilledSize, resp.OrderID, "", true
}

// placeLegB places the leg-B LIMIT GTC order sized exactly to leg A's actual
// fill. It does not wait for fill — the caller does that so it can choose the
// rollback path on placement failure versus fill-timeout.
func (e *Executor) placeLegB(ctx context.Context, p Params, l leg, size decimal.Decimal) (string, string, bool) {
	if e.reg.HasActiveOrder(l.adapter.VenueTag(), p.Symbol, l.side) {
		return "", "race condition detected on leg B", false
	}
	if !e.reg.RegisterOrderPlacing(l.adapter.VenueTag(), p.Symbol, l.side, p.ThreadID, size.String(), l.price.String()) {
		return "", "race condition detected on leg B registration", false
	}

	req := hedgetypes.OrderRequest{
		Symbol: p.Symbol,
		Side:   l.side,
		Type:   hedgetypes.OrderTypeLimit,
		Size:   size,
		Price:  l.price,
		TIF:    hedgetypes.TIFGoodTilCancel,
	}

	resp, err := l.adapter.PlaceOrder(ctx, req)
	if err != nil {
		e.reg.ForceClear(l.adapter.VenueTag(), p.Symbol, l.side)
		return "", fmt.Sprintf("leg B placement failed: %v", err), false
	}
	if resp.Status == hedgetypes.StatusRejected {
		e.reg.ForceClear(l.adapter.VenueTag(), p.Symbol, l.side)
		return resp.OrderID, fmt.Sprintf("leg B placement failed: %s", resp.ErrorMessage), false
	}

	e.reg.UpdateOrderStatus(l.adapter.VenueTag(), p.Symbol, l.side, registry.StateWaitingFill, resp.OrderID, "", false)
	return resp.OrderID, "", true
}

// rollbackLegA submits a MARKET IOC reduce-only order on leg A's venue,
// opposite side, for the full size filled.
func (e *Executor) rollbackLegA(ctx context.Context, p Params, legA leg, filledA decimal.Decimal, triggerReason string, result hedgetypes.SliceResult) hedgetypes.SliceResult {
	req := hedgetypes.OrderRequest{
		Symbol:     p.Symbol,
		Side:       legA.side.Opposite(),
		Type:       hedgetypes.OrderTypeMarket,
		Size:       filledA,
		TIF:        hedgetypes.TIFImmediateOrCancel,
		ReduceOnly: true,
	}

	resp, err := legA.adapter.PlaceOrder(ctx, req)
	rollbackFilled := decimal.Zero
	rollbackOK := err == nil && resp.Status == hedgetypes.StatusFilled
	if err == nil {
		rollbackFilled = resp.FilledSize
		if rollbackFilled.IsZero() && resp.Status != hedgetypes.StatusFilled {
			rollbackOK = false
		}
	}

	e.reg.ForceClear(legA.adapter.VenueTag(), p.Symbol, legA.side)

	if rollbackOK {
		// Residual closed: leg A's contribution nets to zero.
		result.SetFill(legA.side, decimal.Zero)
		result.ErrorReason = triggerReason
		log.Warn().
			Str("symbol", p.Symbol).
			Int("slice", p.SliceIndex).
			Str("reason", triggerReason).
			Msg("slice rolled back leg A via MARKET IOC reduce-only")
		return result
	}

	// Rollback failed or timed out: escalate, and preserve the residual in
	// the cumulative totals so final imbalance repair retries the close.
	errMsg := triggerReason
	if err != nil {
		errMsg = fmt.Sprintf("%s; rollback MARKET order error: %v", triggerReason, err)
	} else {
		errMsg = fmt.Sprintf("%s; rollback MARKET order not filled (status=%s)", triggerReason, resp.Status)
	}
	result.ErrorReason = "rollback failed, manual intervention required: " + errMsg

	e.sink.Emit(ctx, diagnostics.Event{
		Kind:    diagnostics.KindRollbackMarketFailed,
		Message: errMsg,
		Venue:   string(legA.adapter.VenueTag()),
		Symbol:  p.Symbol,
		Context: map[string]any{"residual_size": filledA.String(), "side": string(legA.side)},
	})

	return result
}

