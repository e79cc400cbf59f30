// Package orchestrator implements the Hedge Orchestrator: the top-level
// entry point that turns one funding-rate Opportunity into a sequence of
// slice executions, followed by a final imbalance repair. Grounded on
// core/engine.go's mainLoop/processTick pipeline shape (feed -> strategy ->
// risk -> execution), narrowed here to opportunity -> plan -> slice loop ->
// repair, since opportunity discovery and strategy selection are out of
// scope for this engine.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hedgecore/engine/breaker"
	"github.com/hedgecore/engine/diagnostics"
	"github.com/hedgecore/engine/hedgetypes"
	"github.com/hedgecore/engine/preflight"
	"github.com/hedgecore/engine/registry"
	"github.com/hedgecore/engine/slice"
	"github.com/hedgecore/engine/venue"
)

// imbalanceRepairFloorUSD is the minimum residual USD value worth repairing;
// below this, dust is left unhedged rather than paying taker fees to close it.
const imbalanceRepairFloorUSD = 10

// interSlicePause separates consecutive slice placements so resting orders on
// both venues have a moment to settle before the next slice re-reads margin.
const interSlicePause = 1 * time.Second

// Config bundles every tunable the orchestrator and the packages it drives need.
type Config struct {
	Plan           PlanConfig
	Slice          slice.Config
	Breaker        breaker.Config
	Leverage       decimal.Decimal
	MinPositionUSD decimal.Decimal
	StaleCeiling   time.Duration
}

// Recorder persists execution/slice history out-of-band (e.g. journal.Journal).
// It is optional and write-only: nothing in this package ever reads through it.
type Recorder interface {
	RecordSlice(executionID, symbol string, r hedgetypes.SliceResult)
	RecordExecution(executionID, symbol string, r hedgetypes.ExecutionResult)
}

// Orchestrator is the process-wide coordinator. One Orchestrator may drive
// concurrent executions across distinct symbols; the registry enforces
// per-symbol serialization.
type Orchestrator struct {
	reg      *registry.Registry
	brk      *breaker.Breaker
	sink     diagnostics.Sink
	sliceEx  *slice.Executor
	recorder Recorder
	cfg      Config
}

// New wires an Orchestrator from its component config. The registry's
// janitor is not started here; callers run it via reg.RunJanitor in their
// own lifecycle goroutine (see cmd/hedgeengine). recorder may be nil.
func New(sink diagnostics.Sink, recorder Recorder, cfg Config) *Orchestrator {
	reg := registry.New(cfg.StaleCeiling)
	brk := breaker.New(cfg.Breaker)
	sliceEx := slice.New(reg, sink, cfg.Slice)
	return &Orchestrator{reg: reg, brk: brk, sink: sink, sliceEx: sliceEx, recorder: recorder, cfg: cfg}
}

// Registry exposes the underlying lock registry so callers can start its janitor.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// Breaker exposes the underlying circuit breaker for status reporting.
func (o *Orchestrator) Breaker() *breaker.Breaker { return o.brk }

// Execute drives one opportunity from pre-flight sizing through the slice
// loop to final imbalance repair, returning a complete, exception-free
// ExecutionResult. longAdapter/shortAdapter must correspond to opp.LongVenue
// and opp.ShortVenue respectively.
func (o *Orchestrator) Execute(ctx context.Context, opp hedgetypes.Opportunity, longAdapter, shortAdapter venue.Adapter) hedgetypes.ExecutionResult {
	threadID := o.reg.GenerateThreadID()

	if !o.reg.TryAcquireSymbol(opp.Symbol, threadID, "hedge-execution") {
		return hedgetypes.ExecutionResult{AbortReason: fmt.Sprintf("symbol %s busy with another execution", opp.Symbol)}
	}

	released := false
	release := func() {
		if !released {
			o.reg.ReleaseSymbol(opp.Symbol, threadID)
			released = true
		}
	}
	defer func() {
		if r := recover(); r != nil {
			release()
			log.Error().Interface("panic", r).Str("symbol", opp.Symbol).Msg("orchestrator: recovered panic, symbol lock released")
			panic(r)
		}
		release()
	}()

	if !o.brk.CanOpenNewPosition() {
		return hedgetypes.ExecutionResult{AbortReason: fmt.Sprintf("circuit breaker open: %s", o.brk.Reason())}
	}

	preflight.CancelStaleOrders(ctx, longAdapter, shortAdapter, opp.Symbol)

	sizing, err := preflight.ScaleToMargin(ctx, longAdapter, shortAdapter, opp, o.cfg.Leverage, o.cfg.MinPositionUSD)
	if err != nil {
		o.brk.RecordError("preflight: " + err.Error())
		return hedgetypes.ExecutionResult{AbortReason: err.Error()}
	}
	if sizing.Rejected {
		return hedgetypes.ExecutionResult{AbortReason: sizing.RejectReason}
	}
	opp = sizing.Opportunity

	longEquity, err := longAdapter.GetEquity(ctx)
	if err != nil {
		o.brk.RecordError("orchestrator: long equity query failed: " + err.Error())
		return hedgetypes.ExecutionResult{AbortReason: err.Error()}
	}
	shortEquity, err := shortAdapter.GetEquity(ctx)
	if err != nil {
		o.brk.RecordError("orchestrator: short equity query failed: " + err.Error())
		return hedgetypes.ExecutionResult{AbortReason: err.Error()}
	}
	totalPortfolio := longEquity.Add(shortEquity)

	timeToFunding := TimeToFunding(time.Now(), opp.LongVenue, opp.ShortVenue)
	avgPrice := opp.MidPrice()

	planResult := PlanSlices(opp.TargetSize, avgPrice, totalPortfolio, timeToFunding, o.cfg.Plan)
	if planResult.TimePressure {
		o.sink.Emit(ctx, diagnostics.Event{
			Kind:    diagnostics.KindSplicingSafetyViolation,
			Message: "funding window too short for safety-capped slice count; proceeding at safety cadence anyway",
			Symbol:  opp.Symbol,
			Context: map[string]any{
				"slices_for_time":   planResult.SlicesForTime,
				"slices_for_safety": planResult.SlicesForSafety,
				"time_to_funding":   timeToFunding.String(),
			},
		})
	}

	plan := planResult.Plan
	result := hedgetypes.ExecutionResult{
		TotalSlices:       plan.SliceCount,
		TimeToFundingUsed: timeToFunding,
	}

	firstIsLong := opp.FirstIsLong()

	for i := 0; i < plan.SliceCount; i++ {
		select {
		case <-ctx.Done():
			result.AbortReason = "execution cancelled before slice " + fmt.Sprint(i+1)
			return o.finalizeWithRepair(ctx, threadID, opp, plan, result, longAdapter, shortAdapter)
		default:
		}

		sliceResult := o.sliceEx.Execute(ctx, slice.Params{
			Symbol:       opp.Symbol,
			SliceIndex:   i + 1,
			SliceSize:    plan.SliceSize,
			LongAdapter:  longAdapter,
			ShortAdapter: shortAdapter,
			LongPrice:    opp.LongPrice,
			ShortPrice:   opp.ShortPrice,
			FirstIsLong:  firstIsLong,
			ThreadID:     threadID,
		})

		result.SliceResults = append(result.SliceResults, sliceResult)
		result.TotalLongFilled = result.TotalLongFilled.Add(sliceResult.LongFilled)
		result.TotalShortFilled = result.TotalShortFilled.Add(sliceResult.ShortFilled)
		if o.recorder != nil {
			o.recorder.RecordSlice(threadID, opp.Symbol, sliceResult)
		}

		if !sliceResult.BothFilled {
			result.CompletedSlices = i
			result.AbortReason = sliceResult.ErrorReason
			o.brk.RecordError("slice failure: " + sliceResult.ErrorReason)
			return o.finalizeWithRepair(ctx, threadID, opp, plan, result, longAdapter, shortAdapter)
		}
		result.CompletedSlices = i + 1

		if i < plan.SliceCount-1 {
			select {
			case <-time.After(interSlicePause):
			case <-ctx.Done():
			}
		}
	}

	return o.finalizeWithRepair(ctx, threadID, opp, plan, result, longAdapter, shortAdapter)
}

// finalizeWithRepair computes the cumulative imbalance, attempts a final
// MARKET IOC reduce-only repair when it exceeds the dust floor, records the
// outcome to the breaker and the journal, and sets Success per the clean
// criterion: every planned slice completed and the post-repair imbalance is
// negligible.
func (o *Orchestrator) finalizeWithRepair(ctx context.Context, executionID string, opp hedgetypes.Opportunity, plan hedgetypes.SlicePlan, result hedgetypes.ExecutionResult, longAdapter, shortAdapter venue.Adapter) hedgetypes.ExecutionResult {
	delta := result.TotalLongFilled.Sub(result.TotalShortFilled)
	deltaUSD := delta.Abs().Mul(plan.AvgPrice)

	if deltaUSD.GreaterThan(decimal.NewFromInt(imbalanceRepairFloorUSD)) {
		repaired, repairedSize := o.repairImbalance(ctx, opp, delta, longAdapter, shortAdapter)
		if repaired {
			if delta.GreaterThan(decimal.Zero) {
				result.TotalLongFilled = result.TotalLongFilled.Sub(repairedSize)
			} else {
				result.TotalShortFilled = result.TotalShortFilled.Sub(repairedSize)
			}
		}
		delta = result.TotalLongFilled.Sub(result.TotalShortFilled)
		deltaUSD = delta.Abs().Mul(plan.AvgPrice)
	}

	allSlicesDone := result.CompletedSlices == result.TotalSlices
	result.Success = allSlicesDone && deltaUSD.LessThanOrEqual(decimal.NewFromInt(imbalanceRepairFloorUSD))

	if result.Success {
		o.brk.RecordSuccess()
	} else if result.AbortReason == "" {
		result.AbortReason = fmt.Sprintf("residual imbalance %s USD remains after repair", deltaUSD.StringFixed(2))
	}

	if o.recorder != nil {
		o.recorder.RecordExecution(executionID, opp.Symbol, result)
	}

	return result
}

// repairImbalance closes the larger side's excess on its own venue with a
// MARKET IOC reduce-only order. delta > 0 means LONG is ahead, so the repair
// order reduces LONG (a SHORT order on the long venue); delta < 0 is symmetric.
func (o *Orchestrator) repairImbalance(ctx context.Context, opp hedgetypes.Opportunity, delta decimal.Decimal, longAdapter, shortAdapter venue.Adapter) (bool, decimal.Decimal) {
	var adapter venue.Adapter
	var side hedgetypes.OrderSide
	size := delta.Abs()

	if delta.GreaterThan(decimal.Zero) {
		adapter = longAdapter
		side = hedgetypes.SideShort
	} else {
		adapter = shortAdapter
		side = hedgetypes.SideLong
	}

	req := hedgetypes.OrderRequest{
		Symbol:     opp.Symbol,
		Side:       side,
		Type:       hedgetypes.OrderTypeMarket,
		Size:       size,
		TIF:        hedgetypes.TIFImmediateOrCancel,
		ReduceOnly: true,
	}

	resp, err := adapter.PlaceOrder(ctx, req)
	if err != nil || resp.Status != hedgetypes.StatusFilled {
		msg := "final imbalance repair order did not fill"
		if err != nil {
			msg = fmt.Sprintf("final imbalance repair transport error: %v", err)
		}
		o.sink.Emit(ctx, diagnostics.Event{
			Kind:    diagnostics.KindRollbackException,
			Message: msg,
			Venue:   string(adapter.VenueTag()),
			Symbol:  opp.Symbol,
			Context: map[string]any{"residual_size": size.String()},
		})
		return false, decimal.Zero
	}

	log.Info().
		Str("symbol", opp.Symbol).
		Str("side", string(side)).
		Str("size", resp.FilledSize.String()).
		Msg("final imbalance repaired")
	return true, resp.FilledSize
}
