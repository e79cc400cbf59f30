package slice

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgecore/engine/diagnostics"
	"github.com/hedgecore/engine/hedgetypes"
	"github.com/hedgecore/engine/registry"
)

// scriptedAdapter is a venue.Adapter whose PlaceOrder/GetOrderStatus behavior
// is scripted per test, immediately resolving every order to keep tests fast.
type scriptedAdapter struct {
	tag hedgetypes.VenueTag

	mu       sync.Mutex
	seq      int
	rejectNext bool
	fillFraction decimal.Decimal // 1.0 = full fill; 0 = never fills
	rollbackFills bool           // whether MARKET IOC reduce-only orders fill

	positions map[hedgetypes.OrderSide]decimal.Decimal
}

func newScriptedAdapter(tag hedgetypes.VenueTag) *scriptedAdapter {
	return &scriptedAdapter{
		tag:           tag,
		fillFraction:  decimal.NewFromInt(1),
		rollbackFills: true,
		positions:     make(map[hedgetypes.OrderSide]decimal.Decimal),
	}
}

func (a *scriptedAdapter) PlaceOrder(_ context.Context, req hedgetypes.OrderRequest) (hedgetypes.OrderResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	orderID := fmt.Sprintf("%s_%d", a.tag, a.seq)

	if a.rejectNext {
		a.rejectNext = false
		return hedgetypes.OrderResponse{OrderID: orderID, Status: hedgetypes.StatusRejected, ErrorMessage: "scripted rejection"}, nil
	}

	if req.ReduceOnly {
		if !a.rollbackFills {
			return hedgetypes.OrderResponse{OrderID: orderID, Status: hedgetypes.StatusCancelled}, nil
		}
		a.positions[req.Side.Opposite()] = a.positions[req.Side.Opposite()].Sub(req.Size)
		return hedgetypes.OrderResponse{OrderID: orderID, Status: hedgetypes.StatusFilled, FilledSize: req.Size}, nil
	}

	filled := req.Size.Mul(a.fillFraction)
	a.positions[req.Side] = a.positions[req.Side].Add(filled)

	status := hedgetypes.StatusFilled
	if filled.IsZero() {
		status = hedgetypes.StatusSubmitted
	}
	return hedgetypes.OrderResponse{OrderID: orderID, Status: status, FilledSize: filled}, nil
}

func (a *scriptedAdapter) CancelOrder(context.Context, string, string) error { return nil }
func (a *scriptedAdapter) CancelAllOrders(context.Context, string) (int, error) { return 0, nil }

func (a *scriptedAdapter) GetOrderStatus(_ context.Context, orderID, _ string) (hedgetypes.OrderResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fillFraction.IsZero() {
		return hedgetypes.OrderResponse{OrderID: orderID, Status: hedgetypes.StatusSubmitted}, nil
	}
	return hedgetypes.OrderResponse{OrderID: orderID, Status: hedgetypes.StatusFilled, FilledSize: decimal.Zero}, nil
}

func (a *scriptedAdapter) GetPositions(_ context.Context) ([]hedgetypes.PositionSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []hedgetypes.PositionSnapshot
	for side, size := range a.positions {
		if size.GreaterThan(decimal.Zero) {
			out = append(out, hedgetypes.PositionSnapshot{Symbol: "BTC-PERP", Side: side, Size: size})
		}
	}
	return out, nil
}

func (a *scriptedAdapter) GetEquity(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000000), nil
}
func (a *scriptedAdapter) GetAvailableMargin(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000000), nil
}
func (a *scriptedAdapter) GetMarkPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (a *scriptedAdapter) VenueTag() hedgetypes.VenueTag { return a.tag }

func testConfig() Config {
	return Config{
		SliceFillTimeout:        2 * time.Second,
		FillCheckInterval:       50 * time.Millisecond,
		OpenPollCeiling:         200 * time.Millisecond,
		ClosePollCeiling:        400 * time.Millisecond,
		MaxImbalancePercent:     decimal.NewFromFloat(0.05),
		MaxPortfolioPctPerSlice: decimal.NewFromFloat(0.5),
		MaxUSDPerSlice:          decimal.NewFromFloat(1000000),
	}
}

func TestExecute_BothLegsFillCleanly(t *testing.T) {
	reg := registry.New(time.Minute)
	sink := diagnostics.NewLogSink()
	ex := New(reg, sink, testConfig())

	long := newScriptedAdapter(hedgetypes.VenueFlakyDEX)
	short := newScriptedAdapter(hedgetypes.VenueReliableCEX)

	result := ex.Execute(context.Background(), Params{
		Symbol:       "BTC-PERP",
		SliceIndex:   1,
		SliceSize:    decimal.NewFromFloat(1.0),
		LongAdapter:  long,
		ShortAdapter: short,
		LongPrice:    decimal.NewFromFloat(65000),
		ShortPrice:   decimal.NewFromFloat(65010),
		FirstIsLong:  true,
		ThreadID:     "thread-1",
	})

	require.True(t, result.BothFilled)
	assert.True(t, result.LongFilled.Equal(decimal.NewFromFloat(1.0)))
	assert.True(t, result.ShortFilled.Equal(decimal.NewFromFloat(1.0)))
	assert.Empty(t, result.ErrorReason)
}

func TestExecute_LegARejectedAbortsBeforeLegB(t *testing.T) {
	reg := registry.New(time.Minute)
	sink := diagnostics.NewLogSink()
	ex := New(reg, sink, testConfig())

	long := newScriptedAdapter(hedgetypes.VenueFlakyDEX)
	long.rejectNext = true
	short := newScriptedAdapter(hedgetypes.VenueReliableCEX)

	result := ex.Execute(context.Background(), Params{
		Symbol:       "BTC-PERP",
		SliceIndex:   1,
		SliceSize:    decimal.NewFromFloat(1.0),
		LongAdapter:  long,
		ShortAdapter: short,
		LongPrice:    decimal.NewFromFloat(65000),
		ShortPrice:   decimal.NewFromFloat(65010),
		FirstIsLong:  true,
		ThreadID:     "thread-1",
	})

	assert.False(t, result.BothFilled)
	assert.Contains(t, result.ErrorReason, "rejected")
	positions, _ := short.GetPositions(context.Background())
	assert.Empty(t, positions)
}

func TestExecute_LegBRejectedRollsBackLegA(t *testing.T) {
	reg := registry.New(time.Minute)
	sink := diagnostics.NewLogSink()
	ex := New(reg, sink, testConfig())

	long := newScriptedAdapter(hedgetypes.VenueFlakyDEX)
	short := newScriptedAdapter(hedgetypes.VenueReliableCEX)
	short.rejectNext = true

	result := ex.Execute(context.Background(), Params{
		Symbol:       "BTC-PERP",
		SliceIndex:   1,
		SliceSize:    decimal.NewFromFloat(1.0),
		LongAdapter:  long,
		ShortAdapter: short,
		LongPrice:    decimal.NewFromFloat(65000),
		ShortPrice:   decimal.NewFromFloat(65010),
		FirstIsLong:  true,
		ThreadID:     "thread-1",
	})

	assert.False(t, result.BothFilled)
	assert.Contains(t, result.ErrorReason, "leg B placement failed")
	assert.True(t, result.LongFilled.IsZero())
	assert.False(t, reg.HasActiveOrder(long.tag, "BTC-PERP", hedgetypes.SideLong))
}

func TestExecute_RollbackFailureEscalatesAndPreservesResidual(t *testing.T) {
	reg := registry.New(time.Minute)
	sink := diagnostics.NewLogSink()
	ex := New(reg, sink, testConfig())

	long := newScriptedAdapter(hedgetypes.VenueFlakyDEX)
	long.rollbackFills = false
	short := newScriptedAdapter(hedgetypes.VenueReliableCEX)
	short.rejectNext = true

	result := ex.Execute(context.Background(), Params{
		Symbol:       "BTC-PERP",
		SliceIndex:   1,
		SliceSize:    decimal.NewFromFloat(1.0),
		LongAdapter:  long,
		ShortAdapter: short,
		LongPrice:    decimal.NewFromFloat(65000),
		ShortPrice:   decimal.NewFromFloat(65010),
		FirstIsLong:  true,
		ThreadID:     "thread-1",
	})

	assert.False(t, result.BothFilled)
	assert.Contains(t, result.ErrorReason, "manual intervention required")
	// Residual preserved: leg A's fill stays in the reported result for the
	// orchestrator's final imbalance repair to retry.
	assert.True(t, result.LongFilled.Equal(decimal.NewFromFloat(1.0)))
}

func TestExecute_FlakyVenueAlwaysPlacedFirst(t *testing.T) {
	long := newScriptedAdapter(hedgetypes.VenueReliableCEX)
	short := newScriptedAdapter(hedgetypes.VenueFlakyDEX)

	p := Params{
		Symbol:       "BTC-PERP",
		SliceSize:    decimal.NewFromFloat(1.0),
		LongAdapter:  long,
		ShortAdapter: short,
		LongPrice:    decimal.NewFromFloat(65000),
		ShortPrice:   decimal.NewFromFloat(65010),
		FirstIsLong:  false,
	}
	legA, legB := p.legs()
	assert.Equal(t, hedgetypes.VenueFlakyDEX, legA.adapter.VenueTag())
	assert.Equal(t, hedgetypes.VenueReliableCEX, legB.adapter.VenueTag())
}
