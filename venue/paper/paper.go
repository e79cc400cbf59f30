// Package paper implements venue.Adapter as an in-memory simulated venue,
// grounded on exec/client.go's DRY_RUN short-circuit (NewClient's dryRun
// path fabricates an order id and logs instead of calling the network).
// It exists for demonstration and for exercising the engine end-to-end
// without a live exchange connection.
package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hedgecore/engine/hedgetypes"
)

// Adapter simulates a venue that fills every LIMIT order immediately at the
// requested price and every MARKET order immediately at the last known price.
type Adapter struct {
	tag hedgetypes.VenueTag

	mu        sync.Mutex
	orders    map[string]hedgetypes.OrderResponse
	positions map[string]hedgetypes.PositionSnapshot // key: symbol|side
	seq       int
	equity    decimal.Decimal
}

// NewPaperAdapter constructs a simulated venue tagged as tag, seeded with a
// nominal equity balance.
func NewPaperAdapter(tag hedgetypes.VenueTag) *Adapter {
	return &Adapter{
		tag:       tag,
		orders:    make(map[string]hedgetypes.OrderResponse),
		positions: make(map[string]hedgetypes.PositionSnapshot),
		equity:    decimal.NewFromInt(100000),
	}
}

// VenueTag implements venue.Adapter.
func (a *Adapter) VenueTag() hedgetypes.VenueTag { return a.tag }

// PlaceOrder fills immediately and updates the simulated position.
func (a *Adapter) PlaceOrder(_ context.Context, req hedgetypes.OrderRequest) (hedgetypes.OrderResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	orderID := fmt.Sprintf("PAPER_%s_%d", a.tag, a.seq)

	fillPrice := req.Price
	if req.Type == hedgetypes.OrderTypeMarket {
		for _, s := range []hedgetypes.OrderSide{hedgetypes.SideLong, hedgetypes.SideShort} {
			if p, ok := a.positions[req.Symbol+"|"+string(s)]; ok {
				fillPrice = p.MarkPrice
				break
			}
		}
	}

	resp := hedgetypes.OrderResponse{
		OrderID:      orderID,
		Status:       hedgetypes.StatusFilled,
		FilledSize:   req.Size,
		AvgFillPrice: fillPrice,
	}
	a.orders[orderID] = resp

	key := req.Symbol + "|" + string(req.Side)
	pos := a.positions[key]
	pos.Symbol = req.Symbol
	pos.Side = req.Side
	pos.Size = pos.Size.Add(req.Size)
	pos.MarkPrice = fillPrice
	pos.EntryPrice = fillPrice
	a.positions[key] = pos

	log.Debug().Str("venue", string(a.tag)).Str("order_id", orderID).Str("symbol", req.Symbol).Msg("paper: order filled")
	return resp, nil
}

// CancelOrder is a no-op: paper orders fill synchronously and are never left resting.
func (a *Adapter) CancelOrder(_ context.Context, orderID, _ string) error {
	return nil
}

// CancelAllOrders always reports zero resting orders cancelled.
func (a *Adapter) CancelAllOrders(_ context.Context, _ string) (int, error) {
	return 0, nil
}

// GetOrderStatus returns the recorded fill for orderID.
func (a *Adapter) GetOrderStatus(_ context.Context, orderID, _ string) (hedgetypes.OrderResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	resp, ok := a.orders[orderID]
	if !ok {
		return hedgetypes.OrderResponse{Status: hedgetypes.StatusRejected}, nil
	}
	return resp, nil
}

// GetPositions returns every simulated position with non-zero size.
func (a *Adapter) GetPositions(_ context.Context) ([]hedgetypes.PositionSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]hedgetypes.PositionSnapshot, 0, len(a.positions))
	for _, p := range a.positions {
		if p.Size.GreaterThan(decimal.Zero) {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetEquity returns the simulated account balance.
func (a *Adapter) GetEquity(_ context.Context) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.equity, nil
}

// GetAvailableMargin treats the whole simulated balance as available.
func (a *Adapter) GetAvailableMargin(ctx context.Context) (decimal.Decimal, error) {
	return a.GetEquity(ctx)
}

// GetMarkPrice returns the last traded price recorded for symbol, or a
// placeholder when none has traded yet.
func (a *Adapter) GetMarkPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, p := range a.positions {
		if key[:len(symbol)] == symbol {
			return p.MarkPrice, nil
		}
	}
	return decimal.Zero, nil
}
