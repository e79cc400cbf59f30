// Package venue defines the uniform capability surface the execution engine
// requires of every exchange connector. The engine never implements a real
// venue itself — see venue/dexclob and venue/cexrest for reference adapters
// that exercise this interface against the two venue archetypes this engine
// describes.
package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/hedgecore/engine/hedgetypes"
)

// Adapter is the contract every venue connector must satisfy. PlaceOrder must
// never return an error for an order-level rejection (insufficient margin,
// price out of bounds, unknown symbol) — that is reported via the returned
// OrderResponse's Status/ErrorMessage. An error return is reserved for
// transport-level failure (the call could not reach the venue at all).
type Adapter interface {
	PlaceOrder(ctx context.Context, req hedgetypes.OrderRequest) (hedgetypes.OrderResponse, error)

	// CancelOrder is idempotent: cancelling an already-cancelled or already-
	// filled order silently succeeds.
	CancelOrder(ctx context.Context, orderID, symbol string) error

	// CancelAllOrders bulk-cancels resting orders for symbol and returns the
	// number cancelled.
	CancelAllOrders(ctx context.Context, symbol string) (int, error)

	GetOrderStatus(ctx context.Context, orderID, symbol string) (hedgetypes.OrderResponse, error)

	GetPositions(ctx context.Context) ([]hedgetypes.PositionSnapshot, error)

	// GetEquity returns total collateral value in USD.
	GetEquity(ctx context.Context) (decimal.Decimal, error)

	// GetAvailableMargin returns free margin in USD, already reflecting
	// existing positions and the venue's own safety buffer. The engine treats
	// this value as truth for sizing.
	GetAvailableMargin(ctx context.Context) (decimal.Decimal, error)

	GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	VenueTag() hedgetypes.VenueTag
}
