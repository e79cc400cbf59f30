// Package hedgetypes holds the data model shared by every layer of the hedged
// execution engine: venue tags, order requests/responses, position snapshots,
// opportunities, and the slice/execution result types the orchestrator returns
// to its caller. Keeping these in one leaf package avoids the import cycles the
// the original multi-strategy tree suffered from (core.Engine <-> strategy.Signal).
package hedgetypes

import (
	"time"

	"github.com/shopspring/decimal"
)

// VenueTag is a closed enumeration of supported venues. Extensible at compile
// time: add a constant and, if it has flaky fill-reporting semantics, route it
// through IsFlaky.
type VenueTag string

const (
	VenueFlakyDEX    VenueTag = "FLAKY_DEX" // unreliable order-status endpoint; always leg A
	VenueReliableCEX VenueTag = "RELIABLE_CEX"
)

// IsFlaky reports whether this venue's LIMIT orders may be reported CANCELLED
// despite having actually filled, requiring position-delta fill detection.
func (v VenueTag) IsFlaky() bool {
	return v == VenueFlakyDEX
}

// FundingIntervalHours returns the venue's funding cadence. The flaky venue
// funds hourly; every other venue funds every eight hours. This table exists
// so NextFunding (see orchestrator) never has to special-case venue names.
func (v VenueTag) FundingIntervalHours() int {
	if v.IsFlaky() {
		return 1
	}
	return 8
}

// OrderSide is the directional side of an order.
type OrderSide string

const (
	SideLong  OrderSide = "LONG"
	SideShort OrderSide = "SHORT"
)

// Opposite returns the other side, used when constructing rollback/repair orders.
func (s OrderSide) Opposite() OrderSide {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderType is the order style.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// TimeInForce controls resting behavior.
type TimeInForce string

const (
	TIFGoodTilCancel  TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
)

// OrderStatus is the lifecycle status reported by a venue.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusSubmitted OrderStatus = "SUBMITTED"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// OrderRequest is an immutable description of an order to place. Construct a
// new value for every placement; never mutate one in flight.
type OrderRequest struct {
	Symbol      string
	Side        OrderSide
	Type        OrderType
	Size        decimal.Decimal
	Price       decimal.Decimal // zero for MARKET
	TIF         TimeInForce
	ReduceOnly  bool
}

// OrderResponse is the immutable result of placing, cancelling, or polling an order.
type OrderResponse struct {
	OrderID      string // may be empty on immediate rejection
	Status       OrderStatus
	FilledSize   decimal.Decimal
	AvgFillPrice decimal.Decimal
	ErrorMessage string
}

// PositionSnapshot is a read-only, on-demand view of an open position. Size is
// always non-negative; Side encodes direction.
type PositionSnapshot struct {
	Symbol     string
	Side       OrderSide
	Size       decimal.Decimal
	MarkPrice  decimal.Decimal
	EntryPrice decimal.Decimal
}

// Opportunity is the immutable carrier of intent handed to the orchestrator by
// the (out-of-scope) funding-rate aggregator. The engine never mutates it.
type Opportunity struct {
	Symbol       string
	LongVenue    VenueTag
	ShortVenue   VenueTag
	LongPrice    decimal.Decimal
	ShortPrice   decimal.Decimal
	TargetSize   decimal.Decimal // base-asset units
}

// MidPrice is the convertible-to-USD reference price for this opportunity.
func (o Opportunity) MidPrice() decimal.Decimal {
	return o.LongPrice.Add(o.ShortPrice).Div(decimal.NewFromInt(2))
}

// FirstIsLong reports whether the LONG leg must be placed first, i.e. whether
// the flaky venue (if either leg uses one) is the long venue. When neither leg
// is flaky, LONG is placed first by convention.
func (o Opportunity) FirstIsLong() bool {
	if o.LongVenue.IsFlaky() {
		return true
	}
	if o.ShortVenue.IsFlaky() {
		return false
	}
	return true
}

// SlicePlan is the output of orchestrator planning.
type SlicePlan struct {
	SliceCount   int
	SliceSize    decimal.Decimal // base asset, per slice
	AvgPrice     decimal.Decimal
	SliceUSD     decimal.Decimal
	TimeBudget   time.Duration
}

// SliceResult records the outcome of one atomic two-leg slice.
type SliceResult struct {
	SliceIndex   int
	LongFilled   decimal.Decimal
	ShortFilled  decimal.Decimal
	LongOrderID  string
	ShortOrderID string
	BothFilled   bool
	ErrorReason  string
}

// SetFill writes a fill amount into the side-appropriate field.
func (r *SliceResult) SetFill(side OrderSide, size decimal.Decimal) {
	if side == SideLong {
		r.LongFilled = size
	} else {
		r.ShortFilled = size
	}
}

// ExecutionResult is the structured, exception-free report the orchestrator
// returns to its caller.
type ExecutionResult struct {
	Success          bool
	TotalSlices      int
	CompletedSlices  int
	TotalLongFilled  decimal.Decimal
	TotalShortFilled decimal.Decimal
	SliceResults     []SliceResult
	AbortReason      string
	TimeToFundingUsed time.Duration
}
