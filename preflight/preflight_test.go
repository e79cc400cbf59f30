package preflight

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgecore/engine/hedgetypes"
)

type fakeAdapter struct {
	tag             hedgetypes.VenueTag
	availableMargin decimal.Decimal
	cancelCount     int
}

func (f *fakeAdapter) PlaceOrder(context.Context, hedgetypes.OrderRequest) (hedgetypes.OrderResponse, error) {
	return hedgetypes.OrderResponse{}, nil
}
func (f *fakeAdapter) CancelOrder(context.Context, string, string) error { return nil }
func (f *fakeAdapter) CancelAllOrders(context.Context, string) (int, error) {
	f.cancelCount++
	return 2, nil
}
func (f *fakeAdapter) GetOrderStatus(context.Context, string, string) (hedgetypes.OrderResponse, error) {
	return hedgetypes.OrderResponse{}, nil
}
func (f *fakeAdapter) GetPositions(context.Context) ([]hedgetypes.PositionSnapshot, error) {
	return nil, nil
}
func (f *fakeAdapter) GetEquity(context.Context) (decimal.Decimal, error) {
	return f.availableMargin, nil
}
func (f *fakeAdapter) GetAvailableMargin(context.Context) (decimal.Decimal, error) {
	return f.availableMargin, nil
}
func (f *fakeAdapter) GetMarkPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeAdapter) VenueTag() hedgetypes.VenueTag { return f.tag }

func TestCancelStaleOrders_CancelsOnBothVenues(t *testing.T) {
	long := &fakeAdapter{tag: hedgetypes.VenueFlakyDEX}
	short := &fakeAdapter{tag: hedgetypes.VenueReliableCEX}
	CancelStaleOrders(context.Background(), long, short, "BTC-PERP")
	assert.Equal(t, 1, long.cancelCount)
	assert.Equal(t, 1, short.cancelCount)
}

func TestScaleToMargin_NoScalingWhenMarginSufficient(t *testing.T) {
	long := &fakeAdapter{tag: hedgetypes.VenueFlakyDEX, availableMargin: decimal.NewFromFloat(100000)}
	short := &fakeAdapter{tag: hedgetypes.VenueReliableCEX, availableMargin: decimal.NewFromFloat(100000)}
	opp := hedgetypes.Opportunity{
		Symbol:     "BTC-PERP",
		LongPrice:  decimal.NewFromFloat(65000),
		ShortPrice: decimal.NewFromFloat(65000),
		TargetSize: decimal.NewFromFloat(1.0),
	}

	result, err := ScaleToMargin(context.Background(), long, short, opp, decimal.NewFromInt(3), decimal.NewFromFloat(25))
	require.NoError(t, err)
	assert.False(t, result.Scaled)
	assert.False(t, result.Rejected)
	assert.True(t, result.Opportunity.TargetSize.Equal(opp.TargetSize))
}

func TestScaleToMargin_ScalesDownToWeakerVenue(t *testing.T) {
	long := &fakeAdapter{tag: hedgetypes.VenueFlakyDEX, availableMargin: decimal.NewFromFloat(1000)}
	short := &fakeAdapter{tag: hedgetypes.VenueReliableCEX, availableMargin: decimal.NewFromFloat(100000)}
	opp := hedgetypes.Opportunity{
		Symbol:     "BTC-PERP",
		LongPrice:  decimal.NewFromFloat(65000),
		ShortPrice: decimal.NewFromFloat(65000),
		TargetSize: decimal.NewFromFloat(1.0),
	}

	result, err := ScaleToMargin(context.Background(), long, short, opp, decimal.NewFromInt(3), decimal.NewFromFloat(25))
	require.NoError(t, err)
	assert.True(t, result.Scaled)
	assert.False(t, result.Rejected)
	// Scaled notional == 1000 * 3 = 3000 USD, at 65000 per unit.
	expectedSize := decimal.NewFromFloat(3000).Div(decimal.NewFromFloat(65000))
	assert.True(t, result.Opportunity.TargetSize.Sub(expectedSize).Abs().LessThan(decimal.NewFromFloat(0.0001)))
}

func TestScaleToMargin_RejectsBelowMinimum(t *testing.T) {
	long := &fakeAdapter{tag: hedgetypes.VenueFlakyDEX, availableMargin: decimal.NewFromFloat(1)}
	short := &fakeAdapter{tag: hedgetypes.VenueReliableCEX, availableMargin: decimal.NewFromFloat(100000)}
	opp := hedgetypes.Opportunity{
		Symbol:     "BTC-PERP",
		LongPrice:  decimal.NewFromFloat(65000),
		ShortPrice: decimal.NewFromFloat(65000),
		TargetSize: decimal.NewFromFloat(1.0),
	}

	result, err := ScaleToMargin(context.Background(), long, short, opp, decimal.NewFromInt(3), decimal.NewFromFloat(25))
	require.NoError(t, err)
	assert.True(t, result.Rejected)
	assert.Contains(t, result.RejectReason, "below minimum position size")
}
