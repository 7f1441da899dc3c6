package calc

import (
	"testing"

	"marketmaker/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/decimal"
)

func TestToBaseFromBaseRoundTrip(t *testing.T) {
	d, err := decimal.NewFromString("65000.12345678")
	require.NoError(t, err)

	b, err := ToBase(d, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(6500012345678), b)

	back := FromBase(b, 8)
	assert.True(t, back.Equal(d), "expected %s, got %s", d, back)
}

func TestToBaseRejectsNegative(t *testing.T) {
	d, err := decimal.NewFromString("-1")
	require.NoError(t, err)

	_, err = ToBase(d, 8)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBidAskLevelsMonotoneAndDoNotCross(t *testing.T) {
	mid, err := ToBase(decimal.NewFromFloat(65000.00), 8)
	require.NoError(t, err)

	spread := decimal.NewFromFloat(10)
	spacing := decimal.NewFromFloat(5)

	bids, err := BidLevelsUSD(mid, spread, spacing, 2, 8)
	require.NoError(t, err)
	asks, err := AskLevelsUSD(mid, spread, spacing, 2, 8)
	require.NoError(t, err)

	require.Len(t, bids, 2)
	require.Len(t, asks, 2)
	assert.Less(t, bids[1], bids[0], "bid[1] must be < bid[0]")
	assert.Greater(t, asks[1], asks[0], "ask[1] must be > ask[0]")
	assert.Greater(t, asks[0], bids[0], "ask[0] must be > bid[0] when spread > 0")
}

func TestS1ScenarioLevels(t *testing.T) {
	mid, err := ToBase(decimal.NewFromFloat(65000.00), 8)
	require.NoError(t, err)

	spread := decimal.NewFromFloat(10)
	spacing := decimal.NewFromFloat(5)

	bids, err := BidLevelsUSD(mid, spread, spacing, 2, 8)
	require.NoError(t, err)
	asks, err := AskLevelsUSD(mid, spread, spacing, 2, 8)
	require.NoError(t, err)

	wantBid0, _ := ToBase(decimal.NewFromFloat(64995.00), 8)
	wantBid1, _ := ToBase(decimal.NewFromFloat(64990.00), 8)
	wantAsk0, _ := ToBase(decimal.NewFromFloat(65005.00), 8)
	wantAsk1, _ := ToBase(decimal.NewFromFloat(65010.00), 8)

	assert.Equal(t, wantBid0, bids[0])
	assert.Equal(t, wantBid1, bids[1])
	assert.Equal(t, wantAsk0, asks[0])
	assert.Equal(t, wantAsk1, asks[1])
}

func TestMargin(t *testing.T) {
	price := schema.Price(6500000000000) // 65000.00000000 @ 8 decimals
	qty := schema.Quantity(100000000)    // 1.00000000 @ 8 decimals

	got, err := Margin(price, qty, 200000, 8, 6) // 20% margin factor
	require.NoError(t, err)
	assert.Equal(t, uint64(13000000000), got) // 65000 * 1 * 0.2 = 13000.000000 @ 6 decimals
}

func TestQuantitiesForLevels(t *testing.T) {
	shape := LiquidityShape{SizeLevel0: 100, SizeLevel1To2: 50, SizeLevel3Plus: 10}
	qtys := QuantitiesForLevels(5, shape)
	assert.Equal(t, []schema.Quantity{100, 50, 50, 10, 10}, qtys)
}
