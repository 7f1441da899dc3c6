package ladder

import (
	"testing"

	"marketmaker/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeStartsEmpty(t *testing.T) {
	l := New()
	l.Initialize(2)

	bidCount, askCount := l.ActiveCounts()
	assert.Equal(t, 0, bidCount)
	assert.Equal(t, 0, askCount)

	for i := 0; i < 2; i++ {
		lv, ok := l.GetLevel(schema.SideBid, i)
		require.True(t, ok)
		assert.True(t, lv.Empty())
	}
}

func TestUpdateThenClearRestoresEmptiness(t *testing.T) {
	l := New()
	l.Initialize(2)

	l.UpdateLevel(schema.SideBid, 0, "ord-1", 64995_00000000, 100)
	lv, _ := l.GetLevel(schema.SideBid, 0)
	assert.False(t, lv.Empty())

	l.ClearLevel(schema.SideBid, 0)
	lv, _ = l.GetLevel(schema.SideBid, 0)
	assert.True(t, lv.Empty())
}

func TestOutOfRangeIndexIsIgnored(t *testing.T) {
	l := New()
	l.Initialize(2)

	l.UpdateLevel(schema.SideBid, 5, "ord-x", 1, 1)
	l.ClearLevel(schema.SideAsk, -1)

	_, ok := l.GetLevel(schema.SideBid, 5)
	assert.False(t, ok)
}

func TestFindOrderLevelIsInverseOfUpdate(t *testing.T) {
	l := New()
	l.Initialize(3)

	l.UpdateLevel(schema.SideAsk, 2, "ord-42", 65010_00000000, 50)

	side, idx, ok := l.FindOrderLevel("ord-42")
	require.True(t, ok)
	assert.Equal(t, schema.SideAsk, side)
	assert.Equal(t, 2, idx)

	_, _, ok = l.FindOrderLevel("missing")
	assert.False(t, ok)
}

func TestCalculateReplacementsReturnsTwoN(t *testing.T) {
	l := New()
	l.Initialize(2)
	l.UpdateLevel(schema.SideBid, 0, "ord-1", 100, 10)

	newBids := []schema.Price{101, 102}
	newAsks := []schema.Price{201, 202}
	newQty := []schema.Quantity{11, 12}

	reps := l.CalculateReplacements(newBids, newAsks, newQty)
	require.Len(t, reps, 4)

	var bid0 Replacement
	for _, r := range reps {
		if r.Side == schema.SideBid && r.LevelIndex == 0 {
			bid0 = r
		}
	}
	assert.Equal(t, schema.OrderID("ord-1"), bid0.OldOrderID)
	assert.Equal(t, schema.Price(101), bid0.NewPrice)
	assert.Equal(t, schema.Quantity(11), bid0.NewQuantity)
}

func TestClearAllResetsBothSides(t *testing.T) {
	l := New()
	l.Initialize(2)
	l.UpdateLevel(schema.SideBid, 0, "ord-1", 100, 10)
	l.UpdateLevel(schema.SideAsk, 1, "ord-2", 200, 20)

	l.ClearAll()

	bidCount, askCount := l.ActiveCounts()
	assert.Equal(t, 0, bidCount)
	assert.Equal(t, 0, askCount)
}

func TestAllActiveOrderIDsEnumeratesBothSides(t *testing.T) {
	l := New()
	l.Initialize(2)
	l.UpdateLevel(schema.SideBid, 0, "ord-1", 100, 10)
	l.UpdateLevel(schema.SideAsk, 1, "ord-2", 200, 20)

	ids := l.AllActiveOrderIDs()
	assert.ElementsMatch(t, []schema.OrderID{"ord-1", "ord-2"}, ids)
}
