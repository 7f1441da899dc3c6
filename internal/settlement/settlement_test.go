package settlement

import (
	"context"
	"testing"

	apperr "marketmaker/internal/errors"
	"marketmaker/internal/schema"
	"marketmaker/internal/venue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS5SettlementBalance(t *testing.T) {
	positions := []venue.Position{
		{PositionID: "L1", Side: schema.SideBid, Quantity: 100},
		{PositionID: "L2", Side: schema.SideBid, Quantity: 80},
		{PositionID: "S1", Side: schema.SideAsk, Quantity: 150},
		{PositionID: "S2", Side: schema.SideAsk, Quantity: 20},
	}

	plan, err := Build(positions)
	require.NoError(t, err)

	require.Len(t, plan.Shorts, 2)
	require.Len(t, plan.Longs, 2)

	assert.Equal(t, "S1", plan.Shorts[0].PositionID)
	assert.Equal(t, schema.Quantity(150), plan.Shorts[0].Quantity)
	assert.Equal(t, "S2", plan.Shorts[1].PositionID)
	assert.Equal(t, schema.Quantity(20), plan.Shorts[1].Quantity)

	assert.Equal(t, "L1", plan.Longs[0].PositionID)
	assert.Equal(t, schema.Quantity(100), plan.Longs[0].Quantity)
	assert.Equal(t, "L2", plan.Longs[1].PositionID)
	assert.Equal(t, schema.Quantity(70), plan.Longs[1].Quantity)

	assert.Equal(t, TotalQuantity(plan.Shorts), TotalQuantity(plan.Longs))
	assert.Equal(t, schema.Quantity(170), TotalQuantity(plan.Shorts))
}

func TestS6NoShortsYieldsEmptyPlanWithReason(t *testing.T) {
	positions := []venue.Position{
		{PositionID: "L1", Side: schema.SideBid, Quantity: 50},
	}

	plan, err := Build(positions)
	require.NoError(t, err)

	assert.True(t, plan.Empty())
	assert.Equal(t, "no settleable (L=50, S=0)", plan.Reason)
}

func TestBuildNeverProducesUnbalancedPlan(t *testing.T) {
	positions := []venue.Position{
		{PositionID: "L1", Side: schema.SideBid, Quantity: 7},
		{PositionID: "S1", Side: schema.SideAsk, Quantity: 3},
		{PositionID: "S2", Side: schema.SideAsk, Quantity: 9},
	}

	plan, err := Build(positions)
	require.NoError(t, err)
	assert.Equal(t, TotalQuantity(plan.Shorts), TotalQuantity(plan.Longs))
}

// stubAccountApi is a scriptable venue.AccountApi test double.
type stubAccountApi struct {
	account      venue.Account
	settleErr    error
	settleResult venue.SettlementResult
	settled      []venue.SettlementPlanEntry
}

func (s *stubAccountApi) GetAccount(ctx context.Context, token string) (venue.Account, error) {
	return s.account, nil
}

func (s *stubAccountApi) Settle(ctx context.Context, plan []venue.SettlementPlanEntry, token string, idempotencyKey string) (venue.SettlementResult, error) {
	s.settled = plan
	if s.settleErr != nil {
		return venue.SettlementResult{}, s.settleErr
	}
	return s.settleResult, nil
}

func TestPlannerRunEmptyPlanIsNotSubmitted(t *testing.T) {
	api := &stubAccountApi{account: venue.Account{Positions: []venue.Position{
		{PositionID: "L1", Side: schema.SideBid, Quantity: 10},
	}}}
	p := NewPlanner(api, nil)

	res, err := p.Run(context.Background(), "idem-1", "tok")
	require.NoError(t, err)
	assert.False(t, res.Submitted)
	assert.True(t, res.Plan.Empty())
}

func TestPlannerRunSubmitsBalancedPlan(t *testing.T) {
	api := &stubAccountApi{account: venue.Account{Positions: []venue.Position{
		{PositionID: "L1", Side: schema.SideBid, Quantity: 10},
		{PositionID: "S1", Side: schema.SideAsk, Quantity: 10},
	}}, settleResult: venue.SettlementResult{SettlementID: "settle-1"}}
	p := NewPlanner(api, nil)

	res, err := p.Run(context.Background(), "idem-2", "tok")
	require.NoError(t, err)
	assert.True(t, res.Submitted)
	assert.Equal(t, "settle-1", res.SettlementID)
	require.Len(t, api.settled, 2)
}

func TestPlannerRunTreatsAlreadySettledAsSoftWarning(t *testing.T) {
	api := &stubAccountApi{account: venue.Account{Positions: []venue.Position{
		{PositionID: "L1", Side: schema.SideBid, Quantity: 10},
		{PositionID: "S1", Side: schema.SideAsk, Quantity: 10},
	}}, settleErr: apperr.VenueLogical(apperr.VenueLogicalAlreadySettled, "already settled")}
	p := NewPlanner(api, nil)

	res, err := p.Run(context.Background(), "idem-3", "tok")
	require.NoError(t, err)
	assert.False(t, res.Submitted)
	assert.NotEmpty(t, res.SoftWarning)
}
