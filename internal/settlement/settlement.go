// Package settlement implements the Settlement Planner (spec §4.4):
// partition open positions into longs and shorts, compute the maximal
// settleable quantity, and build a quantity-conserving netting plan.
// Position partitioning and the long/short walk are adapted from the
// teacher's internal/state/position.go PositionReducer, generalized from
// a single running balance into the two-sided matching walk spec §4.4
// describes.
package settlement

import (
	"fmt"

	apperr "marketmaker/internal/errors"
	"marketmaker/internal/schema"
	"marketmaker/internal/venue"
)

// PlanEntry is one netting instruction against one position.
type PlanEntry struct {
	PositionID string
	Quantity   schema.Quantity
}

// Plan is the output of Build: a balanced set of short- and
// long-partitioned netting instructions, or an empty plan with a reason.
type Plan struct {
	Shorts []PlanEntry
	Longs  []PlanEntry
	Reason string
}

// Empty reports whether the plan has nothing to settle.
func (p Plan) Empty() bool {
	return len(p.Shorts) == 0 && len(p.Longs) == 0
}

// TotalQuantity sums one partition's quantities.
func TotalQuantity(entries []PlanEntry) schema.Quantity {
	var total schema.Quantity
	for _, e := range entries {
		total += e.Quantity
	}
	return total
}

// Build implements spec §4.4 steps 1-5: partition, compute
// max_settleable, walk shorts then longs, and assert balance.
func Build(positions []venue.Position) (Plan, error) {
	var longs, shorts []venue.Position
	var longQty, shortQty schema.Quantity
	for _, p := range positions {
		switch p.Side {
		case schema.SideBid:
			longs = append(longs, p)
			longQty += p.Quantity
		case schema.SideAsk:
			shorts = append(shorts, p)
			shortQty += p.Quantity
		}
	}

	maxSettleable := minQuantity(longQty, shortQty)
	if maxSettleable == 0 {
		return Plan{Reason: fmt.Sprintf("no settleable (L=%d, S=%d)", longQty, shortQty)}, nil
	}

	shortEntries := walk(shorts, maxSettleable)
	longEntries := walk(longs, maxSettleable)

	if TotalQuantity(shortEntries) != TotalQuantity(longEntries) {
		return Plan{}, apperr.Invariant(fmt.Sprintf(
			"settlement plan unbalanced: shorts=%d longs=%d",
			TotalQuantity(shortEntries), TotalQuantity(longEntries)))
	}

	return Plan{Shorts: shortEntries, Longs: longEntries}, nil
}

// walk appends {id, min(pos.qty, remaining)} entries in position order
// until remaining reaches zero.
func walk(positions []venue.Position, maxSettleable schema.Quantity) []PlanEntry {
	remaining := maxSettleable
	out := make([]PlanEntry, 0, len(positions))
	for _, p := range positions {
		if remaining == 0 {
			break
		}
		take := p.Quantity
		if take > remaining {
			take = remaining
		}
		out = append(out, PlanEntry{PositionID: p.PositionID, Quantity: take})
		remaining -= take
	}
	return out
}

func minQuantity(a, b schema.Quantity) schema.Quantity {
	if a < b {
		return a
	}
	return b
}

// ToVenueEntries flattens a Plan's shorts and longs into the wire-shaped
// entries AccountApi.Settle expects.
func (p Plan) ToVenueEntries() []venue.SettlementPlanEntry {
	out := make([]venue.SettlementPlanEntry, 0, len(p.Shorts)+len(p.Longs))
	for _, e := range p.Shorts {
		out = append(out, venue.SettlementPlanEntry{PositionID: e.PositionID, Quantity: e.Quantity})
	}
	for _, e := range p.Longs {
		out = append(out, venue.SettlementPlanEntry{PositionID: e.PositionID, Quantity: e.Quantity})
	}
	return out
}
