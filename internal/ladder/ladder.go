// Package ladder is the single source of truth for the worker's own
// resting orders (spec §4.2). It owns two fixed-length arrays of levels,
// one per ContractSide, and computes the minimal replacement plan against
// a target price/quantity set. Adapted from the teacher's
// internal/og/state_machine.go mutex-guarded CRUD shape, generalized from
// a per-order-ID map to the spec's fixed [side][level] array model.
package ladder

import (
	"sync"
	"time"

	"marketmaker/internal/schema"
)

// Level is an owned record per (side, level-index). OrderID is present iff
// Price > 0 && Quantity > 0 (spec §3 invariant).
type Level struct {
	LevelIndex  uint32
	OrderID     schema.OrderID
	Price       schema.Price
	Quantity    schema.Quantity
	LastUpdated time.Time
}

// Empty reports whether the level currently has no live order.
func (l Level) Empty() bool {
	return l.OrderID == ""
}

// Replacement is a planned mutation for one (side, level) slot.
type Replacement struct {
	LevelIndex  uint32
	Side        schema.ContractSide
	OldOrderID  schema.OrderID
	OldPrice    schema.Price
	OldQuantity schema.Quantity
	NewPrice    schema.Price
	NewQuantity schema.Quantity
}

// NoOp reports whether this slot's (price, quantity) is unchanged — the
// replacement-generation short-circuit spec §4.2's design note allows.
func (r Replacement) NoOp() bool {
	return r.OldPrice == r.NewPrice && r.OldQuantity == r.NewQuantity
}

// Ladder is the in-memory model of the worker's own order book: two
// fixed-length arrays of Level, indexed [0..numLevels), for Bid and Ask.
// All mutation is serialized by one internal mutex.
type Ladder struct {
	mu        sync.Mutex
	numLevels int
	bid       []Level
	ask       []Level
}

// New returns an uninitialized Ladder. Call Initialize before use.
func New() *Ladder {
	return &Ladder{}
}

// Initialize allocates n empty Bid and n empty Ask slots. Idempotent after
// a full ClearAll.
func (l *Ladder) Initialize(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.numLevels = n
	l.bid = make([]Level, n)
	l.ask = make([]Level, n)
	for i := 0; i < n; i++ {
		l.bid[i].LevelIndex = uint32(i)
		l.ask[i].LevelIndex = uint32(i)
	}
}

// NumLevels returns the configured number of levels per side.
func (l *Ladder) NumLevels() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.numLevels
}

func (l *Ladder) sideSlice(side schema.ContractSide) []Level {
	switch side {
	case schema.SideBid:
		return l.bid
	case schema.SideAsk:
		return l.ask
	default:
		return nil
	}
}

// UpdateLevel sets a slot's live order. Out-of-range i is silently ignored
// (callers are expected to log once at the boundary) — this policy
// preserves liveness when stale replacement plans arrive during shutdown.
func (l *Ladder) UpdateLevel(side schema.ContractSide, i int, orderID schema.OrderID, price schema.Price, qty schema.Quantity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	levels := l.sideSlice(side)
	if i < 0 || i >= len(levels) {
		return
	}
	levels[i].OrderID = orderID
	levels[i].Price = price
	levels[i].Quantity = qty
	levels[i].LastUpdated = time.Now().UTC()
}

// ClearLevel resets a slot to empty. Out-of-range i is silently ignored.
func (l *Ladder) ClearLevel(side schema.ContractSide, i int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	levels := l.sideSlice(side)
	if i < 0 || i >= len(levels) {
		return
	}
	levels[i] = Level{LevelIndex: uint32(i), LastUpdated: time.Now().UTC()}
}

// GetLevel returns a snapshot copy of one slot. ok is false for an
// out-of-range index.
func (l *Ladder) GetLevel(side schema.ContractSide, i int) (Level, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	levels := l.sideSlice(side)
	if i < 0 || i >= len(levels) {
		return Level{}, false
	}
	return levels[i], true
}

// AllLevels returns a snapshot copy of every slot on one side.
func (l *Ladder) AllLevels(side schema.ContractSide) []Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	levels := l.sideSlice(side)
	out := make([]Level, len(levels))
	copy(out, levels)
	return out
}

// AllActiveOrderIDs enumerates live order IDs across both sides.
func (l *Ladder) AllActiveOrderIDs() []schema.OrderID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]schema.OrderID, 0, len(l.bid)+len(l.ask))
	for _, lv := range l.bid {
		if !lv.Empty() {
			out = append(out, lv.OrderID)
		}
	}
	for _, lv := range l.ask {
		if !lv.Empty() {
			out = append(out, lv.OrderID)
		}
	}
	return out
}

// FindOrderLevel is the linear-scan inverse of UpdateLevel: given an order
// ID, returns which (side, index) slot holds it.
func (l *Ladder) FindOrderLevel(id schema.OrderID) (schema.ContractSide, int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, lv := range l.bid {
		if !lv.Empty() && lv.OrderID == id {
			return schema.SideBid, i, true
		}
	}
	for i, lv := range l.ask {
		if !lv.Empty() && lv.OrderID == id {
			return schema.SideAsk, i, true
		}
	}
	return schema.SideUnknown, -1, false
}

// ActiveCounts returns the number of live orders per side.
func (l *Ladder) ActiveCounts() (bidCount, askCount int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, lv := range l.bid {
		if !lv.Empty() {
			bidCount++
		}
	}
	for _, lv := range l.ask {
		if !lv.Empty() {
			askCount++
		}
	}
	return bidCount, askCount
}

// ClearAll resets every slot on both sides to empty.
func (l *Ladder) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.bid {
		l.bid[i] = Level{LevelIndex: uint32(i)}
	}
	for i := range l.ask {
		l.ask[i] = Level{LevelIndex: uint32(i)}
	}
}

// CalculateReplacements produces 2*numLevels replacement entries, one per
// slot, with OldOrderID/OldPrice/OldQuantity copied from the current slot
// and NewPrice/NewQuantity taken from the inputs. Every level is included
// on every call — the spec's source does not filter by price-moved
// tolerance; implementers may short-circuit no-ops via Replacement.NoOp,
// but generation itself stays unconditional.
func (l *Ladder) CalculateReplacements(newBidPrices, newAskPrices []schema.Price, newQuantities []schema.Quantity) []Replacement {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.numLevels
	out := make([]Replacement, 0, 2*n)
	for i := 0; i < n; i++ {
		bid := l.bid[i]
		out = append(out, Replacement{
			LevelIndex:  uint32(i),
			Side:        schema.SideBid,
			OldOrderID:  bid.OrderID,
			OldPrice:    bid.Price,
			OldQuantity: bid.Quantity,
			NewPrice:    indexOrZeroPrice(newBidPrices, i),
			NewQuantity: indexOrZeroQty(newQuantities, i),
		})
	}
	for i := 0; i < n; i++ {
		ask := l.ask[i]
		out = append(out, Replacement{
			LevelIndex:  uint32(i),
			Side:        schema.SideAsk,
			OldOrderID:  ask.OrderID,
			OldPrice:    ask.Price,
			OldQuantity: ask.Quantity,
			NewPrice:    indexOrZeroPrice(newAskPrices, i),
			NewQuantity: indexOrZeroQty(newQuantities, i),
		})
	}
	return out
}

func indexOrZeroPrice(s []schema.Price, i int) schema.Price {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

func indexOrZeroQty(s []schema.Quantity, i int) schema.Quantity {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}
