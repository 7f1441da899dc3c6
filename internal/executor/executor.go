// Package executor applies a ladder replacement plan to the venue (spec
// §4.3): sequential or atomic update mode, self-trade prevention via
// side-aware peeling, parallel batch fan-out with bounded cancel retry.
// Adapted from the teacher's internal/og/gateway.go (pending-order map,
// Send/OnAck semantics, generalized here to a per-cycle batch instead of
// a long-lived pending map) and cmd/trader/main.go's runRecord/runReplay
// sync.WaitGroup fan-out idiom. strategy_lock is a capacity-1 channel —
// a binary semaphore made explicit at call sites, following the
// teacher's channel-based concurrency style over a bare sync.Mutex.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"marketmaker/internal/bus"
	apperr "marketmaker/internal/errors"
	"marketmaker/internal/ladder"
	"marketmaker/internal/obs"
	"marketmaker/internal/risk"
	"marketmaker/internal/schema"
	"marketmaker/internal/venue"

	"github.com/yanun0323/logs"
)

// Mode selects the update protocol §4.3.1/§4.3.2 describe.
type Mode uint8

const (
	ModeSequential Mode = iota
	ModeAtomic
)

// Config holds the executor's tunables, all sourced from spec §6's
// configuration surface.
type Config struct {
	Mode                      Mode
	MarginFactorPPM           uint32
	AtomicReplacementDelay    time.Duration
	EnableSelfTradePrevention bool
	SequentialPeelDelay       time.Duration
	CancelRetryDelay          time.Duration
}

// DefaultCancelRetryDelay is the "≈ 50 ms" batch-retry delay spec §4.3.4
// names.
const DefaultCancelRetryDelay = 50 * time.Millisecond

// Executor applies replacement plans against one Ladder through one
// venue.OrderApi, serialized by strategy_lock.
type Executor struct {
	cfg      Config
	ladder   *ladder.Ladder
	orderApi venue.OrderApi
	risk     *risk.Engine
	metrics  *obs.Metrics
	events   *bus.Queue

	lock     chan struct{}
	tagSeq   atomic.Uint64
	position atomic.Int64 // signed net position, for risk.Engine.Evaluate
}

// New returns an Executor. risk, metrics and events may all be nil.
func New(cfg Config, l *ladder.Ladder, orderApi venue.OrderApi, riskEngine *risk.Engine, metrics *obs.Metrics, events *bus.Queue) *Executor {
	if cfg.CancelRetryDelay <= 0 {
		cfg.CancelRetryDelay = DefaultCancelRetryDelay
	}
	e := &Executor{
		cfg:      cfg,
		ladder:   l,
		orderApi: orderApi,
		risk:     riskEngine,
		metrics:  metrics,
		events:   events,
		lock:     make(chan struct{}, 1),
	}
	e.lock <- struct{}{}
	return e
}

// publish records one replacement transition onto the audit bus, per
// spec §7's "meaningful transitions". A nil events queue, or a full/closed
// one, silently drops the record — this is observability, not control flow.
func (e *Executor) publish(kind bus.TransitionKind, side schema.ContractSide, levelIndex uint32, orderID schema.OrderID, detail string) {
	if e.events == nil {
		return
	}
	_ = e.events.TryPublish(bus.Event{
		Kind:       kind,
		Side:       side,
		LevelIndex: levelIndex,
		OrderID:    orderID,
		Detail:     detail,
		Timestamp:  time.Now().UTC(),
	})
}

// SetPosition updates the signed net position the risk guard evaluates
// against. Safe to call concurrently with Apply.
func (e *Executor) SetPosition(p int64) {
	e.position.Store(p)
}

func (e *Executor) acquire(ctx context.Context) error {
	select {
	case <-e.lock:
		return nil
	case <-ctx.Done():
		return apperr.Cancelled()
	}
}

func (e *Executor) release() {
	select {
	case e.lock <- struct{}{}:
	default:
	}
}

// Apply acquires strategy_lock and applies reps to the venue under the
// configured mode. Per-task failures inside a batch are isolated and
// logged, never returned — Apply only returns an error for cooperative
// cancellation (apperr.Cancelled) or a programming invariant violation.
func (e *Executor) Apply(ctx context.Context, reps []ladder.Replacement, token string) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	start := time.Now()
	defer func() { e.metrics.ObserveCycle(time.Since(start)) }()

	active := make([]ladder.Replacement, 0, len(reps))
	for _, r := range reps {
		if !r.NoOp() {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return nil
	}

	switch e.cfg.Mode {
	case ModeSequential:
		return e.applySequential(ctx, active, token)
	case ModeAtomic:
		if e.cfg.EnableSelfTradePrevention {
			return e.applyAtomicWithSTP(ctx, reps, active, token)
		}
		return e.applyAtomic(ctx, active, token)
	default:
		return apperr.Invariant(fmt.Sprintf("unknown executor mode %d", e.cfg.Mode))
	}
}

// applySequential implements §4.3.1: cancel first (clearing slots as they
// succeed), then submit all replacements.
func (e *Executor) applySequential(ctx context.Context, reps []ladder.Replacement, token string) error {
	toCancel := withOldOrder(reps)
	e.cancelBatch(ctx, toCancel, token, true)

	if ctx.Err() != nil {
		return apperr.Cancelled()
	}
	toSubmit := withPositiveQuantity(reps)
	e.submitBatch(ctx, toSubmit, token)
	return nil
}

// applyAtomic implements §4.3.2: submit first (updating slots
// immediately), sleep, then cancel (without clearing — the new order
// already occupies the slot).
func (e *Executor) applyAtomic(ctx context.Context, reps []ladder.Replacement, token string) error {
	toSubmit := withPositiveQuantity(reps)
	e.submitBatch(ctx, toSubmit, token)

	if err := sleepCtx(ctx, e.cfg.AtomicReplacementDelay); err != nil {
		return err
	}

	toCancel := withOldOrder(reps)
	e.cancelBatch(ctx, toCancel, token, false)
	return nil
}

// applyAtomicWithSTP implements §4.3.3's decision table. Crossing is
// detected from the changed slots (active); a peeled side is peeled over
// every one of its slots in reps, unchanged ones included, so its resting
// orders are off the book before the other side is submitted.
func (e *Executor) applyAtomicWithSTP(ctx context.Context, reps, active []ladder.Replacement, token string) error {
	bidReps, askReps := splitBySide(active)
	allBidReps, allAskReps := splitBySide(reps)

	bestBid, haveBid := bestNewPrice(bidReps, maxPrice)
	bestAsk, haveAsk := bestNewPrice(askReps, minPrice)

	currentBids := nonEmpty(e.ladder.AllLevels(schema.SideBid))
	currentAsks := nonEmpty(e.ladder.AllLevels(schema.SideAsk))

	bidsCross := haveBid && crossesAny(currentAsks, func(lv ladder.Level) bool { return bestBid >= lv.Price })
	asksCross := haveAsk && crossesAny(currentBids, func(lv ladder.Level) bool { return bestAsk <= lv.Price })

	switch {
	case bidsCross && asksCross:
		e.peelSide(ctx, schema.SideAsk, allAskReps, token)
		e.peelSide(ctx, schema.SideBid, allBidReps, token)
		return nil
	case bidsCross:
		e.peelSide(ctx, schema.SideAsk, allAskReps, token)
		return e.applyAtomic(ctx, bidReps, token)
	case asksCross:
		e.peelSide(ctx, schema.SideBid, allBidReps, token)
		return e.applyAtomic(ctx, askReps, token)
	default:
		return e.applyAtomic(ctx, active, token)
	}
}

// peelSide implements the §4.3.3 sequential peel: level-by-level,
// inside-out, cancel-sleep-submit-sleep, using sequential-mode
// slot-clearing semantics.
func (e *Executor) peelSide(ctx context.Context, side schema.ContractSide, reps []ladder.Replacement, token string) {
	if len(reps) == 0 {
		return
	}
	e.metrics.Inc(obs.EventSTPPeelStarted)
	e.publish(bus.TransitionSTPPeelStarted, side, 0, "", fmt.Sprintf("peeling %d level(s)", len(reps)))
	sorted := sortByLevel(reps)
	for _, r := range sorted {
		if ctx.Err() != nil {
			break
		}
		if r.OldOrderID != "" {
			e.cancelBatch(ctx, []ladder.Replacement{r}, token, true)
		}
		if sleepCtx(ctx, e.cfg.SequentialPeelDelay) != nil {
			break
		}
		if r.NewQuantity > 0 {
			e.submitBatch(ctx, []ladder.Replacement{r}, token)
		}
		if sleepCtx(ctx, e.cfg.SequentialPeelDelay) != nil {
			break
		}
	}
	e.metrics.Inc(obs.EventSTPPeelFinished)
	e.publish(bus.TransitionSTPPeelFinished, side, 0, "", fmt.Sprintf("peeled %d level(s)", len(reps)))
}

// submitOutcome is one submit task's result.
type submitOutcome struct {
	rep    ladder.Replacement
	result venue.SubmitResult
	err    error
}

func (e *Executor) submitBatch(ctx context.Context, reps []ladder.Replacement, token string) []submitOutcome {
	out := make([]submitOutcome, len(reps))
	var wg sync.WaitGroup
	for i, r := range reps {
		wg.Add(1)
		go func(i int, r ladder.Replacement) {
			defer wg.Done()
			out[i] = e.submitOne(ctx, r, token)
		}(i, r)
	}
	wg.Wait()

	for _, o := range out {
		if o.err != nil {
			continue
		}
		e.ladder.UpdateLevel(o.rep.Side, int(o.rep.LevelIndex), o.result.OrderID, o.rep.NewPrice, o.rep.NewQuantity)
	}
	return out
}

func (e *Executor) submitOne(ctx context.Context, r ladder.Replacement, token string) submitOutcome {
	if d := e.risk.Evaluate(r.Side, r.NewPrice, r.NewQuantity, e.position.Load()); !d.Allow {
		logs.Warn("submit denied by risk guard: side=%s level=%d reason=%s", r.Side, r.LevelIndex, d.Reason)
		e.metrics.Inc(obs.EventSubmitDenied)
		return submitOutcome{rep: r, err: fmt.Errorf("denied by risk guard: %s", d.Reason)}
	}

	start := time.Now()
	clientOrderID := e.nextClientOrderID(r.Side, r.LevelIndex)
	e.publish(bus.TransitionSubmitIssued, r.Side, r.LevelIndex, "", clientOrderID)
	result, err := e.orderApi.SubmitLimit(ctx, r.Side, r.NewPrice, r.NewQuantity, e.cfg.MarginFactorPPM, clientOrderID, token)
	e.metrics.ObserveSubmit(time.Since(start))
	if err != nil {
		logs.Warn("submit failed: side=%s level=%d client_order_id=%s err=%v", r.Side, r.LevelIndex, clientOrderID, err)
		e.metrics.Inc(obs.EventSubmitFailure)
		return submitOutcome{rep: r, err: err}
	}
	e.metrics.Inc(obs.EventSubmitSuccess)
	e.publish(bus.TransitionSubmitConfirmed, r.Side, r.LevelIndex, result.OrderID, clientOrderID)
	return submitOutcome{rep: r, result: result}
}

// cancelOutcome is one cancel task's result.
type cancelOutcome struct {
	rep     ladder.Replacement
	success bool
}

// cancelBatch runs one cancel batch, retries failures once after
// CancelRetryDelay (unconditionally, regardless of failure kind — §4.3.4
// and S4 both require the retry to happen before classification), then
// classifies: a nil error or a "already filled/closed"/"order unknown"
// venue-logical error both count as bookkeeping success. clearOnSuccess
// controls whether a successful cancel also clears the slot (true for
// sequential-mode and peel cancels, false for atomic-mode cancels).
func (e *Executor) cancelBatch(ctx context.Context, reps []ladder.Replacement, token string, clearOnSuccess bool) []cancelOutcome {
	toCancel := withOldOrder(reps)
	if len(toCancel) == 0 {
		return nil
	}

	firstErrs := e.cancelOnce(ctx, toCancel, token)

	var retryReps []ladder.Replacement
	var retryIdx []int
	for i, err := range firstErrs {
		if err != nil {
			retryReps = append(retryReps, toCancel[i])
			retryIdx = append(retryIdx, i)
		}
	}

	finalErrs := make([]error, len(toCancel))
	copy(finalErrs, firstErrs)

	if len(retryReps) > 0 && sleepCtx(ctx, e.cfg.CancelRetryDelay) == nil {
		e.metrics.Inc(obs.EventCancelRetried)
		retryErrs := e.cancelOnce(ctx, retryReps, token)
		for j, idx := range retryIdx {
			finalErrs[idx] = retryErrs[j]
		}
	}

	out := make([]cancelOutcome, len(toCancel))
	for i, r := range toCancel {
		success := isBookkeepingSuccess(finalErrs[i])
		out[i] = cancelOutcome{rep: r, success: success}
		if success {
			if finalErrs[i] != nil {
				e.metrics.Inc(obs.EventCancelLogicalSuccess)
			} else {
				e.metrics.Inc(obs.EventCancelSuccess)
			}
			e.publish(bus.TransitionCancelConfirmed, r.Side, r.LevelIndex, r.OldOrderID, "")
			if clearOnSuccess {
				e.ladder.ClearLevel(r.Side, int(r.LevelIndex))
			}
		} else {
			e.metrics.Inc(obs.EventCancelFailure)
			logs.Warn("cancel failed after retry: side=%s level=%d order_id=%s err=%v", r.Side, r.LevelIndex, r.OldOrderID, finalErrs[i])
		}
	}
	return out
}

func (e *Executor) cancelOnce(ctx context.Context, reps []ladder.Replacement, token string) []error {
	out := make([]error, len(reps))
	var wg sync.WaitGroup
	for i, r := range reps {
		wg.Add(1)
		go func(i int, r ladder.Replacement) {
			defer wg.Done()
			start := time.Now()
			e.publish(bus.TransitionCancelIssued, r.Side, r.LevelIndex, r.OldOrderID, "")
			_, err := e.orderApi.Cancel(ctx, r.OldOrderID, token)
			e.metrics.ObserveCancel(time.Since(start))
			out[i] = err
		}(i, r)
	}
	wg.Wait()
	return out
}

// isBookkeepingSuccess implements §4.3.5: a nil error is a success; an
// "already filled or closed"/"order unknown" venue-logical error is
// treated as success for slot bookkeeping, since the order is no longer
// live either way. Every other error (transport, or any other venue
// logical reason) is a real failure.
func isBookkeepingSuccess(err error) bool {
	if err == nil {
		return true
	}
	kind, ok := apperr.AsVenueLogical(err)
	if !ok {
		return false
	}
	return kind == apperr.VenueLogicalAlreadyFilledOrClosed || kind == apperr.VenueLogicalOrderUnknown
}

// EmergencyStop tries a best-effort cancel of every known active order ID
// (spec §4.3.4/§4.5), for use on shutdown. Failures are logged, never
// returned — this is explicitly best-effort.
func (e *Executor) EmergencyStop(ctx context.Context, token string) {
	ids := e.ladder.AllActiveOrderIDs()
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id schema.OrderID) {
			defer wg.Done()
			if _, err := e.orderApi.Cancel(ctx, id, token); err != nil {
				logs.Warn("emergency stop cancel failed: order_id=%s err=%v", id, err)
			}
		}(id)
	}
	wg.Wait()
}

func (e *Executor) nextClientOrderID(side schema.ContractSide, levelIndex uint32) string {
	tag := e.tagSeq.Add(1)
	sideTag := "Bid"
	if side == schema.SideAsk {
		sideTag = "Ask"
	}
	return fmt.Sprintf("MM-%s-L%d-%d", sideTag, levelIndex, tag)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return apperr.Cancelled()
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return apperr.Cancelled()
	}
}

func withOldOrder(reps []ladder.Replacement) []ladder.Replacement {
	out := make([]ladder.Replacement, 0, len(reps))
	for _, r := range reps {
		if r.OldOrderID != "" {
			out = append(out, r)
		}
	}
	return out
}

func withPositiveQuantity(reps []ladder.Replacement) []ladder.Replacement {
	out := make([]ladder.Replacement, 0, len(reps))
	for _, r := range reps {
		if r.NewQuantity > 0 && r.NewPrice > 0 {
			out = append(out, r)
		}
	}
	return out
}

func splitBySide(reps []ladder.Replacement) (bids, asks []ladder.Replacement) {
	for _, r := range reps {
		switch r.Side {
		case schema.SideBid:
			bids = append(bids, r)
		case schema.SideAsk:
			asks = append(asks, r)
		}
	}
	return
}

func nonEmpty(levels []ladder.Level) []ladder.Level {
	out := make([]ladder.Level, 0, len(levels))
	for _, lv := range levels {
		if !lv.Empty() {
			out = append(out, lv)
		}
	}
	return out
}

func maxPrice(a, b schema.Price) schema.Price {
	if a > b {
		return a
	}
	return b
}

func minPrice(a, b schema.Price) schema.Price {
	if a < b {
		return a
	}
	return b
}

// bestNewPrice folds reps' NewPrice with pick, skipping zero-quantity
// (i.e. not actually submitted) slots. ok is false if no slot qualifies.
func bestNewPrice(reps []ladder.Replacement, pick func(a, b schema.Price) schema.Price) (schema.Price, bool) {
	var best schema.Price
	ok := false
	for _, r := range reps {
		if r.NewQuantity == 0 || r.NewPrice == 0 {
			continue
		}
		if !ok {
			best, ok = r.NewPrice, true
			continue
		}
		best = pick(best, r.NewPrice)
	}
	return best, ok
}

func crossesAny(levels []ladder.Level, pred func(ladder.Level) bool) bool {
	for _, lv := range levels {
		if pred(lv) {
			return true
		}
	}
	return false
}

func sortByLevel(reps []ladder.Replacement) []ladder.Replacement {
	out := make([]ladder.Replacement, len(reps))
	copy(out, reps)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].LevelIndex < out[j-1].LevelIndex; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
