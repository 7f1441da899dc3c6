// Package orchestrator wires the Calculator, Ladder, Executor and
// Settlement Planner into the single long-running worker loop spec §4.5
// describes: startup validation, price-driven replacement cycles, a
// background token-refresh task, and a graceful shutdown sequence.
// Adapted from the teacher's cmd/trader/main.go runRecord shape — an
// atomic.Value-backed runtimeConfig holding a copy of the risk limits, a
// ticker-driven background goroutine matching watchConfig, and the same
// context-cancellation-propagates-cooperatively discipline.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"marketmaker/internal/auth"
	"marketmaker/internal/bus"
	"marketmaker/internal/calc"
	apperr "marketmaker/internal/errors"
	"marketmaker/internal/executor"
	"marketmaker/internal/ladder"
	"marketmaker/internal/obs"
	"marketmaker/internal/risk"
	"marketmaker/internal/schema"
	"marketmaker/internal/settlement"
	"marketmaker/internal/venue"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/logs"
)

// Config is the orchestrator's slice of spec §6's configuration surface —
// everything not already owned by the Executor or the ladder shape.
type Config struct {
	Symbol string

	NumLevels       int
	Liquidity       calc.LiquidityShape
	BaseSpreadUSD   decimal.Decimal
	LevelSpacingUSD decimal.Decimal

	TradingDecimals    uint32
	SettlementDecimals uint32

	RedisIndexKey     string
	RedisPollInterval time.Duration

	TokenRefreshInterval time.Duration
	ContinuousSettlement bool

	// ShutdownGrace is how long the orchestrator waits after unsubscribing
	// from price updates before issuing the emergency stop, letting any
	// in-flight cycle finish.
	ShutdownGrace time.Duration
	// SettlementTimeout bounds the final shutdown settlement attempt.
	SettlementTimeout time.Duration
}

// runtimeConfig holds the hot-reloadable risk limits behind an atomic
// pointer, mirroring the teacher's atomic.Value-backed runtimeConfig.
type runtimeConfig struct {
	v atomic.Value
}

func newRuntimeConfig(cfg risk.Config) *runtimeConfig {
	var rc runtimeConfig
	rc.v.Store(cfg)
	return &rc
}

func (r *runtimeConfig) Load() risk.Config {
	return r.v.Load().(risk.Config)
}

func (r *runtimeConfig) Update(cfg risk.Config) {
	r.v.Store(cfg)
}

// Orchestrator is the top-level run loop. Construct with New, then call
// Run once; Run blocks until ctx is cancelled or a fatal error occurs.
type Orchestrator struct {
	cfg Config

	priceSource venue.PriceSource
	marketInfo  venue.MarketInfoApi
	tokens      *auth.TokenManager
	ladder      *ladder.Ladder
	exec        *executor.Executor
	planner     *settlement.Planner
	metrics     *obs.Metrics
	events      *bus.Queue

	runtime  *runtimeConfig
	traceGen *obs.TraceGenerator
}

// New wires an Orchestrator from its fully-constructed collaborators.
// riskCfg seeds the orchestrator's runtime config; the Executor's
// risk.Engine is built separately and keeps its own limits.
func New(cfg Config, priceSource venue.PriceSource, marketInfo venue.MarketInfoApi, tokens *auth.TokenManager, l *ladder.Ladder, exec *executor.Executor, planner *settlement.Planner, metrics *obs.Metrics, events *bus.Queue, riskCfg risk.Config) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		priceSource: priceSource,
		marketInfo:  marketInfo,
		tokens:      tokens,
		ladder:      l,
		exec:        exec,
		planner:     planner,
		metrics:     metrics,
		events:      events,
		runtime:     newRuntimeConfig(riskCfg),
		traceGen:    obs.NewTraceGenerator(0),
	}
}

// UpdateRiskConfig replaces the risk limits stored in the orchestrator's
// runtime config. Nothing reads that copy back: the Executor's risk.Engine
// keeps the limits it was constructed with, so this does not change which
// submits the risk guard allows.
func (o *Orchestrator) UpdateRiskConfig(cfg risk.Config) {
	o.runtime.Update(cfg)
}

// Run implements spec §4.5's five steps end to end. It returns only on a
// fatal error (apperr.Fatal) or clean shutdown (ctx cancelled).
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.validateStartup(); err != nil {
		return err
	}

	o.ladder.Initialize(o.cfg.NumLevels)

	if o.planner != nil {
		if _, err := o.runSettlement(ctx, "startup"); err != nil && apperr.Fatal(err) {
			return err
		}
	}

	ticks, err := o.priceSource.Subscribe(ctx, o.cfg.RedisIndexKey, o.cfg.RedisPollInterval)
	if err != nil {
		return apperr.Configf(err, "subscribe to price source")
	}

	tokenCtx, stopTokenRefresh := context.WithCancel(ctx)
	defer stopTokenRefresh()
	go o.runTokenRefresh(tokenCtx)

	busCtx, stopBus := context.WithCancel(ctx)
	defer stopBus()
	if o.events != nil {
		go o.events.Run(busCtx, func(e bus.Event) {
			logs.Info("transition: kind=%s side=%s level=%d order_id=%s detail=%s", e.Kind, e.Side, e.LevelIndex, e.OrderID, e.Detail)
		})
	}

	loopErr := o.priceLoop(ctx, ticks)

	o.shutdown()
	return loopErr
}

// validateStartup implements spec §4.5 step 1: the venue's reported
// decimals must agree with configuration, or the process aborts fatally.
func (o *Orchestrator) validateStartup() error {
	if o.marketInfo == nil {
		return nil
	}
	reported, err := o.marketInfo.GetMarketInfo(o.cfg.Symbol)
	if err != nil {
		return apperr.Configf(err, "fetch venue market info")
	}
	configured := venue.MarketInfo{
		Symbol:             o.cfg.Symbol,
		TradingDecimals:    o.cfg.TradingDecimals,
		SettlementDecimals: o.cfg.SettlementDecimals,
	}
	if err := venue.ValidateDecimals(configured, reported); err != nil {
		return apperr.Configf(err, "startup decimals validation")
	}
	return nil
}

// priceLoop implements spec §4.5 step 3's six-step single-writer pipeline:
// on every tick, compute target prices/quantities, compute the replacement
// plan against the ladder's current state, and apply it through the
// Executor — which itself owns strategy_lock.
func (o *Orchestrator) priceLoop(ctx context.Context, ticks <-chan venue.PriceTick) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			if err := o.handleTick(ctx, tick); err != nil {
				if apperr.Is(err, apperr.KindCancelled) {
					return nil
				}
				if apperr.Fatal(err) {
					return err
				}
				logs.Error("replacement cycle failed: %v", err)
			}
		}
	}
}

func (o *Orchestrator) handleTick(ctx context.Context, tick venue.PriceTick) error {
	traceID := o.traceGen.Next()

	token, err := o.tokens.Token(ctx)
	if err != nil {
		logs.Error("trace=%d token fetch failed: %v", traceID, err)
		return nil
	}

	bidPrices, err := calc.BidLevelsUSD(uint64(tick.Price), o.cfg.BaseSpreadUSD, o.cfg.LevelSpacingUSD, o.cfg.NumLevels, o.cfg.TradingDecimals)
	if err != nil {
		return apperr.Invariant(fmt.Sprintf("bid ladder computation: %v", err))
	}
	askPrices, err := calc.AskLevelsUSD(uint64(tick.Price), o.cfg.BaseSpreadUSD, o.cfg.LevelSpacingUSD, o.cfg.NumLevels, o.cfg.TradingDecimals)
	if err != nil {
		return apperr.Invariant(fmt.Sprintf("ask ladder computation: %v", err))
	}
	quantities := calc.QuantitiesForLevels(o.cfg.NumLevels, o.cfg.Liquidity)

	newBid := toSchemaPrices(bidPrices)
	newAsk := toSchemaPrices(askPrices)
	reps := o.ladder.CalculateReplacements(newBid, newAsk, quantities)

	logs.Info("trace=%d replacement cycle: mid=%d levels=%d", traceID, tick.Price, o.cfg.NumLevels)
	return o.exec.Apply(ctx, reps, token)
}

func toSchemaPrices(base []uint64) []schema.Price {
	out := make([]schema.Price, len(base))
	for i, b := range base {
		out[i] = schema.Price(b)
	}
	return out
}

// runTokenRefresh implements spec §4.5 step 4: a background task that
// forces re-authentication every TokenRefreshInterval and, when continuous
// settlement is enabled, triggers a settlement run after each successful
// refresh.
func (o *Orchestrator) runTokenRefresh(ctx context.Context) {
	interval := o.cfg.TokenRefreshInterval
	if interval <= 0 {
		interval = 800 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.tokens.Refresh(ctx); err != nil {
				o.metrics.Inc(obs.EventTokenRefreshFailed)
				logs.Error("token refresh failed: %v", err)
				continue
			}
			o.metrics.Inc(obs.EventTokenRefreshed)
			logs.Info("token refreshed")

			if o.cfg.ContinuousSettlement && o.planner != nil {
				if _, err := o.runSettlement(ctx, "continuous"); err != nil {
					logs.Error("continuous settlement failed: %v", err)
				}
			}
		}
	}
}

func (o *Orchestrator) runSettlement(ctx context.Context, reason string) (settlement.Result, error) {
	token, err := o.tokens.Token(ctx)
	if err != nil {
		return settlement.Result{}, err
	}
	idempotencyKey := fmt.Sprintf("%s-%d", reason, time.Now().UTC().UnixNano())
	res, err := o.planner.Run(ctx, idempotencyKey, token)
	if err != nil {
		return settlement.Result{}, err
	}
	if o.events != nil && res.Submitted {
		o.events.TryPublish(bus.Event{Kind: bus.TransitionSettlementIssued, Detail: res.SettlementID, Timestamp: time.Now().UTC()})
	}
	return res, nil
}

// shutdown implements spec §4.5 step 5: stop accepting new price ticks
// (already done by priceLoop returning), wait ShutdownGrace for any
// in-flight cycle to finish, emergency-stop every resting order, then
// attempt one bounded final settlement.
func (o *Orchestrator) shutdown() {
	if o.cfg.ShutdownGrace > 0 {
		time.Sleep(o.cfg.ShutdownGrace)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	token, err := o.tokens.Token(stopCtx)
	if err != nil {
		logs.Error("shutdown: token fetch failed: %v", err)
	} else {
		o.exec.EmergencyStop(stopCtx, token)
	}

	if o.planner == nil {
		return
	}
	timeout := o.cfg.SettlementTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	settleCtx, cancelSettle := context.WithTimeout(context.Background(), timeout)
	defer cancelSettle()
	if _, err := o.runSettlement(settleCtx, "shutdown"); err != nil {
		logs.Error("shutdown settlement failed: %v", err)
	}
}
