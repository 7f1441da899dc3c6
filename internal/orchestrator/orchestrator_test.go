package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketmaker/internal/auth"
	"marketmaker/internal/calc"
	"marketmaker/internal/executor"
	"marketmaker/internal/ladder"
	"marketmaker/internal/obs"
	"marketmaker/internal/risk"
	"marketmaker/internal/schema"
	"marketmaker/internal/settlement"
	"marketmaker/internal/venue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/decimal"
)

type fakePriceSource struct {
	ch chan venue.PriceTick
}

func newFakePriceSource() *fakePriceSource {
	return &fakePriceSource{ch: make(chan venue.PriceTick, 8)}
}

func (f *fakePriceSource) Subscribe(ctx context.Context, key string, pollInterval time.Duration) (<-chan venue.PriceTick, error) {
	return f.ch, nil
}

type fakeMarketInfoApi struct {
	info venue.MarketInfo
	err  error
}

func (f *fakeMarketInfoApi) GetMarketInfo(symbol string) (venue.MarketInfo, error) {
	return f.info, f.err
}

type fakeOrderApi struct {
	mu          sync.Mutex
	submitCount int
	cancelCount int
}

func (f *fakeOrderApi) SubmitLimit(ctx context.Context, side schema.ContractSide, price schema.Price, qty schema.Quantity, marginFactorPPM uint32, clientOrderID string, token string) (venue.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCount++
	return venue.SubmitResult{OrderID: schema.OrderID(clientOrderID), Status: venue.OrderStatusOpen}, nil
}

func (f *fakeOrderApi) Cancel(ctx context.Context, orderID schema.OrderID, token string) (venue.CancelResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCount++
	return venue.CancelResult{OrderID: orderID}, nil
}

type fakeAuthApi struct {
	calls atomic.Int64
}

func (f *fakeAuthApi) Authenticate(ctx context.Context) (venue.AuthToken, error) {
	f.calls.Add(1)
	return venue.AuthToken{Token: "tok", ExpiresInSeconds: 900}, nil
}

type fakeAccountApi struct {
	account venue.Account
}

func (f *fakeAccountApi) GetAccount(ctx context.Context, token string) (venue.Account, error) {
	return f.account, nil
}

func (f *fakeAccountApi) Settle(ctx context.Context, plan []venue.SettlementPlanEntry, token string, idempotencyKey string) (venue.SettlementResult, error) {
	return venue.SettlementResult{SettlementID: "s1"}, nil
}

func buildOrchestrator(t *testing.T) (*Orchestrator, *fakePriceSource, *fakeOrderApi) {
	t.Helper()
	priceSource := newFakePriceSource()
	marketInfo := &fakeMarketInfoApi{info: venue.MarketInfo{Symbol: "TEST", TradingDecimals: 2, SettlementDecimals: 2}}
	orderApi := &fakeOrderApi{}
	authApi := &fakeAuthApi{}
	accountApi := &fakeAccountApi{}

	l := ladder.New()
	tokens := auth.NewTokenManager(authApi)
	riskCfg := risk.Config{}
	exec := executor.New(executor.Config{Mode: executor.ModeAtomic, AtomicReplacementDelay: time.Millisecond}, l, orderApi, risk.NewEngine(riskCfg), obs.NewMetrics(), nil)
	planner := settlement.NewPlanner(accountApi, nil)

	cfg := Config{
		Symbol:             "TEST",
		NumLevels:          2,
		Liquidity:          calc.LiquidityShape{SizeLevel0: 10, SizeLevel1To2: 5, SizeLevel3Plus: 1},
		BaseSpreadUSD:      decimal.NewFromInt(10),
		LevelSpacingUSD:    decimal.NewFromInt(5),
		TradingDecimals:    2,
		SettlementDecimals: 2,
		RedisPollInterval:  time.Millisecond,
	}
	o := New(cfg, priceSource, marketInfo, tokens, l, exec, planner, obs.NewMetrics(), nil, riskCfg)
	return o, priceSource, orderApi
}

func TestRunFailsFatallyOnDecimalsMismatch(t *testing.T) {
	priceSource := newFakePriceSource()
	marketInfo := &fakeMarketInfoApi{info: venue.MarketInfo{Symbol: "TEST", TradingDecimals: 4, SettlementDecimals: 2}}
	l := ladder.New()
	tokens := auth.NewTokenManager(&fakeAuthApi{})
	exec := executor.New(executor.Config{Mode: executor.ModeAtomic}, l, &fakeOrderApi{}, nil, obs.NewMetrics(), nil)
	planner := settlement.NewPlanner(&fakeAccountApi{}, nil)

	cfg := Config{Symbol: "TEST", NumLevels: 1, TradingDecimals: 2, SettlementDecimals: 2}
	o := New(cfg, priceSource, marketInfo, tokens, l, exec, planner, obs.NewMetrics(), nil, risk.Config{})

	err := o.Run(context.Background())
	require.Error(t, err)
}

func TestPriceTickDrivesReplacementCycle(t *testing.T) {
	o, priceSource, orderApi := buildOrchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	priceSource.ch <- venue.PriceTick{Price: schema.Price(10000), Timestamp: time.Now().UTC()}
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not shut down")
	}

	orderApi.mu.Lock()
	defer orderApi.mu.Unlock()
	assert.Greater(t, orderApi.submitCount, 0, "a price tick should drive at least one submit")
}

func TestShutdownIssuesEmergencyStop(t *testing.T) {
	o, priceSource, orderApi := buildOrchestrator(t)
	o.cfg.ShutdownGrace = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	priceSource.ch <- venue.PriceTick{Price: schema.Price(10000), Timestamp: time.Now().UTC()}
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not shut down")
	}

	orderApi.mu.Lock()
	defer orderApi.mu.Unlock()
	assert.Greater(t, orderApi.cancelCount, 0, "shutdown should emergency-stop resting orders")
}
