// Command mmworker is the market-making worker's entrypoint: it loads
// configuration, constructs every venue adapter, and runs the
// orchestrator until an OS signal or a fatal error stops it. Adapted from
// the teacher's cmd/trader/main.go wiring shape (context from
// signal.NotifyContext, log.Fatalf on unrecoverable setup errors) with the
// WAL-recorder/replay CLI flags dropped — this worker has no offline mode.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketmaker/internal/auth"
	"marketmaker/internal/bus"
	"marketmaker/internal/calc"
	apperr "marketmaker/internal/errors"
	"marketmaker/internal/executor"
	"marketmaker/internal/ladder"
	"marketmaker/internal/obs"
	"marketmaker/internal/orchestrator"
	"marketmaker/internal/pricefeed"
	"marketmaker/internal/risk"
	"marketmaker/internal/schema"
	"marketmaker/internal/settlement"
	"marketmaker/internal/venue"

	"marketmaker/internal/config"
	"marketmaker/pkg/conn"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/logs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr, ok := os.LookupEnv("PYROSCOPE_SERVER_ADDRESS"); ok && addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "marketmaker",
			ServerAddress:   addr,
			Tags:            map[string]string{"env": os.Getenv("ENVIRONMENT")},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	loaded, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if err := run(ctx, loaded); err != nil {
		if apperr.Fatal(err) {
			log.Fatalf("fatal: %v", err)
		}
		logs.Error("worker stopped: %v", err)
	}
}

func run(ctx context.Context, loaded config.Loaded) error {
	httpClient := venue.NewHTTPClient(loaded.APIBaseURL, loaded.PrivateKeyHex, hmacSHA256Signer)
	httpClient.AccountID = loaded.AccountID
	httpClient.LedgerID = loaded.LedgerID
	httpClient.KeyType = loaded.KeyType

	redisClient := redis.NewClient(&redis.Options{Addr: loaded.RedisConnectionString})
	defer redisClient.Close()
	priceSource := pricefeed.NewRedisSource(redisClient, loaded.TradingDecimals)

	tokens := auth.NewTokenManager(httpClient)

	l := ladder.New()
	metrics := obs.NewMetrics()
	riskCfg := loaded.Risk
	riskEngine := risk.NewEngine(riskCfg)

	execCfg := executor.Config{
		Mode:                      loaded.Mode,
		MarginFactorPPM:           loaded.InitialMarginFactorPPM,
		AtomicReplacementDelay:    loaded.AtomicReplacementDelay,
		EnableSelfTradePrevention: loaded.EnableSelfTradePrevention,
		SequentialPeelDelay:       loaded.SequentialPeelDelay,
	}
	events := bus.NewQueue(1024)
	exec := executor.New(execCfg, l, httpClient, riskEngine, metrics, events)

	var store *settlement.Store
	if connString, ok := os.LookupEnv("SETTLEMENT_AUDIT_DSN"); ok && connString != "" {
		client, err := conn.New(conn.Option{ConnString: connString})
		if err != nil {
			return apperr.Configf(err, "connect settlement audit database")
		}
		store, err = settlement.NewStore(client.DB())
		if err != nil {
			return apperr.Configf(err, "migrate settlement audit schema")
		}
	}
	planner := settlement.NewPlanner(httpClient, store)

	baseSpread, err := decimal.NewFromString(loaded.BaseSpreadUSD)
	if err != nil {
		return apperr.Configf(err, "parse base_spread_usd")
	}
	levelSpacing, err := decimal.NewFromString(loaded.LevelSpacingUSD)
	if err != nil {
		return apperr.Configf(err, "parse level_spacing_usd")
	}

	orchCfg := orchestrator.Config{
		Symbol:    loaded.LedgerID,
		NumLevels: loaded.NumLevels,
		Liquidity: calc.LiquidityShape{
			SizeLevel0:     schema.Quantity(loaded.Level0Quantity),
			SizeLevel1To2:  schema.Quantity(loaded.Levels1To2Quantity),
			SizeLevel3Plus: schema.Quantity(loaded.Levels3PlusQuantity),
		},
		BaseSpreadUSD:        baseSpread,
		LevelSpacingUSD:      levelSpacing,
		TradingDecimals:      loaded.TradingDecimals,
		SettlementDecimals:   loaded.SettlementDecimals,
		RedisIndexKey:        loaded.RedisIndexKey,
		RedisPollInterval:    loaded.RedisPollInterval,
		TokenRefreshInterval: loaded.TokenRefreshInterval,
		ContinuousSettlement: loaded.ContinuousSettlement,
		ShutdownGrace:        2 * time.Second,
		SettlementTimeout:    30 * time.Second,
	}

	o := orchestrator.New(orchCfg, priceSource, httpClient, tokens, l, exec, planner, metrics, events, riskCfg)
	return o.Run(ctx)
}

// hmacSHA256Signer signs the request body with the account's private key,
// generalizing the teacher's BTCC delegator MD5-over-params scheme
// (internal/order/delegator/btcc/delegator.go) to a keyed HMAC suitable for
// a hex-encoded private key secret.
func hmacSHA256Signer(body []byte, secret string) (string, string) {
	key, err := hex.DecodeString(secret)
	if err != nil {
		key = []byte(secret)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return "X-Signature", hex.EncodeToString(mac.Sum(nil))
}
