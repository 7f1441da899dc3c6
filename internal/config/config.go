// Package config resolves the worker's full configuration surface (spec
// §6) from environment variables. Adapted from the teacher's
// internal/ops/config.go Load/Loaded shape — same "read, validate,
// resolve into a typed struct" pipeline, with the JSON-file source
// swapped for os.Getenv lookups and the registry/order-spec payload
// swapped for this worker's venue, ladder, executor and orchestrator
// settings. Every required key missing or malformed produces a fatal
// ConfigError per spec §7; Load never returns a partially-valid Loaded.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperr "marketmaker/internal/errors"
	"marketmaker/internal/executor"
	"marketmaker/internal/risk"
)

// Loaded is the fully resolved configuration ready for use.
type Loaded struct {
	AccountID     string
	PrivateKeyHex string
	LedgerID      string
	KeyType       string

	APIBaseURL            string
	RedisConnectionString string
	RedisIndexKey         string
	RedisPollInterval     time.Duration

	NumLevels           int
	Level0Quantity      uint64
	Levels1To2Quantity  uint64
	Levels3PlusQuantity uint64

	BaseSpreadUSD          string
	LevelSpacingUSD        string
	InitialMarginFactorPPM uint32

	TradingDecimals    uint32
	SettlementDecimals uint32

	Mode                      executor.Mode
	AtomicReplacementDelay    time.Duration
	EnableSelfTradePrevention bool
	SequentialPeelDelay       time.Duration

	TokenRefreshInterval time.Duration
	ContinuousSettlement bool

	Risk risk.Config
}

// Load reads every key spec §6 names from the process environment.
func Load() (Loaded, error) {
	var l Loaded
	var err error

	l.AccountID, err = requireString("account_id")
	if err != nil {
		return Loaded{}, err
	}
	l.PrivateKeyHex, err = requireString("private_key_hex")
	if err != nil {
		return Loaded{}, err
	}
	l.LedgerID, err = requireString("ledger_id")
	if err != nil {
		return Loaded{}, err
	}
	l.KeyType, err = requireString("key_type")
	if err != nil {
		return Loaded{}, err
	}

	l.APIBaseURL, err = requireString("api_base_url")
	if err != nil {
		return Loaded{}, err
	}
	l.RedisConnectionString, err = requireString("redis_connection_string")
	if err != nil {
		return Loaded{}, err
	}
	l.RedisIndexKey, err = requireString("redis_index_key")
	if err != nil {
		return Loaded{}, err
	}
	pollMs, err := requireUint("redis_poll_interval_ms")
	if err != nil {
		return Loaded{}, err
	}
	l.RedisPollInterval = time.Duration(pollMs) * time.Millisecond

	numLevels, err := requireUint("num_levels")
	if err != nil {
		return Loaded{}, err
	}
	l.NumLevels = int(numLevels)
	if l.NumLevels <= 0 {
		return Loaded{}, apperr.Config("num_levels must be > 0")
	}

	l.Level0Quantity, err = requireUint("level_0_quantity")
	if err != nil {
		return Loaded{}, err
	}
	l.Levels1To2Quantity, err = requireUint("levels_1_to_2_quantity")
	if err != nil {
		return Loaded{}, err
	}
	l.Levels3PlusQuantity, err = requireUint("levels_3_plus_quantity")
	if err != nil {
		return Loaded{}, err
	}

	l.BaseSpreadUSD, err = requireString("base_spread_usd")
	if err != nil {
		return Loaded{}, err
	}
	l.LevelSpacingUSD, err = requireString("level_spacing_usd")
	if err != nil {
		return Loaded{}, err
	}
	marginFactor, err := requireFloat("initial_margin_factor")
	if err != nil {
		return Loaded{}, err
	}
	l.InitialMarginFactorPPM = uint32(marginFactor * 1_000_000)

	tradingDecimals, err := requireUint("trading_decimals")
	if err != nil {
		return Loaded{}, err
	}
	l.TradingDecimals = uint32(tradingDecimals)
	settlementDecimals, err := requireUint("settlement_decimals")
	if err != nil {
		return Loaded{}, err
	}
	l.SettlementDecimals = uint32(settlementDecimals)

	behavior, err := requireString("update_behavior")
	if err != nil {
		return Loaded{}, err
	}
	switch strings.ToLower(behavior) {
	case "sequential":
		l.Mode = executor.ModeSequential
	case "atomic":
		l.Mode = executor.ModeAtomic
	default:
		return Loaded{}, apperr.Config(fmt.Sprintf("update_behavior must be sequential or atomic, got %q", behavior))
	}

	atomicDelayMs, err := requireUint("atomic_replacement_delay_ms")
	if err != nil {
		return Loaded{}, err
	}
	l.AtomicReplacementDelay = time.Duration(atomicDelayMs) * time.Millisecond

	l.EnableSelfTradePrevention, err = requireBoolFlag("enable_self_trade_prevention")
	if err != nil {
		return Loaded{}, err
	}

	peelDelayMs, err := requireUint("sequential_peel_delay_ms")
	if err != nil {
		return Loaded{}, err
	}
	l.SequentialPeelDelay = time.Duration(peelDelayMs) * time.Millisecond

	refreshSeconds, err := requireUint("token_refresh_interval_seconds")
	if err != nil {
		return Loaded{}, err
	}
	l.TokenRefreshInterval = time.Duration(refreshSeconds) * time.Second

	l.ContinuousSettlement, err = requireBoolFlag("continuous_settlement")
	if err != nil {
		return Loaded{}, err
	}

	return l, nil
}

// lookup is snake/pascal-case tolerant, per spec §6: for key my_key the
// variables MY_KEY, my_key and MyKey all resolve, tried in that order.
func lookup(key string) (string, bool) {
	envKey := strings.ToUpper(key)
	if v, ok := os.LookupEnv(envKey); ok {
		return v, true
	}
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	var pascal strings.Builder
	for _, part := range strings.Split(key, "_") {
		if part != "" {
			pascal.WriteString(strings.ToUpper(part[:1]) + part[1:])
		}
	}
	if v, ok := os.LookupEnv(pascal.String()); ok {
		return v, true
	}
	return "", false
}

func requireString(key string) (string, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return "", apperr.Config(fmt.Sprintf("missing required config key %q", key))
	}
	return v, nil
}

func requireUint(key string) (uint64, error) {
	v, err := requireString(key)
	if err != nil {
		return 0, err
	}
	n, parseErr := strconv.ParseUint(v, 10, 64)
	if parseErr != nil {
		return 0, apperr.Configf(parseErr, fmt.Sprintf("config key %q must be an unsigned integer", key))
	}
	return n, nil
}

func requireFloat(key string) (float64, error) {
	v, err := requireString(key)
	if err != nil {
		return 0, err
	}
	f, parseErr := strconv.ParseFloat(v, 64)
	if parseErr != nil {
		return 0, apperr.Configf(parseErr, fmt.Sprintf("config key %q must be a decimal number", key))
	}
	return f, nil
}

func requireBoolFlag(key string) (bool, error) {
	v, err := requireString(key)
	if err != nil {
		return false, err
	}
	switch v {
	case "1", "true", "TRUE", "True":
		return true, nil
	case "0", "false", "FALSE", "False":
		return false, nil
	default:
		return false, apperr.Config(fmt.Sprintf("config key %q must be 0/1 or true/false", key))
	}
}
