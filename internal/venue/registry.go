package venue

import "fmt"

// MarketInfo is the venue's reported decimals for one trading pair,
// adapted from the teacher's internal/schema/registry.go ScaleSpec —
// generalized to the two decimal exponents spec §3 defines (trading and
// settlement), instead of a four-field price/qty/notional/fee scale set.
type MarketInfo struct {
	Symbol             string
	TradingDecimals    uint32
	SettlementDecimals uint32
}

// MarketInfoApi fetches venue-reported market info for startup validation
// (spec §4.5 step 1: "decimals must match configuration; otherwise fail
// fatally at startup").
type MarketInfoApi interface {
	GetMarketInfo(symbol string) (MarketInfo, error)
}

// ValidateDecimals returns an error when the venue's reported decimals
// disagree with the configured ones. The error is unclassified; the
// orchestrator wraps it as a fatal ConfigError (spec §7).
func ValidateDecimals(configured MarketInfo, reported MarketInfo) error {
	if configured.TradingDecimals != reported.TradingDecimals {
		return fmt.Errorf("trading_decimals mismatch: configured=%d venue=%d",
			configured.TradingDecimals, reported.TradingDecimals)
	}
	if configured.SettlementDecimals != reported.SettlementDecimals {
		return fmt.Errorf("settlement_decimals mismatch: configured=%d venue=%d",
			configured.SettlementDecimals, reported.SettlementDecimals)
	}
	return nil
}
