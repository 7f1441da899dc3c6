// Package calc is the pure, stateless price/quantity calculator (spec §4.1).
// Every function here is side-effect free; callers own all I/O.
package calc

import (
	"fmt"
	"math/big"

	apperr "marketmaker/internal/errors"
	"marketmaker/internal/schema"

	"github.com/yanun0323/decimal"
)

// ToBase converts a decimal amount to base units of 10^exp, truncating
// toward zero. Fails with ErrInvalidInput if d is negative — overflow
// is a programming error and is not guarded here (domain is bounded by the
// venue, per spec §3).
func ToBase(d decimal.Decimal, exp uint32) (uint64, error) {
	if d.IsNegative() {
		return 0, errInvalidInput
	}
	scaled := d.Mul(decimal.NewFromBigInt(big.NewInt(1), int(exp)))
	return uint64(scaled.IntPart()), nil
}

// FromBase converts a base-unit integer back to its exact decimal value.
func FromBase(b uint64, exp uint32) decimal.Decimal {
	return decimal.NewFromBigInt(big.NewInt(int64(b)), -int(exp))
}

// BidLevelsUSD computes n bid prices in base units, spaced spacingUSD apart,
// starting spreadUSD/2 below mid. Strictly monotone decreasing when
// spacingUSD > 0.
func BidLevelsUSD(midBase uint64, spreadUSD, spacingUSD decimal.Decimal, n int, tradingDecimals uint32) ([]uint64, error) {
	mid := FromBase(midBase, tradingDecimals)
	bestBid := mid.Sub(spreadUSD.Div(decimal.NewFromInt(2)))
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		level := bestBid.Sub(spacingUSD.Mul(decimal.NewFromInt(int64(i))))
		b, err := ToBase(level, tradingDecimals)
		if err != nil {
			return nil, apperr.Wrap(err, fmt.Sprintf("bid level %d", i))
		}
		out[i] = b
	}
	return out, nil
}

// AskLevelsUSD computes n ask prices in base units, spaced spacingUSD apart,
// starting spreadUSD/2 above mid. Strictly monotone increasing when
// spacingUSD > 0.
func AskLevelsUSD(midBase uint64, spreadUSD, spacingUSD decimal.Decimal, n int, tradingDecimals uint32) ([]uint64, error) {
	mid := FromBase(midBase, tradingDecimals)
	bestAsk := mid.Add(spreadUSD.Div(decimal.NewFromInt(2)))
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		level := bestAsk.Add(spacingUSD.Mul(decimal.NewFromInt(int64(i))))
		b, err := ToBase(level, tradingDecimals)
		if err != nil {
			return nil, apperr.Wrap(err, fmt.Sprintf("ask level %d", i))
		}
		out[i] = b
	}
	return out, nil
}

// Margin computes the required margin for an order in settlement-decimals
// base units: price * qty * (factorPPM / 1e6).
func Margin(price schema.Price, qty schema.Quantity, factorPPM uint32, tradingDecimals, settlementDecimals uint32) (uint64, error) {
	p := FromBase(uint64(price), tradingDecimals)
	q := FromBase(uint64(qty), tradingDecimals)
	factor := decimal.NewFromBigInt(big.NewInt(int64(factorPPM)), -6)
	notional := p.Mul(q).Mul(factor)
	b, err := ToBase(notional, settlementDecimals)
	if err != nil {
		return 0, apperr.Wrap(err, "margin notional")
	}
	return b, nil
}

// SizeForLevel maps a ladder level index to a configured quantity, per
// spec §3's LiquidityShape.size_for_level.
func SizeForLevel(i int, shape LiquidityShape) schema.Quantity {
	switch {
	case i == 0:
		return shape.SizeLevel0
	case i == 1 || i == 2:
		return shape.SizeLevel1To2
	default:
		return shape.SizeLevel3Plus
	}
}

// LiquidityShape is the configured per-level size tiers (spec §3).
type LiquidityShape struct {
	SizeLevel0     schema.Quantity
	SizeLevel1To2  schema.Quantity
	SizeLevel3Plus schema.Quantity
}

// QuantitiesForLevels expands a LiquidityShape into n per-level quantities.
func QuantitiesForLevels(n int, shape LiquidityShape) []schema.Quantity {
	out := make([]schema.Quantity, n)
	for i := 0; i < n; i++ {
		out[i] = SizeForLevel(i, shape)
	}
	return out
}

// ErrInvalidInput is returned by ToBase when d is negative.
var ErrInvalidInput = apperr.New("calc: invalid input: decimal must be non-negative")

var errInvalidInput = ErrInvalidInput
