// Package risk is the optional pre-submit guard the executor consults
// before issuing a submit. Not named by spec.md; carried as the ambient
// safety net the teacher's own stack already provides. Adapted from the
// teacher's internal/risk/engine.go, trimmed from a generic order-intent
// evaluator down to the checks SPEC_FULL.md's Risk Guard module names:
// kill switch, max order quantity, max order notional, max position. The
// zero Config disables every check — an orchestrator that never wires
// risk limits gets exactly the unguarded behavior spec.md describes.
package risk

import (
	"marketmaker/internal/schema"
)

const maxInt64 = int64(^uint64(0) >> 1)

// Config defines the static limits one Engine enforces. Zero value
// disables every check.
type Config struct {
	KillSwitch       bool
	MaxOrderQty      schema.Quantity
	MaxOrderNotional schema.Notional
	MaxPosition      schema.Quantity
}

// Reason names why Evaluate denied a submit.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonMaxOrderQty
	ReasonMaxOrderNotional
	ReasonMaxPosition
)

func (r Reason) String() string {
	switch r {
	case ReasonKillSwitch:
		return "kill_switch"
	case ReasonMaxOrderQty:
		return "max_order_qty"
	case ReasonMaxOrderNotional:
		return "max_order_notional"
	case ReasonMaxPosition:
		return "max_position"
	default:
		return "none"
	}
}

// Decision is the verdict Evaluate returns.
type Decision struct {
	Allow  bool
	Reason Reason
}

// Engine evaluates one proposed submit against static limits. Nil-safe:
// a nil *Engine always allows, matching the zero-Config behavior.
type Engine struct {
	cfg Config
}

// NewEngine returns an Engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate checks a proposed submit at (side, price, qty) against the
// signed position the account would hold if it fully fills. currentPosition
// is positive for net-long, negative for net-short.
func (e *Engine) Evaluate(side schema.ContractSide, price schema.Price, qty schema.Quantity, currentPosition int64) Decision {
	if e == nil {
		return Decision{Allow: true}
	}
	if e.cfg.KillSwitch {
		return Decision{Reason: ReasonKillSwitch}
	}
	if e.cfg.MaxOrderQty > 0 && qty > e.cfg.MaxOrderQty {
		return Decision{Reason: ReasonMaxOrderQty}
	}

	notional, overflow := mulNotional(price, qty)
	if e.cfg.MaxOrderNotional > 0 && (overflow || notional > e.cfg.MaxOrderNotional) {
		return Decision{Reason: ReasonMaxOrderNotional}
	}

	if e.cfg.MaxPosition > 0 {
		next := currentPosition
		switch side {
		case schema.SideBid:
			next += int64(qty)
		case schema.SideAsk:
			next -= int64(qty)
		}
		if absInt64(next) > int64(e.cfg.MaxPosition) {
			return Decision{Reason: ReasonMaxPosition}
		}
	}

	return Decision{Allow: true}
}

func mulNotional(price schema.Price, qty schema.Quantity) (schema.Notional, bool) {
	p, q := int64(price), int64(qty)
	if p == 0 || q == 0 {
		return 0, false
	}
	if p > maxInt64/q {
		return 0, true
	}
	return schema.Notional(p * q), false
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
