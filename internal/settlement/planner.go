package settlement

import (
	"context"
	"fmt"
	"time"

	apperr "marketmaker/internal/errors"
	"marketmaker/internal/venue"

	"github.com/yanun0323/logs"
)

// Planner triggers settlement on startup, on shutdown, and after each
// background token refresh (spec §4.4). It never takes strategy_lock and
// never touches the ladder — settlement acts only on positions.
type Planner struct {
	accountApi venue.AccountApi
	store      *Store // optional; nil disables the audit trail
}

// NewPlanner returns a Planner. store may be nil.
func NewPlanner(accountApi venue.AccountApi, store *Store) *Planner {
	return &Planner{accountApi: accountApi, store: store}
}

// Result summarizes one Run call for logging/metrics.
type Result struct {
	BalanceBefore uint64
	Plan          Plan
	SettlementID  string
	Submitted     bool
	SoftWarning   string
}

// Run fetches a fresh account snapshot, builds a plan, and — if
// non-empty — submits it with a fresh idempotency key. A logical-error
// response from the venue ("already settled", "invalid") is reported as
// a soft warning, not an error. Run fails only on a fatal
// InvariantViolation (unbalanced plan), an error fetching the account
// snapshot, or a settle error that is not venue-logical (e.g. transport).
func (p *Planner) Run(ctx context.Context, idempotencyKey, token string) (Result, error) {
	account, err := p.accountApi.GetAccount(ctx, token)
	if err != nil {
		return Result{}, err
	}

	plan, err := Build(account.Positions)
	if err != nil {
		return Result{}, err
	}

	res := Result{BalanceBefore: uint64(account.Balance), Plan: plan}
	if plan.Empty() {
		logs.Info("settlement: %s", plan.Reason)
		p.audit(ctx, idempotencyKey, plan, res, nil)
		return res, nil
	}

	settleResult, settleErr := p.accountApi.Settle(ctx, plan.ToVenueEntries(), token, idempotencyKey)
	if settleErr != nil {
		if kind, ok := apperr.AsVenueLogical(settleErr); ok {
			res.SoftWarning = fmt.Sprintf("settlement submission rejected: %s", kind)
			logs.Warn("%s", res.SoftWarning)
			p.audit(ctx, idempotencyKey, plan, res, settleErr)
			return res, nil
		}
		return Result{}, settleErr
	}

	res.SettlementID = settleResult.SettlementID
	res.Submitted = true
	logs.Info("settlement submitted: id=%s shorts=%d longs=%d", res.SettlementID, len(plan.Shorts), len(plan.Longs))
	p.audit(ctx, idempotencyKey, plan, res, nil)
	return res, nil
}

func (p *Planner) audit(ctx context.Context, idempotencyKey string, plan Plan, res Result, settleErr error) {
	if p.store == nil {
		return
	}
	row := AuditRow{
		IdempotencyKey: idempotencyKey,
		BalanceBefore:  res.BalanceBefore,
		SettlementID:   res.SettlementID,
		ShortCount:     len(plan.Shorts),
		LongCount:      len(plan.Longs),
		Submitted:      res.Submitted,
		Reason:         plan.Reason,
		CreatedAt:      time.Now().UTC(),
	}
	if settleErr != nil {
		row.Warning = settleErr.Error()
	}
	if err := p.store.Insert(ctx, row); err != nil {
		logs.Error("settlement audit insert failed: %v", err)
	}
}
