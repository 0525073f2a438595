package game

import (
	"context"
	"log"

	"github.com/shopspring/decimal"

	"hashcrash/internal/clock"
	"hashcrash/internal/fair"
	"hashcrash/internal/ledger"
)

// CashOutEngine resolves Pending bets to CashedOut at most once each.
// Resolution depends only on elapsed wall-clock time against the round's
// rising anchor and the fixed curve, never on request arrival order. All
// calls run on the coordinator goroutine; record flips take the round
// lock inside resolve, and the ledger credit runs with no lock held.
type CashOutEngine struct {
	clock  clock.Clock
	ledger ledger.Ledger
}

func NewCashOutEngine(clk clock.Clock, lgr ledger.Ledger) *CashOutEngine {
	return &CashOutEngine{clock: clk, ledger: lgr}
}

// Resolve handles a manual cash-out request. The crash boundary is
// exclusive of cash-out and inclusive of bust: a request whose
// curve value is at or past the crash multiplier resolves Busted. The
// check goes through fair.MultiplierAt, the same function the crash
// transition uses, so the two can never disagree.
func (e *CashOutEngine) Resolve(ctx context.Context, r *round, accountID string) CashOutResponse {
	if r == nil || r.phase != PhaseRising {
		return CashOutResponse{Message: "No rising round to cash out of"}
	}

	bet, ok := r.lookupBet(accountID)
	if !ok {
		return CashOutResponse{Message: "No bet this round"}
	}

	now := e.clock.Now()
	current := fair.MultiplierAt(now.Sub(r.startedRisingAt))

	// The status check and the flip share one critical section: of any
	// number of duplicate attempts exactly one resolves the bet, and the
	// rest observe the terminal record and get the same answer, never a
	// second payout.
	r.mu.Lock()
	switch bet.Record.Status {
	case StatusCashedOut:
		resp := CashOutResponse{
			Success:    true,
			Message:    "Already cashed out",
			Status:     StatusCashedOut,
			Multiplier: bet.Record.ExitMultiplier,
			Payout:     bet.Record.Payout,
		}
		r.mu.Unlock()
		return resp
	case StatusBusted:
		r.mu.Unlock()
		return CashOutResponse{Success: true, Message: "Busted", Status: StatusBusted}
	}

	if current.GreaterThanOrEqual(r.crash) {
		// Lost the race against the crash instant. Normal outcome, not
		// an error; settlement-equivalent bust applied immediately.
		r.resolveLocked(bet, StatusBusted, decimal.Decimal{}, 0, now)
		r.mu.Unlock()
		return CashOutResponse{Success: true, Message: "Crashed before cash-out", Status: StatusBusted}
	}

	payout := decimal.NewFromInt(bet.Amount).Mul(current).IntPart()
	r.resolveLocked(bet, StatusCashedOut, current, payout, now)
	r.mu.Unlock()

	e.credit(ctx, r, bet.AccountID, payout)
	log.Printf("[CASHOUT] Round %d: %s out at %s for %d cents",
		r.id, bet.AccountID, current.StringFixed(2), payout)

	return CashOutResponse{
		Success:    true,
		Message:    "Cashed out",
		Status:     StatusCashedOut,
		Multiplier: current,
		Payout:     payout,
	}
}

// ResolveAuto fires every standing auto cash-out whose target the curve
// has reached. The exit multiplier is the target itself, so the outcome
// is identical to a manual cash-out at the exact instant the curve hit
// it, regardless of tick granularity.
func (e *CashOutEngine) ResolveAuto(ctx context.Context, r *round, current decimal.Decimal) {
	for _, bet := range r.bets {
		if bet.Record.Status != StatusPending || !bet.HasTarget() {
			continue
		}
		if current.GreaterThanOrEqual(bet.Target) && bet.Target.LessThan(r.crash) {
			e.cashOut(ctx, r, bet, bet.Target, "Auto cash-out")
		}
	}
}

// SweepAutosBeforeCrash runs at the crash transition and fires any auto
// target the curve passed before the crash instant but that no tick
// landed on. Targets at or above the crash multiplier stay pending and
// bust in settlement.
func (e *CashOutEngine) SweepAutosBeforeCrash(ctx context.Context, r *round) {
	e.ResolveAuto(ctx, r, r.crash)
}

func (e *CashOutEngine) cashOut(ctx context.Context, r *round, bet *Bet, exit decimal.Decimal, msg string) CashOutResponse {
	payout := decimal.NewFromInt(bet.Amount).Mul(exit).IntPart()

	r.resolve(bet, StatusCashedOut, exit, payout, e.clock.Now())
	e.credit(ctx, r, bet.AccountID, payout)

	log.Printf("[CASHOUT] Round %d: %s out at %s for %d cents",
		r.id, bet.AccountID, exit.StringFixed(2), payout)

	return CashOutResponse{
		Success:    true,
		Message:    msg,
		Status:     StatusCashedOut,
		Multiplier: exit,
		Payout:     payout,
	}
}

func (e *CashOutEngine) credit(ctx context.Context, r *round, accountID string, payout int64) {
	if err := e.ledger.Credit(ctx, accountID, payout); err != nil {
		// The record is already terminal; a lost credit needs operator
		// attention, not a retry loop inside the round.
		log.Printf("[CASHOUT] CREDIT FAILED round %d account %s payout %d: %v",
			r.id, accountID, payout, err)
	}
}
