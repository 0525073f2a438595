package game

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"hashcrash/internal/clock"
	"hashcrash/internal/ledger"
)

// SettlementEngine finalizes a round. Every bet still Pending at crash
// time busts; the house edge already lives in the crash distribution, so
// settlement only enumerates winners, losers and totals. It never
// recomputes economics.
type SettlementEngine struct {
	clock  clock.Clock
	ledger ledger.Ledger
}

func NewSettlementEngine(clk clock.Clock, lgr ledger.Ledger) *SettlementEngine {
	return &SettlementEngine{clock: clk, ledger: lgr}
}

// Settle is invoked exactly once per round, at the Crashed transition.
func (s *SettlementEngine) Settle(r *round) RoundResult {
	if r.phase != PhaseCrashed {
		panic(fmt.Sprintf("round %d: settle called in phase %s", r.id, r.phase))
	}

	now := s.clock.Now()
	for _, bet := range r.bets {
		if bet.Record.Status == StatusPending {
			// Stake was debited at placement and is never returned.
			r.resolve(bet, StatusBusted, decimal.Decimal{}, 0, now)
		}
	}

	result := s.buildResult(r, now)
	log.Printf("[SETTLE] Round %d: %d bets, staked %d, paid out %d, crash %s",
		r.id, len(r.bets), result.TotalStaked, result.TotalPaidOut, r.crash.StringFixed(2))
	return result
}

// Void refunds every stake still at risk. Used when the seed never
// arrives and when a shutdown abandons the round mid-flight: bets are
// never silently dropped. Already-resolved bets keep their outcome, so
// a cash-out paid before the abort is never paid again.
func (s *SettlementEngine) Void(ctx context.Context, r *round) RoundResult {
	if r.phase != PhaseVoid {
		panic(fmt.Sprintf("round %d: void settlement called in phase %s", r.id, r.phase))
	}

	now := s.clock.Now()
	refunded := 0
	for _, bet := range r.bets {
		if bet.Record.Status != StatusPending {
			continue
		}
		r.resolve(bet, StatusRefunded, decimal.Decimal{}, bet.Amount, now)
		if err := s.ledger.Credit(ctx, bet.AccountID, bet.Amount); err != nil {
			log.Printf("[SETTLE] REFUND FAILED round %d account %s amount %d: %v",
				r.id, bet.AccountID, bet.Amount, err)
		}
		refunded++
	}

	result := s.buildResult(r, now)
	result.Voided = true
	log.Printf("[SETTLE] Round %d voided, %d stakes refunded", r.id, refunded)
	return result
}

func (s *SettlementEngine) buildResult(r *round, now time.Time) RoundResult {
	result := RoundResult{
		RoundID:         r.id,
		Seed:            r.seed,
		CrashMultiplier: r.crash,
		Outcomes:        r.outcomes(),
		SettledAt:       now,
	}
	for _, o := range result.Outcomes {
		result.TotalStaked += o.Amount
		result.TotalPaidOut += o.Payout
	}
	return result
}
