package game

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hashcrash/internal/clock"
	"hashcrash/internal/fair"
	"hashcrash/internal/ledger"
)

func TestSettle_BustsPending(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	mem := ledger.NewMemory()
	settler := NewSettlementEngine(clk, mem)
	cashouts := NewCashOutEngine(clk, mem)

	r := risingRound(clk, "3.50")
	winner := pendingBet(r, "winner", 10000, "2.00")
	loser := pendingBet(r, "loser", 5000, "")

	cashouts.ResolveAuto(context.Background(), r, decimal.RequireFromString("2.00"))
	r.phase = PhaseCrashed

	result := settler.Settle(r)

	if winner.Record.Status != StatusCashedOut {
		t.Errorf("winner status = %s, want CASHED_OUT", winner.Record.Status)
	}
	if loser.Record.Status != StatusBusted {
		t.Errorf("loser status = %s, want BUSTED", loser.Record.Status)
	}
	if result.TotalStaked != 15000 {
		t.Errorf("total staked = %d, want 15000", result.TotalStaked)
	}
	if result.TotalPaidOut != 20000 {
		t.Errorf("total paid out = %d, want 20000", result.TotalPaidOut)
	}
	if len(result.Outcomes) != 2 {
		t.Errorf("outcomes = %d, want 2", len(result.Outcomes))
	}
}

func TestSettle_WrongPhasePanics(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	settler := NewSettlementEngine(clk, ledger.NewMemory())
	r := risingRound(clk, "2.00")

	defer func() {
		if recover() == nil {
			t.Error("Settle() before crash did not panic")
		}
	}()
	settler.Settle(r)
}

func TestSettle_Conservation(t *testing.T) {
	// Every staked cent ends up either paid out or retained: the sums
	// must match exactly, no residue.
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	mem := ledger.NewMemory()
	settler := NewSettlementEngine(clk, mem)
	cashouts := NewCashOutEngine(clk, mem)

	r := risingRound(clk, "2.50")
	stakes := map[string]int64{"a": 33333, "b": 10001, "c": 777, "d": 250000}
	pendingBet(r, "a", stakes["a"], "1.37")
	pendingBet(r, "b", stakes["b"], "")
	pendingBet(r, "c", stakes["c"], "2.49")
	pendingBet(r, "d", stakes["d"], "9.00") // above crash, busts

	clk.Advance(5 * time.Second) // curve at ~1.41
	cashouts.ResolveAuto(ctx, r, fair.MultiplierAt(clk.Since(r.startedRisingAt)))

	// Manual cash-out for b at the current instant.
	manual := cashouts.Resolve(ctx, r, "b")
	if manual.Status != StatusCashedOut {
		t.Fatalf("manual resolve = %+v", manual)
	}

	r.phase = PhaseCrashed
	cashouts.SweepAutosBeforeCrash(ctx, r)
	result := settler.Settle(r)

	var staked, paidOut, bustedStakes int64
	for _, o := range result.Outcomes {
		staked += o.Amount
		switch o.Status {
		case StatusCashedOut:
			paidOut += o.Payout
		case StatusBusted:
			bustedStakes += o.Amount
			if o.Payout != 0 {
				t.Errorf("busted outcome %s has payout %d", o.AccountID, o.Payout)
			}
		default:
			t.Errorf("non-terminal outcome %s: %s", o.AccountID, o.Status)
		}
	}

	if staked != result.TotalStaked || paidOut != result.TotalPaidOut {
		t.Errorf("totals mismatch: staked %d/%d paid %d/%d", staked, result.TotalStaked, paidOut, result.TotalPaidOut)
	}
	// Every stake is accounted for: cashed-out stakes plus busted stakes
	// retained by the house cover the total exactly, no residue.
	var cashedStakes int64
	for _, o := range result.Outcomes {
		if o.Status == StatusCashedOut {
			cashedStakes += o.Amount
		}
	}
	if cashedStakes+bustedStakes != staked {
		t.Errorf("conservation broken: cashed %d + busted %d != staked %d", cashedStakes, bustedStakes, staked)
	}

	// The ledger holds exactly the paid-out total and nothing more.
	var credited int64
	for account := range stakes {
		bal, _ := mem.Balance(ctx, account)
		credited += bal
	}
	if credited != result.TotalPaidOut {
		t.Errorf("ledger credits = %d, want %d", credited, result.TotalPaidOut)
	}
}

func TestSettle_InstantCrash(t *testing.T) {
	// Crash at 1.00x: the curve is already at the crash point the moment
	// the round starts rising, so every bet busts, targets included.
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	mem := ledger.NewMemory()
	settler := NewSettlementEngine(clk, mem)
	cashouts := NewCashOutEngine(clk, mem)

	r := risingRound(clk, "1.00")
	withTarget := pendingBet(r, "target", 10000, "1.50")
	noTarget := pendingBet(r, "plain", 5000, "")

	current := fair.MultiplierAt(0)
	if !current.GreaterThanOrEqual(r.crash) {
		t.Fatalf("multiplier(0) = %s, want >= crash 1.00", current)
	}

	r.phase = PhaseCrashed
	cashouts.SweepAutosBeforeCrash(ctx, r)
	result := settler.Settle(r)

	if withTarget.Record.Status != StatusBusted || noTarget.Record.Status != StatusBusted {
		t.Errorf("statuses = %s/%s, want both BUSTED",
			withTarget.Record.Status, noTarget.Record.Status)
	}
	if result.TotalPaidOut != 0 {
		t.Errorf("total paid out = %d, want 0", result.TotalPaidOut)
	}
}

func TestSettle_ManualMiss(t *testing.T) {
	// Spec scenario: no target, crash 1.40, no manual call ever arrives.
	clk := clock.NewFake(time.Unix(1700000000, 0))
	mem := ledger.NewMemory()
	settler := NewSettlementEngine(clk, mem)

	r := risingRound(clk, "1.40")
	bet := pendingBet(r, "alice", 10000, "")

	r.phase = PhaseCrashed
	result := settler.Settle(r)

	if bet.Record.Status != StatusBusted || bet.Record.Payout != 0 {
		t.Errorf("record = %+v, want BUSTED with zero payout", bet.Record)
	}
	if result.TotalPaidOut != 0 {
		t.Errorf("total paid out = %d, want 0", result.TotalPaidOut)
	}
}

func TestVoid_RefundsEverything(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	mem := ledger.NewMemory()
	settler := NewSettlementEngine(clk, mem)

	r := newRound(7, clk.Now(), BETTING_DURATION)
	pendingBet(r, "alice", 10000, "")
	pendingBet(r, "bob", 2500, "3.00")
	r.phase = PhaseVoid

	result := settler.Void(ctx, r)

	if !result.Voided {
		t.Error("result not marked voided")
	}
	for _, account := range []string{"alice", "bob"} {
		bet := r.bets[account]
		if bet.Record.Status != StatusRefunded {
			t.Errorf("%s status = %s, want REFUNDED", account, bet.Record.Status)
		}
		bal, _ := mem.Balance(ctx, account)
		if bal != bet.Amount {
			t.Errorf("%s refunded %d, want full stake %d", account, bal, bet.Amount)
		}
	}
}

func TestSetCrash_TwicePanics(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	r := risingRound(clk, "2.00")

	defer func() {
		if recover() == nil {
			t.Error("second setCrash did not panic")
		}
	}()
	r.setCrash(decimal.RequireFromString("3.00"), time.Second)
}

func TestVoid_KeepsResolvedOutcomes(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	mem := ledger.NewMemory()
	settler := NewSettlementEngine(clk, mem)
	cashouts := NewCashOutEngine(clk, mem)

	r := risingRound(clk, "3.00")
	cashed := pendingBet(r, "cashed", 10000, "")
	open := pendingBet(r, "open", 5000, "")

	clk.Advance(2 * time.Second)
	first := cashouts.Resolve(ctx, r, "cashed")
	if first.Status != StatusCashedOut {
		t.Fatalf("Resolve() = %+v, want cashed out", first)
	}

	// The round is abandoned after a payout already happened (shutdown
	// mid-rising). The payout stands; only the open stake is refunded.
	r.phase = PhaseVoid
	result := settler.Void(ctx, r)

	if !result.Voided {
		t.Fatal("result not voided")
	}
	if cashed.Record.Status != StatusCashedOut || cashed.Record.Payout != first.Payout {
		t.Errorf("cashed-out record = %+v, want untouched payout %d", cashed.Record, first.Payout)
	}
	if open.Record.Status != StatusRefunded || open.Record.Payout != 5000 {
		t.Errorf("open record = %+v, want REFUNDED with full stake", open.Record)
	}

	// Exactly one payout and one refund, nothing paid twice.
	if bal, _ := mem.Balance(ctx, "cashed"); bal != first.Payout {
		t.Errorf("cashed balance = %d, want single payout %d", bal, first.Payout)
	}
	if bal, _ := mem.Balance(ctx, "open"); bal != 5000 {
		t.Errorf("open balance = %d, want refunded stake 5000", bal)
	}
	if result.TotalPaidOut != first.Payout+5000 {
		t.Errorf("total paid out = %d, want %d", result.TotalPaidOut, first.Payout+5000)
	}
}
