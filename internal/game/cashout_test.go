package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hashcrash/internal/clock"
	"hashcrash/internal/fair"
	"hashcrash/internal/ledger"
)

// risingRound builds a round already anchored in the rising phase.
func risingRound(clk *clock.Fake, crash string) *round {
	r := newRound(1, clk.Now(), BETTING_DURATION)
	cr := decimal.RequireFromString(crash)
	r.setCrash(cr, fair.CrashDelay(cr))
	r.startedRisingAt = clk.Now()
	r.phase = PhaseRising
	return r
}

func pendingBet(r *round, accountID string, amount int64, target string) *Bet {
	bet := &Bet{
		BetID:     "bet-" + accountID,
		AccountID: accountID,
		RoundID:   r.id,
		Amount:    amount,
		PlacedAt:  r.bettingOpensAt,
		Record:    CashOutRecord{Status: StatusPending},
	}
	if target != "" {
		bet.Target = decimal.RequireFromString(target)
	}
	r.bets[accountID] = bet
	return bet
}

func TestResolve_ManualCashOut(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	mem := ledger.NewMemory()
	engine := NewCashOutEngine(clk, mem)

	r := risingRound(clk, "2.00")
	pendingBet(r, "alice", 10000, "")

	// Five seconds in the curve is at e^0.35 ~ 1.41x, below the crash.
	clk.Advance(5 * time.Second)

	resp := engine.Resolve(ctx, r, "alice")
	if !resp.Success || resp.Status != StatusCashedOut {
		t.Fatalf("Resolve() = %+v, want cashed out", resp)
	}

	wantExit := fair.MultiplierAt(5 * time.Second)
	if !resp.Multiplier.Equal(wantExit) {
		t.Errorf("exit multiplier = %s, want %s", resp.Multiplier, wantExit)
	}
	wantPayout := decimal.NewFromInt(10000).Mul(wantExit).IntPart()
	if resp.Payout != wantPayout {
		t.Errorf("payout = %d, want %d", resp.Payout, wantPayout)
	}

	bal, _ := mem.Balance(ctx, "alice")
	if bal != wantPayout {
		t.Errorf("credited balance = %d, want %d", bal, wantPayout)
	}
}

func TestResolve_RaceAgainstCrashBusts(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	mem := ledger.NewMemory()
	engine := NewCashOutEngine(clk, mem)

	r := risingRound(clk, "1.40")
	pendingBet(r, "alice", 10000, "")

	// Advance past the crash instant while the phase tick has not fired
	// yet. The boundary is exclusive of cash-out, inclusive of bust.
	clk.Advance(r.crashDelay + time.Millisecond)

	resp := engine.Resolve(ctx, r, "alice")
	if !resp.Success {
		t.Fatalf("losing the race should be a normal outcome, got failure: %s", resp.Message)
	}
	if resp.Status != StatusBusted {
		t.Errorf("status = %s, want BUSTED", resp.Status)
	}
	if resp.Payout != 0 {
		t.Errorf("payout = %d, want 0", resp.Payout)
	}
	if bal, _ := mem.Balance(ctx, "alice"); bal != 0 {
		t.Errorf("busted cash-out credited %d", bal)
	}
}

func TestResolve_DuplicateObservesSameResult(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	mem := ledger.NewMemory()
	engine := NewCashOutEngine(clk, mem)

	r := risingRound(clk, "3.00")
	pendingBet(r, "alice", 10000, "")
	clk.Advance(3 * time.Second)

	first := engine.Resolve(ctx, r, "alice")
	if first.Status != StatusCashedOut {
		t.Fatalf("first Resolve() = %+v", first)
	}

	clk.Advance(2 * time.Second) // curve moved on; result must not
	second := engine.Resolve(ctx, r, "alice")
	if second.Status != StatusCashedOut || !second.Multiplier.Equal(first.Multiplier) || second.Payout != first.Payout {
		t.Errorf("duplicate Resolve() = %+v, want identical to first %+v", second, first)
	}

	// Paid exactly once.
	bal, _ := mem.Balance(ctx, "alice")
	if bal != first.Payout {
		t.Errorf("balance = %d, want single payout %d", bal, first.Payout)
	}
}

func TestResolve_PhaseAndMissingBet(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	engine := NewCashOutEngine(clk, ledger.NewMemory())

	r := risingRound(clk, "2.00")
	if resp := engine.Resolve(ctx, r, "nobody"); resp.Success {
		t.Error("Resolve() without a bet succeeded")
	}

	r.phase = PhaseBetting
	pendingBet(r, "alice", 10000, "")
	if resp := engine.Resolve(ctx, r, "alice"); resp.Success {
		t.Error("Resolve() outside rising phase succeeded")
	}

	if resp := engine.Resolve(ctx, nil, "alice"); resp.Success {
		t.Error("Resolve() with no round succeeded")
	}
}

func TestResolveAuto_TargetHit(t *testing.T) {
	// Spec scenario: 100.00 staked at target 2.00, crash 3.50.
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	mem := ledger.NewMemory()
	engine := NewCashOutEngine(clk, mem)

	r := risingRound(clk, "3.50")
	bet := pendingBet(r, "alice", 10000, "2.00")

	// Tick lands past the target: exit is the target itself, as if the
	// account had cashed out at the exact instant the curve hit 2.00.
	engine.ResolveAuto(ctx, r, decimal.RequireFromString("2.13"))

	if bet.Record.Status != StatusCashedOut {
		t.Fatalf("status = %s, want CASHED_OUT", bet.Record.Status)
	}
	if !bet.Record.ExitMultiplier.Equal(decimal.RequireFromString("2.00")) {
		t.Errorf("exit = %s, want 2.00", bet.Record.ExitMultiplier)
	}
	if bet.Record.Payout != 20000 {
		t.Errorf("payout = %d, want 20000", bet.Record.Payout)
	}
	if bal, _ := mem.Balance(ctx, "alice"); bal != 20000 {
		t.Errorf("balance = %d, want 20000", bal)
	}
}

func TestResolveAuto_TargetNotReached(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	engine := NewCashOutEngine(clk, ledger.NewMemory())

	r := risingRound(clk, "3.50")
	bet := pendingBet(r, "alice", 10000, "2.00")

	engine.ResolveAuto(ctx, r, decimal.RequireFromString("1.80"))
	if bet.Record.Status != StatusPending {
		t.Errorf("status = %s, want still PENDING", bet.Record.Status)
	}
}

func TestResolveAuto_TargetAtOrAboveCrashStaysPending(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	engine := NewCashOutEngine(clk, ledger.NewMemory())

	r := risingRound(clk, "2.00")
	atCrash := pendingBet(r, "at", 10000, "2.00")
	above := pendingBet(r, "above", 10000, "2.50")

	// Even when the sweep runs with the crash value itself, a target at
	// or past the crash never cashes out: the boundary busts it.
	engine.SweepAutosBeforeCrash(ctx, r)

	if atCrash.Record.Status != StatusPending {
		t.Errorf("target==crash status = %s, want PENDING (busts in settlement)", atCrash.Record.Status)
	}
	if above.Record.Status != StatusPending {
		t.Errorf("target>crash status = %s, want PENDING", above.Record.Status)
	}
}

func TestSweepAutosBeforeCrash_FiresMissedTargets(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	mem := ledger.NewMemory()
	engine := NewCashOutEngine(clk, mem)

	r := risingRound(clk, "2.00")
	bet := pendingBet(r, "alice", 10000, "1.99")

	// No tick ever landed between 1.99 and 2.00; the sweep at crash time
	// still honors the standing instruction.
	engine.SweepAutosBeforeCrash(ctx, r)

	if bet.Record.Status != StatusCashedOut {
		t.Fatalf("status = %s, want CASHED_OUT", bet.Record.Status)
	}
	if bet.Record.Payout != 19900 {
		t.Errorf("payout = %d, want 19900", bet.Record.Payout)
	}
}

func TestCashOut_AtMostOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	mem := ledger.NewMemory()

	cfg := DefaultConfig()
	c := NewCoordinator(cfg, NewHub(), clk, nil, mem, nil, nil)
	c.ctx = ctx

	r := risingRound(clk, "5.00")
	pendingBet(r, "alice", 10000, "")
	c.current = r
	clk.Advance(4 * time.Second)

	// N concurrent attempts: exactly one CashedOut transition, and every
	// caller observes the same terminal result.
	const n = 50
	results := make([]CashOutResponse, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			respChan := make(chan CashOutResponse, 1)
			c.handleCashOut(CashOutRequest{AccountID: "alice", ResponseChan: respChan})
			results[i] = <-respChan
		}(i)
	}
	wg.Wait()

	first := results[0]
	if first.Status != StatusCashedOut {
		t.Fatalf("terminal status = %s, want CASHED_OUT", first.Status)
	}
	for i, resp := range results {
		if resp.Status != first.Status || resp.Payout != first.Payout || !resp.Multiplier.Equal(first.Multiplier) {
			t.Errorf("caller %d observed %+v, want %+v", i, resp, first)
		}
	}

	bal, _ := mem.Balance(ctx, "alice")
	if bal != first.Payout {
		t.Errorf("balance = %d, want exactly one payout of %d", bal, first.Payout)
	}
}

func TestResolve_DoubleResolutionPanics(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	r := risingRound(clk, "2.00")
	bet := pendingBet(r, "alice", 10000, "")

	r.resolve(bet, StatusCashedOut, decimal.RequireFromString("1.50"), 15000, clk.Now())

	defer func() {
		if recover() == nil {
			t.Error("second resolution did not panic")
		}
	}()
	r.resolve(bet, StatusBusted, decimal.Decimal{}, 0, clk.Now())
}

// blockingLedger parks Credit until released so tests can observe what
// else stays responsive while a ledger call is in flight.
type blockingLedger struct {
	*ledger.Memory
	entered chan struct{}
	release chan struct{}
}

func (b *blockingLedger) Credit(ctx context.Context, accountID string, amount int64) error {
	close(b.entered)
	<-b.release
	return b.Memory.Credit(ctx, accountID, amount)
}

func TestResolve_SnapshotNotBlockedBySlowCredit(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	blk := &blockingLedger{
		Memory:  ledger.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	engine := NewCashOutEngine(clk, blk)

	r := risingRound(clk, "3.00")
	pendingBet(r, "alice", 10000, "")
	clk.Advance(2 * time.Second)

	done := make(chan CashOutResponse, 1)
	go func() { done <- engine.Resolve(ctx, r, "alice") }()

	<-blk.entered // the ledger credit is now stalled mid-flight

	snapped := make(chan Snapshot, 1)
	go func() { snapped <- r.snapshot() }()
	select {
	case snap := <-snapped:
		if snap.Phase != PhaseRising {
			t.Errorf("snapshot phase = %s, want RISING", snap.Phase)
		}
	case <-time.After(time.Second):
		t.Fatal("snapshot blocked while a ledger credit was in flight")
	}

	close(blk.release)
	if resp := <-done; resp.Status != StatusCashedOut {
		t.Fatalf("Resolve() = %+v, want cashed out", resp)
	}
}
