package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hashcrash/internal/seed"
)

// round is the authoritative state of one betting cycle. Only the
// coordinator goroutine mutates it; mu guards those mutations against
// concurrent snapshot reads, and every write path takes it briefly so
// no ledger or network call ever runs while it is held.
type round struct {
	mu sync.RWMutex

	id              int64
	phase           Phase
	createdAt       time.Time
	bettingOpensAt  time.Time
	bettingClosesAt time.Time

	commitment *seed.CommitmentRef
	seed       seed.Seed

	crashSet        bool
	crash           decimal.Decimal
	crashDelay      time.Duration
	startedRisingAt time.Time

	// liveMultiplier is the last tick's truncated curve value, kept for
	// snapshot reads.
	liveMultiplier float64

	bets map[string]*Bet // keyed by account, one bet per account
}

func newRound(id int64, now time.Time, bettingDuration time.Duration) *round {
	return &round{
		id:              id,
		phase:           PhaseBetting,
		createdAt:       now,
		bettingOpensAt:  now,
		bettingClosesAt: now.Add(bettingDuration),
		bets:            make(map[string]*Bet),
	}
}

// setCrash fixes the crash multiplier for the round. At most once.
// Callers hold mu or run before the round is visible to readers.
func (r *round) setCrash(crash decimal.Decimal, delay time.Duration) {
	if r.crashSet {
		panic(fmt.Sprintf("round %d: crash multiplier set twice", r.id))
	}
	r.crashSet = true
	r.crash = crash
	r.crashDelay = delay
}

func (r *round) setPhase(phase Phase) {
	r.mu.Lock()
	r.phase = phase
	r.mu.Unlock()
}

// revealCrash anchors the curve and opens the rising phase in one step,
// so no reader can observe a revealed round without its crash point.
func (r *round) revealCrash(sd seed.Seed, crash decimal.Decimal, delay time.Duration, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seed = sd
	r.setCrash(crash, delay)
	r.startedRisingAt = now
	r.liveMultiplier = 1.00
	r.phase = PhaseRising
}

func (r *round) setLive(multiplier float64) {
	r.mu.Lock()
	r.liveMultiplier = multiplier
	r.mu.Unlock()
}

// markCrashed pins the live multiplier to the crash point and closes the
// rising phase.
func (r *round) markCrashed() {
	r.mu.Lock()
	r.liveMultiplier = r.crash.InexactFloat64()
	r.phase = PhaseCrashed
	r.mu.Unlock()
}

func (r *round) insertBet(bet *Bet) {
	r.mu.Lock()
	r.bets[bet.AccountID] = bet
	r.mu.Unlock()
}

func (r *round) lookupBet(accountID string) (*Bet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bet, ok := r.bets[accountID]
	return bet, ok
}

// resolve moves a bet's record out of Pending. Any second resolution is a
// corruption of the at-most-once guarantee and panics.
func (r *round) resolve(bet *Bet, status BetStatus, exit decimal.Decimal, payout int64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolveLocked(bet, status, exit, payout, at)
}

// resolveLocked is resolve for callers already holding mu, so a status
// check and the flip it guards can share one critical section.
func (r *round) resolveLocked(bet *Bet, status BetStatus, exit decimal.Decimal, payout int64, at time.Time) {
	if bet.Record.Status != StatusPending {
		panic(fmt.Sprintf("round %d: bet %s resolved twice (%s -> %s)",
			r.id, bet.BetID, bet.Record.Status, status))
	}
	switch status {
	case StatusCashedOut, StatusBusted, StatusRefunded:
	default:
		panic(fmt.Sprintf("round %d: invalid resolution %s", r.id, status))
	}
	bet.Record = CashOutRecord{
		Status:         status,
		ExitMultiplier: exit,
		Payout:         payout,
		ResolvedAt:     at,
	}
}

func (r *round) snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{
		RoundID:         r.id,
		Phase:           r.phase,
		BettingClosesAt: r.bettingClosesAt,
		Commitment:      r.commitment,
	}
	switch r.phase {
	case PhaseRising:
		snap.CurrentMultiplier = r.liveMultiplier
	case PhaseCrashed, PhaseSettled, PhaseIdle:
		// Only now may the crash multiplier leave the server. A voided
		// round never had one, so the idle window after a void shows
		// nothing.
		if r.crashSet {
			snap.CrashedAt = r.crash.StringFixed(2)
			snap.CurrentMultiplier = r.crash.InexactFloat64()
		}
	}
	return snap
}

func (r *round) outcomes() []BetOutcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BetOutcome, 0, len(r.bets))
	for _, bet := range r.bets {
		out = append(out, betOutcome(bet))
	}
	return out
}

// betOutcome returns the account's bet as a client-visible outcome line.
func (r *round) betOutcome(accountID string) (BetOutcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bet, ok := r.bets[accountID]
	if !ok {
		return BetOutcome{}, false
	}
	return betOutcome(bet), true
}

func betOutcome(bet *Bet) BetOutcome {
	return BetOutcome{
		AccountID:      bet.AccountID,
		Amount:         bet.Amount,
		Target:         bet.Target,
		Status:         bet.Record.Status,
		ExitMultiplier: bet.Record.ExitMultiplier,
		Payout:         bet.Record.Payout,
	}
}
