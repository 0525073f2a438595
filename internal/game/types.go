package game

import (
	"time"

	"github.com/shopspring/decimal"

	"hashcrash/internal/seed"
)

// Phase is the round lifecycle state. Transitions are driven by the
// coordinator only; there are no other paths between phases.
type Phase string

const (
	PhaseIdle     Phase = "IDLE"
	PhaseBetting  Phase = "BETTING"
	PhaseLocked   Phase = "LOCKED"
	PhaseRevealed Phase = "REVEALED"
	PhaseRising   Phase = "RISING"
	PhaseCrashed  Phase = "CRASHED"
	PhaseSettled  Phase = "SETTLED"
	PhaseVoid     Phase = "VOID"
)

// BetStatus is the terminal-state tag of a bet's cash-out record.
type BetStatus string

const (
	StatusPending   BetStatus = "PENDING"
	StatusCashedOut BetStatus = "CASHED_OUT"
	StatusBusted    BetStatus = "BUSTED"
	StatusRefunded  BetStatus = "REFUNDED" // voided round only
)

// CashOutRecord is the outcome of one bet. Status only ever moves away
// from Pending, and exactly once.
type CashOutRecord struct {
	Status         BetStatus       `json:"status"`
	ExitMultiplier decimal.Decimal `json:"exit_multiplier,omitempty"`
	Payout         int64           `json:"payout,omitempty"`
	ResolvedAt     time.Time       `json:"resolved_at,omitempty"`
}

// Bet is one account's stake in one round. Amounts are integer cents.
// A zero Target means no auto cash-out.
type Bet struct {
	BetID     string          `json:"bet_id"`
	AccountID string          `json:"account_id"`
	RoundID   int64           `json:"round_id"`
	Amount    int64           `json:"amount"`
	Target    decimal.Decimal `json:"target_multiplier,omitempty"`
	PlacedAt  time.Time       `json:"placed_at"`
	Record    CashOutRecord   `json:"record"`
}

// HasTarget reports whether the bet carries an auto cash-out instruction.
func (b *Bet) HasTarget() bool {
	return b.Target.IsPositive()
}

type BetRequest struct {
	AccountID    string           `json:"account_id"`
	Amount       int64            `json:"amount"`
	Target       decimal.Decimal  `json:"target_multiplier"`
	ResponseChan chan BetResponse `json:"-"`
}

type BetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	BetID   string `json:"bet_id,omitempty"`
}

type CashOutRequest struct {
	AccountID    string               `json:"account_id"`
	ResponseChan chan CashOutResponse `json:"-"`
}

// CashOutResponse reports the terminal outcome of a cash-out attempt.
// Losing the race against the crash instant is a normal Busted outcome,
// not a failure: Success stays true and Status says BUSTED.
type CashOutResponse struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Status     BetStatus       `json:"status,omitempty"`
	Multiplier decimal.Decimal `json:"multiplier,omitempty"`
	Payout     int64           `json:"payout,omitempty"`
}

// Snapshot is the client-visible view of the current round. The crash
// multiplier is withheld until the round has actually crashed.
type Snapshot struct {
	RoundID           int64               `json:"round_id"`
	Phase             Phase               `json:"phase"`
	BettingClosesAt   time.Time           `json:"betting_closes_at"`
	Commitment        *seed.CommitmentRef `json:"commitment,omitempty"`
	CurrentMultiplier float64             `json:"current_multiplier,omitempty"` // meaningful in RISING
	CrashedAt         string              `json:"crashed_at_multiplier,omitempty"`
}

// BetOutcome is one account's final line in a round result.
type BetOutcome struct {
	AccountID      string          `json:"account_id"`
	Amount         int64           `json:"amount"`
	Target         decimal.Decimal `json:"target_multiplier,omitempty"`
	Status         BetStatus       `json:"status"`
	ExitMultiplier decimal.Decimal `json:"exit_multiplier,omitempty"`
	Payout         int64           `json:"payout"`
}

// RoundResult is the immutable settlement record published once a round
// reaches Settled (or Void). The raw seed is included so anyone can
// recompute the crash multiplier and verify fairness.
type RoundResult struct {
	RoundID         int64           `json:"round_id"`
	Seed            seed.Seed       `json:"seed,omitempty"`
	CrashMultiplier decimal.Decimal `json:"crash_multiplier"`
	Voided          bool            `json:"voided,omitempty"`
	Outcomes        []BetOutcome    `json:"outcomes"`
	TotalStaked     int64           `json:"total_staked"`
	TotalPaidOut    int64           `json:"total_paid_out"`
	SettledAt       time.Time       `json:"settled_at"`
}

// WSMessage is the envelope for every feed broadcast.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// TickMessage carries the live multiplier during the rising phase. It is
// the only outcome-related value clients see before the crash.
type TickMessage struct {
	RoundID    int64   `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
}

type CrashMessage struct {
	RoundID    int64  `json:"round_id"`
	Multiplier string `json:"multiplier"`
}

type BetPlacedMessage struct {
	RoundID   int64  `json:"round_id"`
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	BetID     string `json:"bet_id"`
}

type CashOutMessage struct {
	RoundID    int64  `json:"round_id"`
	AccountID  string `json:"account_id"`
	Multiplier string `json:"multiplier"`
	Payout     int64  `json:"payout"`
}
