package game

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"hashcrash/internal/clock"
	"hashcrash/internal/ledger"
)

// BettingLedger validates and records bets for the current round. The
// stake is reserved against the external ledger before the bet exists, so
// a bet can never be created without its stake having left the player's
// free balance.
type BettingLedger struct {
	cfg    Config
	clock  clock.Clock
	ledger ledger.Ledger
}

func NewBettingLedger(cfg Config, clk clock.Clock, lgr ledger.Ledger) *BettingLedger {
	return &BettingLedger{cfg: cfg.withDefaults(), clock: clk, ledger: lgr}
}

// PlaceBet applies a bet request against the round. Called only from the
// coordinator goroutine, so validation and insertion are atomic with
// respect to other bets and phase changes. The ledger reserve runs with
// no round lock held; only the final insert takes it.
func (bl *BettingLedger) PlaceBet(ctx context.Context, r *round, req BetRequest) BetResponse {
	if req.AccountID == "" {
		return BetResponse{Message: "Account ID is required"}
	}

	// Strict deadline: the phase tick may not have fired yet, but a bet
	// at or past the closing instant is late regardless.
	now := bl.clock.Now()
	if r == nil || r.phase != PhaseBetting || !now.Before(r.bettingClosesAt) {
		return BetResponse{Message: "Betting is closed"}
	}

	if req.Amount < bl.cfg.MinBet || req.Amount > bl.cfg.MaxBet {
		return BetResponse{Message: fmt.Sprintf("Bet must be between %d and %d cents", bl.cfg.MinBet, bl.cfg.MaxBet)}
	}

	if req.Target.IsPositive() {
		if req.Target.LessThan(bl.cfg.MinTarget) || req.Target.GreaterThan(bl.cfg.MaxTarget) {
			return BetResponse{Message: fmt.Sprintf("Target must be between %s and %s",
				bl.cfg.MinTarget.StringFixed(2), bl.cfg.MaxTarget.StringFixed(2))}
		}
	} else if !req.Target.IsZero() {
		return BetResponse{Message: "Target must be positive"}
	}

	if _, exists := r.bets[req.AccountID]; exists {
		return BetResponse{Message: "Account already has a bet this round"}
	}

	if err := bl.ledger.Reserve(ctx, req.AccountID, req.Amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return BetResponse{Message: "Insufficient balance"}
		}
		log.Printf("[BET] Reserve failed for %s: %v", req.AccountID, err)
		return BetResponse{Message: "Transaction failed"}
	}

	bet := &Bet{
		BetID:     uuid.NewString(),
		AccountID: req.AccountID,
		RoundID:   r.id,
		Amount:    req.Amount,
		Target:    req.Target,
		PlacedAt:  now,
		Record:    CashOutRecord{Status: StatusPending},
	}
	r.insertBet(bet)

	log.Printf("[BET] Round %d: %s staked %d cents (ID: %s)", r.id, req.AccountID, req.Amount, bet.BetID)

	return BetResponse{
		Success: true,
		Message: "Bet placed",
		BetID:   bet.BetID,
	}
}

// GetBet returns the account's bet for the round, if any.
func (bl *BettingLedger) GetBet(r *round, accountID string) (*Bet, bool) {
	if r == nil {
		return nil, false
	}
	return r.lookupBet(accountID)
}
