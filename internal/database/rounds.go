package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"hashcrash/internal/game"
	"hashcrash/internal/seed"
)

// RoundStore archives settled rounds and their per-bet outcomes. It
// implements game.ResultStore.
type RoundStore struct {
	db *sql.DB
}

func NewRoundStore(db *sql.DB) *RoundStore {
	return &RoundStore{db: db}
}

// SaveResult writes the round and all outcomes in one transaction.
func (s *RoundStore) SaveResult(ctx context.Context, result game.RoundResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rounds (round_id, seed, crash_multiplier, voided, total_staked, total_paid_out, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		result.RoundID, string(result.Seed), result.CrashMultiplier.StringFixed(2),
		result.Voided, result.TotalStaked, result.TotalPaidOut, result.SettledAt)
	if err != nil {
		return fmt.Errorf("insert round %d: %w", result.RoundID, err)
	}

	for _, o := range result.Outcomes {
		var target, exit sql.NullString
		if o.Target.IsPositive() {
			target = sql.NullString{String: o.Target.StringFixed(2), Valid: true}
		}
		if o.Status == game.StatusCashedOut {
			exit = sql.NullString{String: o.ExitMultiplier.StringFixed(2), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO round_bets (round_id, account_id, amount, target_multiplier, status, exit_multiplier, payout)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			result.RoundID, o.AccountID, o.Amount, target, string(o.Status), exit, o.Payout)
		if err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.AccountID, err)
		}
	}

	return tx.Commit()
}

// LastRoundID returns the highest archived round id, or 0 when none.
func (s *RoundStore) LastRoundID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(round_id), 0) FROM rounds`).Scan(&id)
	return id, err
}

// RecentRounds returns the newest settled rounds with their outcomes,
// newest first. Seeds are included: the history doubles as the public
// fairness audit trail.
func (s *RoundStore) RecentRounds(ctx context.Context, limit int) ([]game.RoundResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round_id, seed, crash_multiplier, voided, total_staked, total_paid_out, settled_at
		FROM rounds ORDER BY round_id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []game.RoundResult
	for rows.Next() {
		var r game.RoundResult
		var seedStr, crashStr string
		if err := rows.Scan(&r.RoundID, &seedStr, &crashStr, &r.Voided,
			&r.TotalStaked, &r.TotalPaidOut, &r.SettledAt); err != nil {
			return nil, err
		}
		r.Seed = seed.Seed(seedStr)
		r.CrashMultiplier, err = decimal.NewFromString(crashStr)
		if err != nil {
			return nil, fmt.Errorf("round %d crash multiplier: %w", r.RoundID, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		outcomes, err := s.roundOutcomes(ctx, results[i].RoundID)
		if err != nil {
			return nil, err
		}
		results[i].Outcomes = outcomes
	}
	return results, nil
}

func (s *RoundStore) roundOutcomes(ctx context.Context, roundID int64) ([]game.BetOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, amount, target_multiplier, status, exit_multiplier, payout
		FROM round_bets WHERE round_id = $1 ORDER BY account_id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []game.BetOutcome
	for rows.Next() {
		var o game.BetOutcome
		var status string
		var target, exit sql.NullString
		if err := rows.Scan(&o.AccountID, &o.Amount, &target, &status, &exit, &o.Payout); err != nil {
			return nil, err
		}
		o.Status = game.BetStatus(status)
		if target.Valid {
			if o.Target, err = decimal.NewFromString(target.String); err != nil {
				return nil, err
			}
		}
		if exit.Valid {
			if o.ExitMultiplier, err = decimal.NewFromString(exit.String); err != nil {
				return nil, err
			}
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
