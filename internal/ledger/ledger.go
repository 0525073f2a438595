package ledger

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrInsufficientFunds is returned by Reserve when the account's free
// balance does not cover the requested amount.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Ledger is the external balance custodian. All amounts are integer cents
// so stakes and payouts conserve exactly. Reserve debits a stake, Credit
// returns winnings or refunds.
type Ledger interface {
	Reserve(ctx context.Context, accountID string, amount int64) error
	Credit(ctx context.Context, accountID string, amount int64) error
	Balance(ctx context.Context, accountID string) (int64, error)
}

const REDIS_KEY_BALANCE = "crash:balance:"

// RedisLedger keeps balances in Redis as integer cents.
type RedisLedger struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) Reserve(ctx context.Context, accountID string, amount int64) error {
	key := REDIS_KEY_BALANCE + accountID

	remaining, err := l.client.DecrBy(ctx, key, amount).Result()
	if err != nil {
		return err
	}
	if remaining < 0 {
		// Rollback the overdraw.
		if rbErr := l.client.IncrBy(ctx, key, amount).Err(); rbErr != nil {
			log.Printf("[LEDGER] Rollback failed for %s: %v", accountID, rbErr)
		}
		return ErrInsufficientFunds
	}
	return nil
}

func (l *RedisLedger) Credit(ctx context.Context, accountID string, amount int64) error {
	return l.client.IncrBy(ctx, REDIS_KEY_BALANCE+accountID, amount).Err()
}

func (l *RedisLedger) Balance(ctx context.Context, accountID string) (int64, error) {
	bal, err := l.client.Get(ctx, REDIS_KEY_BALANCE+accountID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return bal, err
}

// SetBalance overwrites an account balance. Admin/testing only.
func (l *RedisLedger) SetBalance(ctx context.Context, accountID string, amount int64) error {
	return l.client.Set(ctx, REDIS_KEY_BALANCE+accountID, amount, 0).Err()
}

// Memory is an in-process Ledger for tests and --dev runs without Redis.
type Memory struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[string]int64)}
}

func (m *Memory) Reserve(_ context.Context, accountID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[accountID] < amount {
		return ErrInsufficientFunds
	}
	m.balances[accountID] -= amount
	return nil
}

func (m *Memory) Credit(_ context.Context, accountID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountID] += amount
	return nil
}

func (m *Memory) Balance(_ context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[accountID], nil
}

func (m *Memory) SetBalance(_ context.Context, accountID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountID] = amount
	return nil
}
