package seed

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Seed is the unpredictable value a round's crash point is derived from.
type Seed string

// CommitmentRef pins a round to a future beacon round. It is recorded
// before betting closes, so the seed it resolves to could not have been
// known or influenced when the last bet was placed.
type CommitmentRef struct {
	RoundID     int64     `json:"round_id"`
	BeaconRound int64     `json:"beacon_round"`
	CommittedAt time.Time `json:"committed_at"`
}

// Source supplies delayed randomness. Commit fixes the future point a
// round's seed will come from; TryGetSeed polls for its availability.
type Source interface {
	Commit(ctx context.Context, roundID int64) (CommitmentRef, error)
	TryGetSeed(ctx context.Context, ref CommitmentRef) (Seed, bool, error)
}

const (
	REDIS_KEY_BEACON_ROUND = "beacon:round"
	REDIS_KEY_BEACON_VALUE = "beacon:value:"

	// COMMIT_DELAY is how many beacon rounds ahead a commitment points.
	// Must cover the remaining betting window so the value is still
	// unknown when bets close.
	COMMIT_DELAY = 3
)

// RedisBeacon reads a randomness beacon published to Redis by an external
// watcher (one value per beacon round, e.g. a block hash per block).
type RedisBeacon struct {
	client *redis.Client
}

func NewRedisBeacon(client *redis.Client) *RedisBeacon {
	return &RedisBeacon{client: client}
}

func (b *RedisBeacon) Commit(ctx context.Context, roundID int64) (CommitmentRef, error) {
	current, err := b.client.Get(ctx, REDIS_KEY_BEACON_ROUND).Int64()
	if err != nil {
		return CommitmentRef{}, fmt.Errorf("beacon head unavailable: %w", err)
	}

	ref := CommitmentRef{
		RoundID:     roundID,
		BeaconRound: current + COMMIT_DELAY,
		CommittedAt: time.Now(),
	}
	log.Printf("[SEED] Round %d committed to beacon round %d", roundID, ref.BeaconRound)
	return ref, nil
}

func (b *RedisBeacon) TryGetSeed(ctx context.Context, ref CommitmentRef) (Seed, bool, error) {
	key := fmt.Sprintf("%s%d", REDIS_KEY_BEACON_VALUE, ref.BeaconRound)
	val, err := b.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return Seed(val), true, nil
}

// Stub is a test double with explicit control over seed availability.
// The zero value never reveals, which exercises the void path.
type Stub struct {
	mu    sync.Mutex
	seeds map[int64]Seed
}

func NewStub() *Stub {
	return &Stub{seeds: make(map[int64]Seed)}
}

// SetSeed makes a seed available for a round.
func (s *Stub) SetSeed(roundID int64, seed Seed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeds == nil {
		s.seeds = make(map[int64]Seed)
	}
	s.seeds[roundID] = seed
}

func (s *Stub) Commit(_ context.Context, roundID int64) (CommitmentRef, error) {
	return CommitmentRef{RoundID: roundID, BeaconRound: roundID, CommittedAt: time.Now()}, nil
}

func (s *Stub) TryGetSeed(_ context.Context, ref CommitmentRef) (Seed, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seed, ok := s.seeds[ref.RoundID]
	return seed, ok, nil
}
