package game

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"hashcrash/internal/clock"
	"hashcrash/internal/fair"
	"hashcrash/internal/ledger"
	"hashcrash/internal/seed"
)

const (
	REQUEST_TIMEOUT = 5 * time.Second
	CASHOUT_TIMEOUT = 500 * time.Millisecond
	REQUEST_BACKLOG = 1000

	REDIS_KEY_ROUND_PREFIX = "crash:round:"
	REDIS_KEY_ROUND_LATEST = "crash:round:latest"
	ROUND_CACHE_TTL        = 1 * time.Hour
)

// ResultStore archives settled rounds. Implemented by the database
// package; nil disables archival.
type ResultStore interface {
	SaveResult(ctx context.Context, result RoundResult) error
	LastRoundID(ctx context.Context) (int64, error)
}

// Coordinator owns the authoritative round. Every mutation (bet
// placement, cash-out, phase transition, settlement) runs on its single
// loop goroutine; requests arrive over buffered channels and answers go
// back over per-request response channels. Reads are served from copies
// taken under the round's own lock, which is only ever held for field
// assignments, so ledger and storage I/O never block a snapshot.
type Coordinator struct {
	cfg    Config
	hub    *Hub
	clock  clock.Clock
	seeds  seed.Source
	ledger ledger.Ledger
	store  ResultStore   // optional
	cache  *redis.Client // optional round-result cache

	betting  *BettingLedger
	cashouts *CashOutEngine
	settler  *SettlementEngine

	ctx            context.Context
	current        *round
	stateMutex     sync.RWMutex // guards the current pointer only
	betChannel     chan BetRequest
	cashoutChannel chan CashOutRequest
	stopChan       chan struct{}
	doneChan       chan struct{}
	started        bool
	nextRoundID    int64
}

func NewCoordinator(cfg Config, hub *Hub, clk clock.Clock, src seed.Source, lgr ledger.Ledger, store ResultStore, cache *redis.Client) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:            cfg,
		hub:            hub,
		clock:          clk,
		seeds:          src,
		ledger:         lgr,
		store:          store,
		cache:          cache,
		betting:        NewBettingLedger(cfg, clk, lgr),
		cashouts:       NewCashOutEngine(clk, lgr),
		settler:        NewSettlementEngine(clk, lgr),
		ctx:            context.Background(),
		betChannel:     make(chan BetRequest, REQUEST_BACKLOG),
		cashoutChannel: make(chan CashOutRequest, REQUEST_BACKLOG),
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
		nextRoundID:    1,
	}
}

func (c *Coordinator) Start() {
	if c.store != nil {
		if last, err := c.store.LastRoundID(c.ctx); err == nil && last >= c.nextRoundID {
			c.nextRoundID = last + 1
		}
	}
	c.started = true
	go c.gameLoop()
}

// Stop shuts the loop down and blocks until the in-flight round has been
// voided and its open stakes refunded, so callers can safely close the
// ledger and store connections afterwards.
func (c *Coordinator) Stop() {
	close(c.stopChan)
	if c.started {
		<-c.doneChan
	}
}

// PlaceBet submits a bet to the coordinator and waits for its answer.
func (c *Coordinator) PlaceBet(req BetRequest) BetResponse {
	respChan := make(chan BetResponse, 1)
	req.ResponseChan = respChan

	select {
	case c.betChannel <- req:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(REQUEST_TIMEOUT):
			return BetResponse{Message: "Bet timeout"}
		}
	default:
		return BetResponse{Message: "Bet queue full"}
	}
}

// CashOut submits a cash-out request. The request is evaluated and
// resolved atomically on arrival; there is no pending state to cancel.
func (c *Coordinator) CashOut(req CashOutRequest) CashOutResponse {
	respChan := make(chan CashOutResponse, 1)
	req.ResponseChan = respChan

	select {
	case c.cashoutChannel <- req:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(CASHOUT_TIMEOUT):
			return CashOutResponse{Message: "Cashout timeout"}
		}
	default:
		return CashOutResponse{Message: "Cashout queue full"}
	}
}

// currentRound returns the active round pointer. The round's own lock
// guards its contents; this lock only guards the pointer swap.
func (c *Coordinator) currentRound() *round {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.current
}

// Snapshot returns a copy of the client-visible round state.
func (c *Coordinator) Snapshot() (Snapshot, bool) {
	r := c.currentRound()
	if r == nil {
		return Snapshot{}, false
	}
	return r.snapshot(), true
}

// BetStatus returns the account's bet in the current round, if any.
func (c *Coordinator) BetStatus(accountID string) (BetOutcome, bool) {
	r := c.currentRound()
	if r == nil {
		return BetOutcome{}, false
	}
	return r.betOutcome(accountID)
}

func (c *Coordinator) gameLoop() {
	defer close(c.doneChan)
	for {
		select {
		case <-c.stopChan:
			log.Println("[ROUND] Game loop stopped")
			return
		default:
			c.runRound()
		}
	}
}

// runRound drives one full lifecycle:
// Betting -> Locked -> Revealed -> Rising -> Crashed -> Settled,
// or -> Void if the seed never arrives.
func (c *Coordinator) runRound() {
	id := c.nextRoundID
	c.nextRoundID++

	now := c.clock.Now()
	r := newRound(id, now, c.cfg.BettingDuration)

	c.stateMutex.Lock()
	c.current = r
	c.stateMutex.Unlock()

	log.Printf("\n=== ROUND %d ===", id)
	c.broadcastSnapshot("round_start")

	if !c.bettingPhase(r) {
		c.abortRound(r)
		return
	}

	sd, ok := c.lockedPhase(r)
	if r.phase == PhaseVoid {
		c.voidRound(r)
		c.idlePause(r)
		return
	}
	if !ok { // stopped
		c.abortRound(r)
		return
	}

	c.reveal(r, sd)

	if !c.risingPhase(r) {
		c.abortRound(r)
		return
	}

	c.settleRound(r)
	c.idlePause(r)
}

// abortRound voids the in-flight round when the coordinator stops so
// reserved stakes are refunded before the loop exits. Bets already
// resolved keep their outcome; nothing is paid twice and nothing is
// stranded.
func (c *Coordinator) abortRound(r *round) {
	log.Printf("[ROUND] %d: shutdown mid-round, voiding", r.id)
	r.setPhase(PhaseVoid)
	c.voidRound(r)
}

// bettingPhase accepts bets until the deadline. Returns false on stop.
func (c *Coordinator) bettingPhase(r *round) bool {
	timer := time.NewTimer(c.cfg.BettingDuration)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			r.setPhase(PhaseLocked)
			c.broadcastSnapshot("round_locked")
			return true
		case req := <-c.betChannel:
			c.handleBet(req)
		case req := <-c.cashoutChannel:
			c.handleCashOut(req)
		case <-c.stopChan:
			return false
		}
	}
}

// lockedPhase commits to a future seed point and polls until the seed is
// revealed or the bounded wait expires. On expiry the round phase is Void.
// Returns ok=false when the coordinator is stopping.
func (c *Coordinator) lockedPhase(r *round) (seed.Seed, bool) {
	commitment, err := c.seeds.Commit(c.ctx, r.id)
	if err != nil {
		log.Printf("[ROUND] %d: seed commit failed: %v", r.id, err)
		r.setPhase(PhaseVoid)
		return "", true
	}

	r.mu.Lock()
	r.commitment = &commitment
	r.mu.Unlock()
	c.broadcastSnapshot("round_committed")

	deadline := time.NewTimer(c.cfg.SeedTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(c.cfg.SeedPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-poll.C:
			sd, ok, err := c.seeds.TryGetSeed(c.ctx, commitment)
			if err != nil {
				log.Printf("[ROUND] %d: seed poll error: %v", r.id, err)
				continue
			}
			if ok {
				return sd, true
			}
		case <-deadline.C:
			log.Printf("[ROUND] %d: seed never arrived, voiding", r.id)
			r.setPhase(PhaseVoid)
			return "", true
		case req := <-c.betChannel:
			c.handleBet(req) // rejected: betting closed
		case req := <-c.cashoutChannel:
			c.handleCashOut(req) // rejected: not rising
		case <-c.stopChan:
			return "", false
		}
	}
}

// reveal fixes the crash point from the seed and anchors the curve.
func (c *Coordinator) reveal(r *round, sd seed.Seed) {
	r.setPhase(PhaseRevealed)

	crash := fair.CrashPoint(string(sd), r.id)
	delay := fair.CrashDelay(crash)
	r.revealCrash(sd, crash, delay, c.clock.Now())

	// Server log only. Clients get the live multiplier feed and nothing
	// else until the crash.
	log.Printf("[FAIR] Round %d crash point %s (hidden), t_crash %v", r.id, crash.StringFixed(2), delay)
	c.broadcastSnapshot("round_rising")
}

// risingPhase ticks the curve, fires auto cash-outs and serves manual
// ones until the curve reaches the crash point. Returns false on stop.
func (c *Coordinator) risingPhase(r *round) bool {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			current := fair.MultiplierAt(c.clock.Since(r.startedRisingAt))
			if current.GreaterThanOrEqual(r.crash) {
				r.markCrashed()
				return true
			}
			r.setLive(current.InexactFloat64())
			c.cashouts.ResolveAuto(c.ctx, r, current)

			c.hub.Broadcast(WSMessage{Type: "tick", Data: TickMessage{
				RoundID:    r.id,
				Multiplier: current.InexactFloat64(),
			}})
		case req := <-c.cashoutChannel:
			c.handleCashOut(req)
		case req := <-c.betChannel:
			c.handleBet(req) // rejected: betting closed
		case <-c.stopChan:
			return false
		}
	}
}

// settleRound finishes a crashed round: sweep missed auto targets, bust
// the rest, publish and archive the result.
func (c *Coordinator) settleRound(r *round) {
	c.hub.Broadcast(WSMessage{Type: "crash", Data: CrashMessage{
		RoundID:    r.id,
		Multiplier: r.crash.StringFixed(2),
	}})

	c.cashouts.SweepAutosBeforeCrash(c.ctx, r)
	result := c.settler.Settle(r)
	r.setPhase(PhaseSettled)

	log.Printf("=== ROUND %d ENDED at %s ===\n", r.id, r.crash.StringFixed(2))

	c.hub.Broadcast(WSMessage{Type: "round_result", Data: result})
	c.persistResult(result)
}

// voidRound refunds open stakes and publishes a distinct voided event.
func (c *Coordinator) voidRound(r *round) {
	result := c.settler.Void(c.ctx, r)

	c.hub.Broadcast(WSMessage{Type: "round_voided", Data: result})
	c.persistResult(result)
}

// idlePause is the gap between rounds. Requests keep being answered so a
// caller in this window gets the synchronous phase rejection instead of a
// timeout, and nothing stale is left queued for the next round.
func (c *Coordinator) idlePause(r *round) {
	r.setPhase(PhaseIdle)

	timer := time.NewTimer(c.cfg.InterRoundDelay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return
		case req := <-c.betChannel:
			c.handleBet(req) // rejected: no betting round open
		case req := <-c.cashoutChannel:
			c.handleCashOut(req) // rejected: not rising
		case <-c.stopChan:
			return
		}
	}
}

func (c *Coordinator) handleBet(req BetRequest) {
	r := c.currentRound()
	resp := c.betting.PlaceBet(c.ctx, r, req)

	if resp.Success {
		c.hub.Broadcast(WSMessage{Type: "bet_placed", Data: BetPlacedMessage{
			RoundID:   r.id,
			AccountID: req.AccountID,
			Amount:    req.Amount,
			BetID:     resp.BetID,
		}})
	}
	if req.ResponseChan != nil {
		req.ResponseChan <- resp
	}
}

func (c *Coordinator) handleCashOut(req CashOutRequest) {
	r := c.currentRound()
	resp := c.cashouts.Resolve(c.ctx, r, req.AccountID)

	if resp.Success && resp.Status == StatusCashedOut {
		c.hub.Broadcast(WSMessage{Type: "cashout", Data: CashOutMessage{
			RoundID:    r.id,
			AccountID:  req.AccountID,
			Multiplier: resp.Multiplier.StringFixed(2),
			Payout:     resp.Payout,
		}})
	}
	if req.ResponseChan != nil {
		req.ResponseChan <- resp
	}
}

func (c *Coordinator) broadcastSnapshot(msgType string) {
	c.hub.Broadcast(WSMessage{Type: msgType, Data: c.currentRound().snapshot()})
}

// persistResult archives the round in Postgres and caches it in Redis.
// Both are best-effort: a storage hiccup must not stall the cadence.
func (c *Coordinator) persistResult(result RoundResult) {
	if c.store != nil {
		if err := c.store.SaveResult(c.ctx, result); err != nil {
			log.Printf("[ROUND] %d: archive failed: %v", result.RoundID, err)
		}
	}
	if c.cache != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return
		}
		key := REDIS_KEY_ROUND_PREFIX + strconv.FormatInt(result.RoundID, 10)
		c.cache.Set(c.ctx, key, data, ROUND_CACHE_TTL)
		c.cache.Set(c.ctx, REDIS_KEY_ROUND_LATEST, data, ROUND_CACHE_TTL)
	}
}
