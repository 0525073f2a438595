package seed

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"hashcrash/internal/fair"
)

const BEACON_VALUE_TTL = 24 * time.Hour

// LocalBeacon publishes a random value per beacon round to Redis, standing
// in for the external chain watcher in development and single-node
// deployments. In production the watcher writes real block hashes to the
// same keys and this publisher stays off.
type LocalBeacon struct {
	client   *redis.Client
	interval time.Duration
	stopChan chan struct{}
}

func NewLocalBeacon(client *redis.Client, interval time.Duration) *LocalBeacon {
	return &LocalBeacon{
		client:   client,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

func (lb *LocalBeacon) Start() {
	go lb.run()
}

func (lb *LocalBeacon) Stop() {
	close(lb.stopChan)
}

func (lb *LocalBeacon) run() {
	ctx := context.Background()
	ticker := time.NewTicker(lb.interval)
	defer ticker.Stop()

	log.Printf("[SEED] Local beacon publishing every %v", lb.interval)

	for {
		select {
		case <-ticker.C:
			round, err := lb.client.Incr(ctx, REDIS_KEY_BEACON_ROUND).Result()
			if err != nil {
				log.Printf("[SEED] Beacon head increment failed: %v", err)
				continue
			}
			key := fmt.Sprintf("%s%d", REDIS_KEY_BEACON_VALUE, round)
			if err := lb.client.Set(ctx, key, fair.GenerateSeed(), BEACON_VALUE_TTL).Err(); err != nil {
				log.Printf("[SEED] Beacon value write failed: %v", err)
			}
		case <-lb.stopChan:
			return
		}
	}
}
