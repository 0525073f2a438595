package server

import (
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"hashcrash/internal/cache"
	"hashcrash/internal/clock"
	"hashcrash/internal/database"
	"hashcrash/internal/game"
	"hashcrash/internal/ledger"
	"hashcrash/internal/seed"
)

type FiberServer struct {
	*fiber.App

	db          database.Service
	cache       cache.Service
	hub         *game.Hub
	coordinator *game.Coordinator
	ledger      *ledger.RedisLedger
	rounds      *database.RoundStore
	beacon      *seed.LocalBeacon
}

func New() *FiberServer {
	db := database.New()

	redisService := cache.New()
	if redisService == nil {
		log.Fatal("[SERVER] Redis is required for the round engine")
	}
	client := redisService.GetClient()

	hub := game.NewHub()
	lgr := ledger.NewRedis(client)
	rounds := database.NewRoundStore(db.DB())

	// Without an external beacon feed, publish our own. The coordinator
	// still only ever reads beacon values through the same Redis keys.
	var beacon *seed.LocalBeacon
	if getEnv("BEACON_MODE", "local") == "local" {
		beacon = seed.NewLocalBeacon(client, getEnvDuration("BEACON_INTERVAL", 2*time.Second))
	}

	coordinator := game.NewCoordinator(
		game.ConfigFromEnv(),
		hub,
		clock.New(),
		seed.NewRedisBeacon(client),
		lgr,
		rounds,
		client,
	)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "hashcrash",
			AppName:       "hashcrash",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:          db,
		cache:       redisService,
		hub:         hub,
		coordinator: coordinator,
		ledger:      lgr,
		rounds:      rounds,
		beacon:      beacon,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()
	if beacon != nil {
		beacon.Start()
	}
	coordinator.Start()

	log.Println("[SERVER] Round coordinator started")

	return server
}

// Shutdown stops the round loop before closing connections so the
// current round settles or voids cleanly.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.coordinator != nil {
		s.coordinator.Stop()
	}
	if s.beacon != nil {
		s.beacon.Stop()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
