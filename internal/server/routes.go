package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Get("/round", s.getRoundHandler)
	api.Post("/round/bet", s.placeBetHandler)
	api.Post("/round/cashout", s.cashOutHandler)
	api.Get("/round/bet/:accountId", s.getBetStatusHandler)
	api.Get("/rounds/history", s.getHistoryHandler)
	api.Get("/fair/verify", s.verifyHandler)

	api.Get("/account/:accountId/balance", s.getBalanceHandler)
	api.Post("/account/:accountId/balance", s.setBalanceHandler)

	s.App.Get("/ws", websocket.New(s.roundWebSocketHandler))
}
