package server

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"hashcrash/internal/fair"
	"hashcrash/internal/game"
)

const HISTORY_MAX_LIMIT = 100

// Health handler
func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"database": s.db.Health(),
		"cache":    s.cache.Health(),
		"round": fiber.Map{
			"status":            "running",
			"connected_clients": s.hub.GetClientCount(),
		},
	}
	return c.JSON(health)
}

// Round handlers

func (s *FiberServer) getRoundHandler(c *fiber.Ctx) error {
	snap, ok := s.coordinator.Snapshot()
	if !ok {
		return c.Status(404).JSON(fiber.Map{
			"error": "No active round",
		})
	}
	return c.JSON(snap)
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.BetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.AccountID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Account ID is required",
		})
	}

	resp := s.coordinator.PlaceBet(req)
	if !resp.Success {
		return c.Status(400).JSON(resp)
	}

	return c.JSON(resp)
}

func (s *FiberServer) cashOutHandler(c *fiber.Ctx) error {
	var req game.CashOutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.AccountID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Account ID is required",
		})
	}

	resp := s.coordinator.CashOut(req)
	if !resp.Success {
		return c.Status(400).JSON(resp)
	}

	return c.JSON(resp)
}

func (s *FiberServer) getBetStatusHandler(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	if accountID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Account ID is required",
		})
	}

	outcome, ok := s.coordinator.BetStatus(accountID)
	if !ok {
		return c.Status(404).JSON(fiber.Map{
			"error": "No bet for this account in the current round",
		})
	}
	return c.JSON(outcome)
}

func (s *FiberServer) getHistoryHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > HISTORY_MAX_LIMIT {
		limit = 20
	}

	results, err := s.rounds.RecentRounds(c.Context(), limit)
	if err != nil {
		log.Printf("[SERVER] History query failed: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load round history",
		})
	}

	return c.JSON(fiber.Map{
		"rounds": results,
	})
}

// verifyHandler recomputes the crash multiplier from a revealed seed so
// anyone can check a settled round without trusting the server.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	seedHex := c.Query("seed")
	roundID, err := strconv.ParseInt(c.Query("round_id"), 10, 64)
	if seedHex == "" || err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "seed and round_id are required",
		})
	}

	crash := fair.CrashPoint(seedHex, roundID)

	resp := fiber.Map{
		"round_id":         roundID,
		"seed":             seedHex,
		"commitment":       fair.HashCommitment(seedHex),
		"crash_multiplier": crash,
	}

	if claimed := c.Query("crash_multiplier"); claimed != "" {
		claimedDec, err := decimal.NewFromString(claimed)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{
				"error": "crash_multiplier must be a decimal",
			})
		}
		resp["valid"] = fair.Verify(seedHex, roundID, claimedDec)
	}

	return c.JSON(resp)
}

// Account handlers

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	if accountID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Account ID is required",
		})
	}

	balance, err := s.ledger.Balance(c.Context(), accountID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to read balance",
		})
	}

	return c.JSON(fiber.Map{
		"account_id": accountID,
		"balance":    balance,
	})
}

// setBalanceHandler overwrites an account balance. Testing/admin only;
// amounts are integer cents like everything else.
func (s *FiberServer) setBalanceHandler(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	if accountID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Account ID is required",
		})
	}

	var body struct {
		Balance int64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := s.ledger.SetBalance(c.Context(), accountID, body.Balance); err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to set balance",
		})
	}

	return c.JSON(fiber.Map{
		"account_id": accountID,
		"balance":    body.Balance,
		"message":    "Balance updated successfully",
	})
}

// roundWebSocketHandler handles WebSocket connections for the live
// multiplier feed. Bets and cash-outs can also be sent over the socket.
func (s *FiberServer) roundWebSocketHandler(conn *websocket.Conn) {
	accountID := conn.Query("account_id", "anonymous")

	log.Printf("[WS] New connection from account: %s", accountID)

	client := s.hub.RegisterClient(conn, accountID)

	if snap, ok := s.coordinator.Snapshot(); ok {
		client.SendSnapshot(snap)
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Read error for account %s: %v", accountID, err)
			s.hub.UnregisterClient(conn)
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var clientMsg map[string]interface{}
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			continue
		}

		msgType, ok := clientMsg["type"].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "place_bet":
			amount, _ := strconv.ParseInt(fmt.Sprintf("%v", clientMsg["amount"]), 10, 64)
			target, _ := decimal.NewFromString(fmt.Sprintf("%v", clientMsg["target_multiplier"]))

			resp := s.coordinator.PlaceBet(game.BetRequest{
				AccountID: accountID,
				Amount:    amount,
				Target:    target,
			})

			respJSON, _ := json.Marshal(resp)
			conn.WriteMessage(websocket.TextMessage, respJSON)

		case "cash_out":
			resp := s.coordinator.CashOut(game.CashOutRequest{
				AccountID: accountID,
			})

			respJSON, _ := json.Marshal(resp)
			conn.WriteMessage(websocket.TextMessage, respJSON)

		case "snapshot":
			if snap, ok := s.coordinator.Snapshot(); ok {
				client.SendSnapshot(snap)
			}

		case "ping":
			pongJSON, _ := json.Marshal(map[string]string{"type": "pong"})
			conn.WriteMessage(websocket.TextMessage, pongJSON)
		}
	}
}
