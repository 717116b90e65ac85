package server

import (
	"errors"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/utils"

	"skycrash/internal/game"
)

func (s *FiberServer) RegisterRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Get("/game/state", s.gameStateHandler)
	api.Post("/game/bet", s.placeBetHandler)
	api.Post("/game/cashout", s.cashoutHandler)
	api.Get("/game/history", s.historyHandler)
	api.Get("/game/verify", s.verifyHandler)
	api.Get("/user/:userId/balance", s.getBalanceHandler)
	api.Post("/user/:userId/balance", s.setBalanceHandler)

	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"cache": s.cache.Health(),
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.hub.SubscriberCount(),
			"live_sessions":     s.sessions.Count(),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	return c.JSON(health)
}

func (s *FiberServer) gameStateHandler(c *fiber.Ctx) error {
	round, ok := s.engine.CurrentRound()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no active round",
		})
	}
	return c.JSON(round)
}

type placeBetBody struct {
	PlayerID    string  `json:"player_id"`
	Amount      float64 `json:"amount"`
	AutoCashout float64 `json:"auto_cashout"`
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var body placeBetBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if body.PlayerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "player_id is required",
		})
	}

	bet, balance, err := s.engine.PlaceBet(c.Context(), body.PlayerID, body.Amount, body.AutoCashout)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"bet_id":      bet.BetID,
		"round_id":    bet.RoundID,
		"new_balance": balance,
	})
}

type cashoutBody struct {
	PlayerID string `json:"player_id"`
	BetID    string `json:"bet_id"`
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var body cashoutBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if body.PlayerID == "" || body.BetID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "player_id and bet_id are required",
		})
	}

	bet, balance, err := s.engine.CashOut(c.Context(), body.PlayerID, body.BetID)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"bet_id":      bet.BetID,
		"multiplier":  bet.SettledMultiplier,
		"payout":      bet.Payout,
		"new_balance": balance,
	})
}

func (s *FiberServer) historyHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	return c.JSON(fiber.Map{
		"rounds": s.history.Recent(limit),
	})
}

// verifyHandler recomputes a crash point from a revealed seed pair so any
// player can audit a finished round.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	serverSeed := c.Query("server_seed")
	clientSeed := c.Query("client_seed")
	if serverSeed == "" || clientSeed == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "server_seed and client_seed are required",
		})
	}

	derived := game.DeriveCrashPoint(serverSeed, clientSeed, s.cfg.MaxCrash)
	resp := fiber.Map{
		"crash_point":     derived,
		"seed_commitment": game.SeedCommitment(serverSeed),
	}

	if claimed := c.Query("crash_point"); claimed != "" {
		v, err := strconv.ParseFloat(claimed, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "crash_point must be a number",
			})
		}
		resp["valid"] = game.VerifyOutcome(serverSeed, clientSeed, v, s.cfg.MaxCrash)
	}
	return c.JSON(resp)
}

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	// Params are backed by the request buffer; copy before they outlive it.
	playerID := utils.CopyString(c.Params("userId"))
	balance, err := s.ledger.Balance(c.Context(), playerID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to read balance",
		})
	}
	return c.JSON(fiber.Map{
		"player_id": playerID,
		"balance":   balance,
	})
}

// setBalanceHandler seeds a balance. Deposits and withdrawals belong to an
// external payment collaborator; this is its integration seam and the admin
// escape hatch for testing.
func (s *FiberServer) setBalanceHandler(c *fiber.Ctx) error {
	playerID := utils.CopyString(c.Params("userId"))

	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := s.ledger.SetBalance(c.Context(), playerID, body.Balance); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"player_id": playerID,
		"balance":   body.Balance,
	})
}

func errorResponse(c *fiber.Ctx, err error) error {
	return c.Status(statusForError(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, game.ErrBetNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, game.ErrAlreadySettled):
		return fiber.StatusConflict
	case errors.Is(err, game.ErrInvalidAmount),
		errors.Is(err, game.ErrInvalidAutoCashout),
		errors.Is(err, game.ErrInsufficientBalance),
		errors.Is(err, game.ErrBettingClosed),
		errors.Is(err, game.ErrRoundNotFlying):
		return fiber.StatusBadRequest
	case errors.Is(err, game.ErrEngineBusy):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
