package server

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"roundhouse/internal/game"
	"roundhouse/internal/protocol"
	"roundhouse/internal/store"
)

const runtimeKey = "runtime"

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{}
	for name, check := range s.checks {
		health[name] = check.Health()
	}

	games := fiber.Map{}
	for _, t := range s.registry.Types() {
		rt, _ := s.registry.Get(t)
		games[string(t)] = fiber.Map{
			"status":            "running",
			"connected_clients": rt.Hub.GetClientCount(),
		}
	}
	health["game"] = games
	return c.JSON(health)
}

// resolveGame loads the engine named by the :game parameter.
func (s *FiberServer) resolveGame(c *fiber.Ctx) error {
	rt, ok := s.registry.Get(game.GameType(c.Params("game")))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown game",
		})
	}
	c.Locals(runtimeKey, rt)
	return c.Next()
}

func runtimeOf(c *fiber.Ctx) game.Runtime {
	return c.Locals(runtimeKey).(game.Runtime)
}

func (s *FiberServer) snapshotHandler(c *fiber.Ctx) error {
	snap, err := runtimeOf(c).Engine.Snapshot(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(snap)
}

type betBody struct {
	Amount decimal.Decimal `json:"amount"`
	Target string          `json:"target"`
}

type betRefBody struct {
	BetID string `json:"betId"`
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var body betBody
	if err := c.BodyParser(&body); err != nil {
		return badBody(c)
	}
	ack := runtimeOf(c).Engine.PlaceBet(c.UserContext(), game.PlaceBetRequest{
		Credential: c.Get(fiber.HeaderAuthorization),
		Amount:     body.Amount,
		Target:     body.Target,
	})
	return respondAck(c, ack)
}

func (s *FiberServer) cancelBetHandler(c *fiber.Ctx) error {
	var body betRefBody
	if err := c.BodyParser(&body); err != nil {
		return badBody(c)
	}
	ack := runtimeOf(c).Engine.CancelBet(c.UserContext(), game.CancelBetRequest{
		Credential: c.Get(fiber.HeaderAuthorization),
		BetID:      body.BetID,
	})
	return respondAck(c, ack)
}

func (s *FiberServer) cashOutHandler(c *fiber.Ctx) error {
	var body betRefBody
	if err := c.BodyParser(&body); err != nil {
		return badBody(c)
	}
	ack := runtimeOf(c).Engine.CashOut(c.UserContext(), game.CashOutRequest{
		Credential: c.Get(fiber.HeaderAuthorization),
		BetID:      body.BetID,
	})
	return respondAck(c, ack)
}

func badBody(c *fiber.Ctx) error {
	return respondAck(c, game.Ack{Code: protocol.CodeBadRequest, Message: protocol.ErrBadRequest.Message})
}

func respondAck(c *fiber.Ctx, ack game.Ack) error {
	if ack.OK {
		return c.JSON(ack)
	}
	return c.Status(statusFor(ack.Code)).JSON(ack)
}

func statusFor(code game.Code) int {
	switch code {
	case game.CodeInvalidAmount, game.CodeInvalidTarget, game.CodeMissingBetID,
		game.CodeCashOutUnsupported, protocol.CodeBadRequest, protocol.CodeUnsupportedVersion:
		return fiber.StatusBadRequest
	case game.CodeUnauthenticated:
		return fiber.StatusUnauthorized
	case game.CodeForbidden:
		return fiber.StatusForbidden
	case game.CodeBetNotFound:
		return fiber.StatusNotFound
	case game.CodeNotAccepting, game.CodeNotResolving, game.CodeAlreadyResolved:
		return fiber.StatusConflict
	case game.CodeInsufficientBalance:
		return fiber.StatusPaymentRequired
	case game.CodeBusy:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *FiberServer) listRoundsHandler(c *fiber.Ctx) error {
	if s.store == nil {
		return storeUnavailable(c)
	}
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))

	gameType := game.GameType(c.Query("game"))
	if gameType != "" {
		if _, ok := s.registry.Get(gameType); !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown game",
			})
		}
	}

	result, err := s.store.ListRounds(c.UserContext(), gameType, page, limit)
	if err != nil {
		s.log.Error("list rounds", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load rounds",
		})
	}
	return c.JSON(result)
}

func (s *FiberServer) getRoundHandler(c *fiber.Ctx) error {
	if s.store == nil {
		return storeUnavailable(c)
	}
	rec, err := s.store.GetRound(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Round not found",
		})
	}
	if err != nil {
		s.log.Error("get round", zap.String("round", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load round",
		})
	}
	return c.JSON(rec)
}

// authenticated resolves the Authorization header or writes a 401.
func (s *FiberServer) authenticated(c *fiber.Ctx) (string, bool) {
	userID, err := s.auth.Authenticate(c.UserContext(), c.Get(fiber.HeaderAuthorization))
	if err != nil || userID == "" {
		_ = c.Status(fiber.StatusUnauthorized).JSON(game.Ack{
			Code:    game.CodeUnauthenticated,
			Message: game.ErrUnauthenticated.Message,
		})
		return "", false
	}
	return userID, true
}

func (s *FiberServer) balanceHandler(c *fiber.Ctx) error {
	userID, ok := s.authenticated(c)
	if !ok {
		return nil
	}
	balance, err := s.wallet.Balance(c.UserContext(), userID)
	if err != nil {
		s.log.Error("read balance", zap.String("user", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read balance",
		})
	}
	return c.JSON(fiber.Map{
		"userId":  userID,
		"balance": balance,
	})
}

func (s *FiberServer) historyHandler(c *fiber.Ctx) error {
	if s.store == nil {
		return storeUnavailable(c)
	}
	userID, ok := s.authenticated(c)
	if !ok {
		return nil
	}
	limit, _ := strconv.Atoi(c.Query("limit", "0"))
	entries, err := s.store.UserHistory(c.UserContext(), userID, limit)
	if err != nil {
		s.log.Error("user history", zap.String("user", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}
	return c.JSON(fiber.Map{
		"userId":  userID,
		"history": entries,
	})
}

func storeUnavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "History store not configured",
	})
}
