package server

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"roundhouse/internal/game"
	"roundhouse/internal/protocol"
)

const (
	maxMessageSize = 64 * 1024
	pongWait       = 60 * time.Second
)

func (s *FiberServer) upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// gameWebSocketHandler serves one realtime connection. The optional token
// query parameter routes private events to the socket before any command
// is sent; every command still carries its own credential.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	rt := conn.Locals(runtimeKey).(game.Runtime)
	ctx := context.Background()

	userID := ""
	if token := conn.Query("token"); token != "" {
		if id, err := s.auth.Authenticate(ctx, token); err == nil {
			userID = id
		}
	}

	client := rt.Hub.Register(conn, userID)
	defer rt.Hub.Unregister(client)

	if snap, err := rt.Engine.Snapshot(ctx); err == nil {
		rt.Hub.SendTo(client, game.Event{Type: game.EventPhaseSnapshot, Data: snap})
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read", zap.String("client", client.ID()), zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		rt.Hub.SendTo(client, s.dispatch(ctx, rt.Engine, client.ID(), message))
	}
}

func (s *FiberServer) dispatch(ctx context.Context, engine *game.Engine, connID string, raw []byte) game.Event {
	cmd, err := protocol.Decode(raw)
	if err != nil {
		return protocol.Reject(cmd.ID, err)
	}

	var ack game.Ack
	switch cmd.Type {
	case protocol.TypePing:
		return protocol.Pong(cmd.ID)
	case protocol.TypePlaceBet:
		ack = engine.PlaceBet(ctx, game.PlaceBetRequest{
			Credential: cmd.PlaceBet.Credential,
			Amount:     cmd.PlaceBet.Amount,
			Target:     cmd.PlaceBet.Target,
			ConnID:     connID,
		})
	case protocol.TypeCancelBet:
		ack = engine.CancelBet(ctx, game.CancelBetRequest{
			Credential: cmd.CancelBet.Credential,
			BetID:      cmd.CancelBet.BetID,
			ConnID:     connID,
		})
	case protocol.TypeCashOut:
		ack = engine.CashOut(ctx, game.CashOutRequest{
			Credential: cmd.CashOut.Credential,
			BetID:      cmd.CashOut.BetID,
			ConnID:     connID,
		})
	}
	return protocol.AckFor(cmd.ID, ack)
}
