package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"skycrash/internal/game"
)

type wsClientMessage struct {
	Type        string  `json:"type"`
	Amount      float64 `json:"amount,omitempty"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
	BetID       string  `json:"bet_id,omitempty"`
}

// gameWebSocketHandler bridges one connection to the hub and the engine.
// A single writer goroutine owns all writes to the conn; broadcast events
// and direct replies are multiplexed onto it so they never interleave.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	playerID := conn.Query("player_id")
	if playerID == "" {
		playerID = "guest-" + uuid.NewString()[:8]
	}
	username := conn.Query("username", playerID)

	sub := s.hub.Subscribe(playerID)
	s.sessions.Attach(playerID, username)
	s.log.Info("spectator connected", zap.String("player_id", playerID))

	replies := make(chan []byte, 64)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			var data []byte
			var ok bool
			select {
			case data, ok = <-sub.Events():
				if !ok {
					return
				}
			case data, ok = <-replies:
				if !ok {
					return
				}
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}()

	s.sendInitialState(replies)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg wsClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "place_bet":
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			bet, balance, err := s.engine.PlaceBet(ctx, playerID, msg.Amount, msg.AutoCashout)
			cancel()
			if err != nil {
				s.reply(replies, "bet_rejected", map[string]string{"error": err.Error()})
				continue
			}
			s.reply(replies, "bet_accepted", map[string]interface{}{
				"bet_id":      bet.BetID,
				"round_id":    bet.RoundID,
				"new_balance": balance,
			})

		case "cash_out":
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			bet, balance, err := s.engine.CashOut(ctx, playerID, msg.BetID)
			cancel()
			if err != nil {
				s.reply(replies, "cashout_rejected", map[string]string{"error": err.Error()})
				continue
			}
			s.reply(replies, "cashout_accepted", map[string]interface{}{
				"bet_id":      bet.BetID,
				"multiplier":  bet.SettledMultiplier,
				"payout":      bet.Payout,
				"new_balance": balance,
			})

		case "ping":
			s.reply(replies, "pong", nil)
		}
	}

	s.hub.Unsubscribe(sub)
	s.sessions.Detach(playerID)
	close(replies)
	<-writerDone
	s.log.Info("spectator disconnected", zap.String("player_id", playerID))
}

func (s *FiberServer) sendInitialState(replies chan<- []byte) {
	round, ok := s.engine.CurrentRound()
	if !ok {
		return
	}
	s.reply(replies, game.EventInitialState, map[string]interface{}{
		"round":   round,
		"players": s.sessions.Snapshot(),
	})
}

func (s *FiberServer) reply(replies chan<- []byte, eventType string, data interface{}) {
	payload, err := json.Marshal(game.Event{Type: eventType, Data: data})
	if err != nil {
		s.log.Error("reply marshal failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	select {
	case replies <- payload:
	default:
	}
}
