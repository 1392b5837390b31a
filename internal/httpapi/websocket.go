package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/relaydebate/internal/debate"
)

const wsWriteTimeout = 10 * time.Second

// handleWebSocket upgrades to the push channel for one debate. The first
// message is the debate's initial state; new arguments follow in seq order.
// Arbitrator actions may be sent back over the same connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	debateID := strings.TrimSpace(r.URL.Query().Get("debate_id"))
	if debateID == "" {
		s.writeDebateError(w, r, debate.InvalidInput("debate_id is required"))
		return
	}
	if _, err := s.service.GetDebate(r.Context(), debateID); err != nil {
		s.writeDebateError(w, r, err)
		return
	}

	// The push channel outlives the server's per-request deadlines.
	controller := http.NewResponseController(w)
	_ = controller.SetReadDeadline(time.Time{})
	_ = controller.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn("websocket accept failed", "debate_id", debateID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected shutdown")
	conn.SetReadLimit(s.cfg.MaxBodyBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.hub.Subscribe(ctx, debateID)
	if err != nil {
		var apiErr *debate.Error
		reason := "subscribe failed"
		if errors.As(err, &apiErr) {
			reason = apiErr.Message
		}
		_ = conn.Close(websocket.StatusPolicyViolation, reason)
		return
	}
	defer s.hub.Unsubscribe(sub)
	log := s.log.With("debate_id", debateID, "subscriber_id", sub.ID.String())
	log.Debug("push channel opened")

	go s.readInbound(ctx, cancel, conn, sub)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-sub.Outbound:
			if err := s.writeHubMessage(ctx, conn, msg); err != nil {
				log.Debug("push channel write failed", "error", err)
				return
			}
		case <-sub.Done():
			s.drainOutbound(ctx, conn, sub)
			log.Debug("push channel closed by hub")
			_ = conn.Close(websocket.StatusGoingAway, "subscription closed")
			return
		}
	}
}

func (s *Server) drainOutbound(ctx context.Context, conn *websocket.Conn, sub *debate.Subscriber) {
	for {
		select {
		case msg := <-sub.Outbound:
			if err := s.writeHubMessage(ctx, conn, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Server) writeHubMessage(ctx context.Context, conn *websocket.Conn, msg debate.HubMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}

func (s *Server) readInbound(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *debate.Subscriber) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.log.Debug("push channel read failed", "subscriber_id", sub.ID.String(), "error", err)
			}
			return
		}
		if message, valid := s.schemas.validate(schemaInboundMessage, data); !valid {
			s.hub.SendError(sub, debate.InvalidInput(message))
			continue
		}
		var msg debate.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.hub.SendError(sub, debate.InvalidInput("invalid json message"))
			continue
		}
		if err := s.hub.HandleInbound(ctx, sub, msg); err != nil {
			s.log.Debug("push channel action rejected", "subscriber_id", sub.ID.String(), "type", msg.Type, "error", err)
		}
	}
}
