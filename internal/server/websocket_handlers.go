package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"betelconnect/internal/cache"
	"betelconnect/internal/middleware"
	"betelconnect/internal/models"
	"betelconnect/internal/notifications"
	"betelconnect/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// inboundEvent is a client frame: {"type": ..., "payload": {...}}.
type inboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// inboundPayload is the union of the fields inbound events carry.
type inboundPayload struct {
	ReceiverID uint   `json:"receiver_id"`
	SenderID   uint   `json:"sender_id"`
	MessageID  uint   `json:"message_id"`
	Content    string `json:"content"`
}

// IssueWSTicket handles POST /api/ws/ticket. The ticket authenticates one
// websocket upgrade within 30 seconds.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewInternalError(errors.New("websocket tickets require redis")))
	}

	ticket, err := cache.IssueWSTicket(c.UserContext(), s.redis, userID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(cache.WSTicketTTL.Seconds()),
	})
}

// WebsocketUpgrade rejects plain HTTP requests to the socket route.
func (s *Server) WebsocketUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// WebsocketHandler serves GET /api/ws. A connection is registered in its
// user's room on upgrade and counts toward presence after a join event.
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ctx := observability.WithCorrelationID(context.Background(), observability.GenerateCorrelationID())

		userID, ok := conn.Locals(middleware.LocalUserID).(uint)
		if !ok || userID == 0 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"code":"UNAUTHORIZED","message":"unauthorized"}}`))
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			s.wsLog.LogError(ctx, userID, err, "register")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"code":"UNAVAILABLE","message":"`+err.Error()+`"}}`))
			_ = conn.Close()
			return
		}
		s.wsLog.LogConnect(ctx, userID)

		client.IncomingHandler = func(c *notifications.Client, message []byte) {
			s.dispatch(ctx, c, message)
		}

		go client.WritePump()
		client.ReadPump()

		s.wsLog.LogDisconnect(ctx, userID, "connection closed")
	})
}

// dispatch handles one inbound frame for client. Failures are answered with
// an error event to that connection only.
func (s *Server) dispatch(ctx context.Context, client *notifications.Client, message []byte) {
	var ev inboundEvent
	if err := json.Unmarshal(message, &ev); err != nil || ev.Type == "" {
		s.replyError(ctx, client, "", models.NewValidationError("Invalid message format"))
		return
	}

	var p inboundPayload
	if len(ev.Payload) > 0 && string(ev.Payload) != "null" {
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			s.replyError(ctx, client, ev.Type, models.NewValidationError("Invalid payload"))
			return
		}
	}

	observability.WebSocketEventsTotal.WithLabelValues(ev.Type).Inc()
	s.wsLog.LogMessage(ctx, client.UserID, ev.Type)
	ctx = context.WithValue(ctx, middleware.UserIDKey, client.UserID)

	var err error
	switch ev.Type {
	case notifications.EventJoin:
		s.hub.Join(ctx, client)
	case notifications.EventJoinForum:
		// forum events are broadcast to every connection
	case notifications.EventTyping:
		s.messageService.Typing(ctx, client.UserID, p.ReceiverID)
	case notifications.EventStopTyping:
		s.messageService.StopTyping(ctx, client.UserID, p.ReceiverID)
	case notifications.EventSendMessage:
		_, err = s.messageService.Send(ctx, client.UserID, p.ReceiverID, p.Content)
	case notifications.EventUpdateMessage:
		_, err = s.messageService.Edit(ctx, p.MessageID, client.UserID, p.Content)
	case notifications.EventDeleteMessage:
		err = s.messageService.Delete(ctx, p.MessageID, client.UserID)
	case notifications.EventMarkRead:
		_, err = s.messageService.MarkRead(ctx, client.UserID, p.SenderID)
	default:
		err = models.NewValidationError("Unknown event type " + ev.Type)
	}

	if err != nil {
		s.replyError(ctx, client, ev.Type, err)
	}
}

func (s *Server) replyError(ctx context.Context, client *notifications.Client, eventType string, err error) {
	payload := notifications.ErrorPayload{Code: models.CodeInternal, Message: "Internal server error"}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		payload = notifications.ErrorPayload{Code: appErr.Code, Message: appErr.Message}
	}
	if payload.Code == models.CodeInternal || payload.Code == models.CodeUpload {
		s.wsLog.LogError(ctx, client.UserID, err, eventType)
	} else {
		middleware.Logger.DebugContext(ctx, "websocket event rejected",
			slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
	client.SendEvent(notifications.Event{Type: notifications.EventError, Payload: payload})
}
