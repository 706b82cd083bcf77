package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/justinchat/justinchat/internal/application/config"
	"github.com/justinchat/justinchat/internal/application/constant"
	"github.com/justinchat/justinchat/internal/infra/adapters/memory"
	"github.com/justinchat/justinchat/internal/infra/appctx"
	"github.com/justinchat/justinchat/internal/signaling"
	"github.com/justinchat/justinchat/internal/usecase"
)

type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	relayUsecase usecase.RelayUsecase

	wsConnRepo memory.WebsocketConnectionRepository

	// pingInterval drives the keepalive ticker.
	pingInterval time.Duration
}

func NewWebSocketHandler(
	cfg *config.Config,
	relayUsecase usecase.RelayUsecase,
	wsConnRepo memory.WebsocketConnectionRepository,
) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				// Native call endpoints send no Origin header.
				origin := r.Header.Get("Origin")
				return origin == "" || origin == cfg.Domain
			},
		},
		relayUsecase: relayUsecase,
		wsConnRepo:   wsConnRepo,
		pingInterval: 30 * time.Second,
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"WebSocket upgrade error",
			slog.Any(constant.Error, err),
		)
		return err
	}
	defer ws.Close()

	userID, ok := appctx.UserID(c.Request().Context())
	if !ok {
		return fmt.Errorf("get user id from context")
	}

	h.wsConnRepo.Add(userID, ws)
	defer h.wsConnRepo.Remove(userID)

	if err = ws.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				// WriteControl is safe alongside the relay's data writes on
				// the same conn.
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					slog.Error("ping failed", slog.Any(constant.Error, err))
					return
				}
			case <-c.Request().Context().Done():
				return
			}
		}
	}()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		default:
			_, msg, err := ws.ReadMessage()
			if err != nil {
				h.handleWebsocketError(c.Request().Context(), err)

				// The peer should not ring forever when the other side
				// vanishes without a bye.
				h.relayUsecase.HandleDisconnect(c.Request().Context(), userID)

				return nil
			}

			envelope := new(signaling.Message)

			if err = json.Unmarshal(msg, envelope); err != nil {
				slog.Error("unmarshal websocket message", slog.Any(constant.Error, err))

				continue
			}

			if err = h.handleMessage(c.Request().Context(), userID, envelope); err != nil {
				slog.Error("handle message",
					slog.Any(constant.Error, err),
					slog.String(constant.EventType, envelope.Type),
				)
				h.writeError(userID, err)
			}
		}
	}
}

func (h *WebSocketHandler) handleMessage(
	ctx context.Context,
	userID uuid.UUID,
	msg *signaling.Message,
) error {
	switch msg.Type {
	case signaling.MessageJoinRoom:
		var joinEvent signaling.JoinRoomEvent

		if err := json.Unmarshal(msg.Data, &joinEvent); err != nil {
			return fmt.Errorf("unmarshal join_room event: %w", err)
		}

		if err := h.relayUsecase.HandleJoinRoom(ctx, userID, joinEvent); err != nil {
			return fmt.Errorf("handle join_room: %w", err)
		}

	case signaling.MessageCall:
		if err := h.relayUsecase.HandleCall(ctx, userID, msg.Data); err != nil {
			return fmt.Errorf("handle webrtc_call: %w", err)
		}

	case signaling.MessageSetting:
		if err := h.relayUsecase.HandleSetting(ctx, userID, msg.Data); err != nil {
			return fmt.Errorf("handle change_call_setting: %w", err)
		}

	default:
		return errors.New("unknown message type")
	}

	return nil
}

func (h *WebSocketHandler) writeError(userID uuid.UUID, err error) {
	data, merr := json.Marshal(signaling.ErrorEvent{Message: err.Error()})
	if merr != nil {
		return
	}

	h.wsConnRepo.Write(userID, signaling.Message{Type: signaling.MessageError, Data: data})
}

func (h *WebSocketHandler) handleWebsocketError(ctx context.Context, err error) {
	userID, ok := appctx.UserID(ctx)
	if !ok {
		userID = uuid.Nil
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			slog.Info("user disconnected from websocket", slog.Any(constant.UserID, userID))
		default:
			slog.Error("websocket close error", slog.Any(constant.Error, err))
		}
	} else {
		slog.Error(
			"websocket read",
			slog.Any(constant.Error, err),
		)
	}
}
