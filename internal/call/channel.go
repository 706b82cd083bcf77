package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/justinchat/justinchat/internal/application/constant"
	"github.com/justinchat/justinchat/internal/signaling"
)

// Transport is the signaling channel the engine is built against. It is an
// injected dependency, never ambient state; tests substitute an in-memory
// implementation.
type Transport interface {
	// Connect establishes the channel. Idempotent: a no-op if already
	// connected. Exceeding the retry budget is a terminal failure.
	Connect(ctx context.Context) error

	// Join subscribes the endpoint to a calling room.
	Join(roomID string) error

	// Listen arms the webrtc_call and change_call_setting handlers and
	// returns a detach func. The detach must run before handlers are armed
	// again, so a pipeline restart never double-registers.
	Listen(onCall func(signaling.CallEvent), onSetting func(signaling.SettingEvent)) (func(), error)

	SendCall(ev signaling.CallEvent) error
	SendSetting(ev signaling.SettingEvent) error

	Close() error
}

const connectAttempts = 5

var errNotConnected = errors.New("signaling channel not connected")

// Channel is the websocket Transport against the relay. A Channel may
// outlive call sessions: a new call cycle reuses the connected channel and
// re-runs setup from media acquisition.
type Channel struct {
	url     string
	session string // session JWT presented as a cookie on dial
	log     *slog.Logger

	// backoff between connect attempts, scaled by attempt number.
	backoff time.Duration

	mu   sync.Mutex
	conn *websocket.Conn

	hmu       sync.Mutex
	onCall    func(signaling.CallEvent)
	onSetting func(signaling.SettingEvent)
}

func NewChannel(url, sessionToken string, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}

	return &Channel{
		url:     url,
		session: sessionToken,
		log:     log,
		backoff: 500 * time.Millisecond,
	}
}

func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	header := http.Header{}
	if c.session != "" {
		header.Set("Cookie", "jwt="+c.session)
	}

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		conn, _, err := dialer.DialContext(ctx, c.url, header)
		if err == nil {
			c.conn = conn
			go c.readLoop(conn)
			return nil
		}

		lastErr = err
		c.log.Warn("signaling connect attempt failed",
			slog.Int("attempt", attempt),
			slog.Any(constant.Error, err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect signaling channel: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}

	return fmt.Errorf("connect signaling channel after %d attempts: %w", connectAttempts, lastErr)
}

func (c *Channel) Join(roomID string) error {
	return c.write(signaling.MessageJoinRoom, signaling.JoinRoomEvent{RoomID: roomID})
}

func (c *Channel) Listen(
	onCall func(signaling.CallEvent),
	onSetting func(signaling.SettingEvent),
) (func(), error) {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()

	if !connected {
		return nil, errNotConnected
	}

	c.hmu.Lock()
	c.onCall = onCall
	c.onSetting = onSetting
	c.hmu.Unlock()

	detach := func() {
		c.hmu.Lock()
		c.onCall = nil
		c.onSetting = nil
		c.hmu.Unlock()
	}

	return detach, nil
}

func (c *Channel) SendCall(ev signaling.CallEvent) error {
	return c.write(signaling.MessageCall, ev)
}

func (c *Channel) SendSetting(ev signaling.SettingEvent) error {
	return c.write(signaling.MessageSetting, ev)
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Channel) write(msgType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errNotConnected
	}

	if err := c.conn.WriteJSON(signaling.Message{Type: msgType, Data: data}); err != nil {
		return fmt.Errorf("write %s: %w", msgType, err)
	}

	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Error("unmarshal signaling message", slog.Any(constant.Error, err))
			continue
		}

		switch msg.Type {
		case signaling.MessageCall:
			var ev signaling.CallEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				c.log.Error("unmarshal webrtc_call", slog.Any(constant.Error, err))
				continue
			}
			c.dispatchCall(ev)

		case signaling.MessageSetting:
			var ev signaling.SettingEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				c.log.Error("unmarshal change_call_setting", slog.Any(constant.Error, err))
				continue
			}
			c.dispatchSetting(ev)

		case signaling.MessageError:
			var ev signaling.ErrorEvent
			if err := json.Unmarshal(msg.Data, &ev); err == nil {
				c.log.Error("relay error", slog.String("message", ev.Message))
			}

		default:
			c.log.Warn("unknown signaling envelope", slog.String(constant.EventType, msg.Type))
		}
	}
}

func (c *Channel) dispatchCall(ev signaling.CallEvent) {
	c.hmu.Lock()
	handler := c.onCall
	c.hmu.Unlock()

	if handler != nil {
		handler(ev)
	}
}

func (c *Channel) dispatchSetting(ev signaling.SettingEvent) {
	c.hmu.Lock()
	handler := c.onSetting
	c.hmu.Unlock()

	if handler != nil {
		handler(ev)
	}
}

func (c *Channel) handleReadError(conn *websocket.Conn, err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) &&
		(closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
		c.log.Info("signaling channel closed")
	} else {
		c.log.Error("signaling channel read", slog.Any(constant.Error, err))
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}
