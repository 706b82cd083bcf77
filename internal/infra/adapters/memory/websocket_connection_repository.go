package memory

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/justinchat/justinchat/internal/application/constant"
	"github.com/justinchat/justinchat/internal/application/metric"
)

// WebsocketConnectionRepository tracks live websocket connections by user.
type WebsocketConnectionRepository interface {
	Add(uuid.UUID, *websocket.Conn)
	Remove(userID uuid.UUID)

	Write(uuid.UUID, any)
	GetAllConnected() []uuid.UUID
}

// safeWS serializes writes: gorilla allows one concurrent writer per conn.
type safeWS struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type wsConnectionRepository struct {
	// wsConns holds map[user_id]*ws.conn
	wsConns map[uuid.UUID]*safeWS

	mu sync.RWMutex
}

func NewWSConnectionRepository() WebsocketConnectionRepository {
	return &wsConnectionRepository{
		wsConns: make(map[uuid.UUID]*safeWS, 10),
	}
}

func (w *wsConnectionRepository) Add(userID uuid.UUID, conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.wsConns[userID] = &safeWS{conn: conn}

	metric.IncrementWSActiveConnections()
}

func (w *wsConnectionRepository) Remove(userID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.wsConns[userID]; exists {
		delete(w.wsConns, userID)

		metric.DecrementWSActiveConnections()
	}
}

func (w *wsConnectionRepository) Write(userID uuid.UUID, payload any) {
	safews, ok := w.getSafeWS(userID)
	if !ok {
		return
	}

	safews.mu.Lock()
	defer safews.mu.Unlock()

	if err := safews.conn.WriteJSON(payload); err != nil {
		slog.Error(
			"write to websocket",
			slog.Any(constant.Error, err),
			slog.Any(constant.UserID, userID),
		)
	}
}

func (w *wsConnectionRepository) getSafeWS(userID uuid.UUID) (*safeWS, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	conn, ok := w.wsConns[userID]
	return conn, ok
}

func (w *wsConnectionRepository) GetAllConnected() []uuid.UUID {
	w.mu.RLock()
	defer w.mu.RUnlock()

	userIDs := make([]uuid.UUID, 0, len(w.wsConns))

	for userID := range w.wsConns {
		userIDs = append(userIDs, userID)
	}

	return userIDs
}
