package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/justinchat/justinchat/internal/application/constant"
	"github.com/justinchat/justinchat/internal/application/metric"
	"github.com/justinchat/justinchat/internal/domain/models"
	"github.com/justinchat/justinchat/internal/infra/adapters/memory"
	"github.com/justinchat/justinchat/internal/infra/adapters/postgres/repository"
	"github.com/justinchat/justinchat/internal/signaling"
)

// RelayUsecase fans signaling payloads out to calling-room members. It
// never interprets negotiation content: webrtc_call and
// change_call_setting payloads reach the other members byte for byte. Its
// only reads are the event type and callingId, for call bookkeeping.
type RelayUsecase interface {
	HandleJoinRoom(ctx context.Context, userID uuid.UUID, ev signaling.JoinRoomEvent) error
	HandleCall(ctx context.Context, userID uuid.UUID, data json.RawMessage) error
	HandleSetting(ctx context.Context, userID uuid.UUID, data json.RawMessage) error

	// HandleDisconnect synthesizes a bye to the room when a member's
	// websocket drops without one, so the peer does not ring forever.
	HandleDisconnect(ctx context.Context, userID uuid.UUID)
}

type relayUsecase struct {
	roomRepo    memory.RoomRepository
	wsRepo      memory.WebsocketConnectionRepository
	callRepo    repository.CallRepository
	defaultRoom string
}

func NewRelayUsecase(
	roomRepo memory.RoomRepository,
	wsRepo memory.WebsocketConnectionRepository,
	callRepo repository.CallRepository,
	defaultRoom string,
) RelayUsecase {
	return &relayUsecase{
		roomRepo:    roomRepo,
		wsRepo:      wsRepo,
		callRepo:    callRepo,
		defaultRoom: defaultRoom,
	}
}

func (uc *relayUsecase) HandleJoinRoom(_ context.Context, userID uuid.UUID, ev signaling.JoinRoomEvent) error {
	roomID := ev.RoomID
	if roomID == "" {
		roomID = uc.defaultRoom
	}
	if roomID == "" {
		return fmt.Errorf("join_room with empty roomId")
	}

	previous := uc.roomRepo.Join(roomID, userID)
	if previous != "" {
		slog.Info("user switched calling room",
			slog.Any(constant.UserID, userID),
			slog.String(constant.CallingID, roomID),
		)
	}

	return nil
}

func (uc *relayUsecase) HandleCall(ctx context.Context, userID uuid.UUID, data json.RawMessage) error {
	var ev signaling.CallEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("unmarshal webrtc_call: %w", err)
	}

	roomID, ok := uc.roomRepo.RoomOf(userID)
	if !ok {
		return fmt.Errorf("webrtc_call from user outside any room")
	}

	uc.fanOut(roomID, userID, signaling.Message{Type: signaling.MessageCall, Data: data})
	metric.IncrementRelayedEvents(ev.Type)

	uc.bookkeep(ctx, roomID, ev)

	return nil
}

func (uc *relayUsecase) HandleSetting(_ context.Context, userID uuid.UUID, data json.RawMessage) error {
	roomID, ok := uc.roomRepo.RoomOf(userID)
	if !ok {
		return fmt.Errorf("change_call_setting from user outside any room")
	}

	uc.fanOut(roomID, userID, signaling.Message{Type: signaling.MessageSetting, Data: data})
	metric.IncrementRelayedEvents(signaling.MessageSetting)

	return nil
}

func (uc *relayUsecase) HandleDisconnect(ctx context.Context, userID uuid.UUID) {
	roomID, ok := uc.roomRepo.Leave(userID)
	if !ok {
		return
	}

	ev := signaling.CallEvent{Type: signaling.CallBye, CallingID: roomID}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal synthesized bye", slog.Any(constant.Error, err))
		return
	}

	uc.fanOut(roomID, userID, signaling.Message{Type: signaling.MessageCall, Data: data})
	metric.IncrementRelayedEvents(signaling.CallBye)

	uc.bookkeep(ctx, roomID, ev)
}

// fanOut writes the envelope to every room member except the sender.
func (uc *relayUsecase) fanOut(roomID string, sender uuid.UUID, msg signaling.Message) {
	for _, member := range uc.roomRepo.Members(roomID, sender) {
		uc.wsRepo.Write(member, msg)
	}
}

// bookkeep maintains call history off the relayed stream: a call_request
// opens a row, a bye closes the room's open rows. Failures degrade history
// only, never the relay.
func (uc *relayUsecase) bookkeep(ctx context.Context, roomID string, ev signaling.CallEvent) {
	switch ev.Type {
	case signaling.CallRequest:
		if ev.CallersInfo == nil {
			return
		}

		callerID, err := uuid.Parse(ev.CallersInfo.Caller.ID)
		if err != nil {
			return
		}
		calleeID, err := uuid.Parse(ev.CallersInfo.Callee.ID)
		if err != nil {
			return
		}

		callingID := roomID
		if ev.NewCallingID != "" {
			callingID = ev.NewCallingID
		}

		call := &models.Call{
			ID:        uuid.New(),
			CallingID: callingID,
			CallerID:  callerID,
			CalleeID:  calleeID,
			StartedAt: time.Now(),
		}
		if err := uc.callRepo.CreateCall(ctx, call); err != nil {
			slog.Error("record call start",
				slog.Any(constant.Error, err),
				slog.String(constant.CallingID, callingID),
			)
			return
		}
		metric.IncrementActiveCalls()

	case signaling.CallBye:
		closed, err := uc.callRepo.EndCall(ctx, roomID)
		if err != nil {
			slog.Error("record call end",
				slog.Any(constant.Error, err),
				slog.String(constant.CallingID, roomID),
			)
			return
		}
		if closed > 0 {
			metric.DecrementActiveCalls()
		}
	}
}
