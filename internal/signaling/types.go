package signaling

import (
	"encoding/json"

	"github.com/justinchat/justinchat/internal/domain"
)

// Message is the websocket envelope. The relay interprets only Type and the
// callingId routing field of the payload; webrtc_call and
// change_call_setting payloads are forwarded to the room verbatim.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Envelope types.
const (
	MessageJoinRoom = "join_room"
	MessageCall     = "webrtc_call"
	MessageSetting  = "change_call_setting"
	MessageError    = "error"
)

// JoinRoomEvent joins the sender to a calling room.
type JoinRoomEvent struct {
	RoomID string `json:"roomId"`
}

// CallEvent is the webrtc_call payload. Candidate is a pointer so that the
// null end-of-gathering marker survives the wire distinct from absence.
type CallEvent struct {
	Type          string              `json:"type"`
	CallingID     string              `json:"callingId"`
	CallersInfo   *domain.CallersInfo `json:"callersInfo,omitempty"`
	SDP           string              `json:"sdp,omitempty"`
	Candidate     *string             `json:"candidate,omitempty"`
	SDPMid        *string             `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16             `json:"sdpMLineIndex,omitempty"`
	NewCallingID  string              `json:"newCallingId,omitempty"`
}

// CallEvent types.
const (
	CallReady     = "ready"
	CallRequest   = "call_request"
	CallOffer     = "offer"
	CallAnswer    = "answer"
	CallCandidate = "candidate"
	CallBye       = "bye"
)

// SettingEvent mirrors a participant's mute/video flags to the peer.
type SettingEvent struct {
	CallingID string               `json:"callingId"`
	Value     domain.MediaSettings `json:"value"`
}

// ErrorEvent is sent by the relay when a client message cannot be handled.
type ErrorEvent struct {
	Message string `json:"message"`
}
