package dto

import (
	"time"

	"github.com/google/uuid"
)

type InviteRequest struct {
	CalleeUsername string `json:"calleeUsername"`
}

type InviteResponse struct {
	Token string `json:"token"`
}

type CallHistoryEntry struct {
	ID        uuid.UUID  `json:"id"`
	CallingID string     `json:"callingId"`
	CallerID  uuid.UUID  `json:"callerId"`
	CalleeID  uuid.UUID  `json:"calleeId"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}
