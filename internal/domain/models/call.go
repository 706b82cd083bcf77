package models

import (
	"time"

	"github.com/google/uuid"
)

// Call is one row of call history. CallingID is the relay room the call
// was scoped to; EndedAt stays NULL until a bye is observed.
type Call struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	CallingID string     `json:"calling_id" db:"calling_id"`
	CallerID  uuid.UUID  `json:"caller_id" db:"caller_id"`
	CalleeID  uuid.UUID  `json:"callee_id" db:"callee_id"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}
