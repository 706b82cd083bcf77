package domain

import (
	"math/rand/v2"
	"strconv"
	"time"
)

// Role of a participant within one call session. It is derived, never
// stored: a participant is the callee iff its id matches the callee id of
// the session's CallersInfo.
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCallee {
		return "callee"
	}
	return "caller"
}

// Participant identifies one party of a call.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// CallersInfo is the identity pair describing who may take part in a call
// session. It rides along on signaling messages because the relay is
// stateless.
type CallersInfo struct {
	Caller Participant `json:"caller"`
	Callee Participant `json:"callee"`
}

// Role resolves the local participant's role. Any identity other than the
// callee's, including the caller's own, selects the caller role.
func (ci CallersInfo) Role(localID string) Role {
	if localID == ci.Callee.ID {
		return RoleCallee
	}
	return RoleCaller
}

// MediaSettings are informational flags relayed on the side channel. They
// never touch negotiation state.
type MediaSettings struct {
	VideoOn bool `json:"videoOn"`
	MicOn   bool `json:"micOn"`
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewCallingID mints a room identifier for an ad-hoc call:
// <base36 unix-millis>-<random base36 suffix>.
func NewCallingID() string {
	var suffix [8]byte
	for i := range suffix {
		suffix[i] = base36[rand.IntN(len(base36))]
	}

	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + string(suffix[:])
}
