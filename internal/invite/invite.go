// Package invite implements the call-invitation token: a short-lived signed
// token that admits its bearer to one call session. A token carries exactly
// one of two claim forms: a fresh caller/callee pair (the endpoint mints a
// new callingId) or a callersInfo+callingId pair for joining a call that is
// already ringing.
package invite

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/justinchat/justinchat/internal/domain"
)

var (
	ErrNoToken        = errors.New("invitation token missing")
	ErrMalformedToken = errors.New("invitation token malformed")
	ErrExpiredToken   = errors.New("invitation token expired")
)

type Claims struct {
	jwt.RegisteredClaims

	// Fresh form.
	Caller *domain.Participant `json:"caller,omitempty"`
	Callee *domain.Participant `json:"callee,omitempty"`

	// Join form.
	CallersInfo *domain.CallersInfo `json:"callersInfo,omitempty"`
	CallingID   string              `json:"callingId,omitempty"`
}

// Invitation is the decoded result. CallingID is empty for the fresh form;
// the endpoint mints one in that case.
type Invitation struct {
	CallersInfo domain.CallersInfo
	CallingID   string
}

// Fresh reports whether the endpoint must mint a new callingId.
func (inv Invitation) Fresh() bool {
	return inv.CallingID == ""
}

// IssueFresh signs a token inviting callee into a not-yet-existing call.
func IssueFresh(secret []byte, caller, callee domain.Participant, ttl time.Duration) (string, error) {
	return sign(secret, Claims{
		RegisteredClaims: registered(ttl),
		Caller:           &caller,
		Callee:           &callee,
	})
}

// IssueJoin signs a token admitting its bearer to an already-ringing call.
func IssueJoin(secret []byte, info domain.CallersInfo, callingID string, ttl time.Duration) (string, error) {
	if callingID == "" {
		return "", fmt.Errorf("join invitation requires a callingId")
	}

	return sign(secret, Claims{
		RegisteredClaims: registered(ttl),
		CallersInfo:      &info,
		CallingID:        callingID,
	})
}

// Parse verifies the token and normalizes its claims into an Invitation.
// Tokens carrying both claim forms, or neither, are rejected as malformed.
func Parse(secret []byte, token string) (Invitation, error) {
	if token == "" {
		return Invitation{}, ErrNoToken
	}

	var claims Claims

	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Invitation{}, ErrExpiredToken
		}
		return Invitation{}, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	fresh := claims.Caller != nil && claims.Callee != nil
	join := claims.CallersInfo != nil && claims.CallingID != ""

	switch {
	case fresh && !join && claims.CallersInfo == nil && claims.CallingID == "":
		return Invitation{
			CallersInfo: domain.CallersInfo{Caller: *claims.Caller, Callee: *claims.Callee},
		}, nil

	case join && !fresh && claims.Caller == nil && claims.Callee == nil:
		return Invitation{
			CallersInfo: *claims.CallersInfo,
			CallingID:   claims.CallingID,
		}, nil

	default:
		return Invitation{}, fmt.Errorf("%w: claims carry neither or both invitation forms", ErrMalformedToken)
	}
}

func registered(ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()

	return jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func sign(secret []byte, claims Claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign invitation: %w", err)
	}

	return token, nil
}
