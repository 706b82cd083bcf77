package invite

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/justinchat/justinchat/internal/domain"
)

var secret = []byte("invite-test-secret")

var (
	caller = domain.Participant{ID: "u-1", Username: "alice", Email: "alice@example.com"}
	callee = domain.Participant{ID: "u-2", Username: "bob", Email: "bob@example.com"}
)

func TestFreshRoundTrip(t *testing.T) {
	token, err := IssueFresh(secret, caller, callee, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	inv, err := Parse(secret, token)
	if err != nil {
		t.Fatal(err)
	}

	if !inv.Fresh() {
		t.Fatal("fresh invitation must report Fresh")
	}
	if inv.CallersInfo.Caller.ID != caller.ID || inv.CallersInfo.Callee.ID != callee.ID {
		t.Fatalf("callersInfo = %+v", inv.CallersInfo)
	}
}

func TestJoinRoundTrip(t *testing.T) {
	info := domain.CallersInfo{Caller: caller, Callee: callee}

	token, err := IssueJoin(secret, info, "m3x9k1a0-abcdefgh", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	inv, err := Parse(secret, token)
	if err != nil {
		t.Fatal(err)
	}

	if inv.Fresh() {
		t.Fatal("join invitation must not report Fresh")
	}
	if inv.CallingID != "m3x9k1a0-abcdefgh" {
		t.Fatalf("callingId = %q", inv.CallingID)
	}
	if inv.CallersInfo.Callee.Username != "bob" {
		t.Fatalf("callersInfo = %+v", inv.CallersInfo)
	}
}

func TestJoinRequiresCallingID(t *testing.T) {
	if _, err := IssueJoin(secret, domain.CallersInfo{Caller: caller, Callee: callee}, "", time.Minute); err == nil {
		t.Fatal("join invitation without callingId must be refused")
	}
}

func TestParseRejections(t *testing.T) {
	expired, err := IssueFresh(secret, caller, callee, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	otherKey, err := IssueFresh([]byte("other"), caller, callee, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: ErrNoToken},
		{name: "garbage", token: "not-a-jwt", want: ErrMalformedToken},
		{name: "expired", token: expired, want: ErrExpiredToken},
		{name: "wrong key", token: otherKey, want: ErrMalformedToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(secret, tt.token); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseRejectsMixedForms(t *testing.T) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		Caller:      &caller,
		Callee:      &callee,
		CallersInfo: &domain.CallersInfo{Caller: caller, Callee: callee},
		CallingID:   "m3x9k1a0-abcdefgh",
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Parse(secret, token); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("err = %v, want ErrMalformedToken", err)
	}
}

func TestParseRejectsEmptyClaims(t *testing.T) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Parse(secret, token); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("err = %v, want ErrMalformedToken", err)
	}
}

func TestLocalResolver(t *testing.T) {
	token, err := IssueFresh(secret, caller, callee, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	inv, err := LocalResolver{Secret: secret}.Resolve(t.Context(), token)
	if err != nil {
		t.Fatal(err)
	}
	if !inv.Fresh() {
		t.Fatal("expected fresh invitation")
	}
}
