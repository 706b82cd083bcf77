package call

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/justinchat/justinchat/internal/domain"
)

func sessionToken(t *testing.T, ttl time.Duration) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   "u-alice",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("session-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestVerifyResolvesIdentity(t *testing.T) {
	want := domain.Participant{ID: "u-alice", Username: "alice", Email: "alice@example.com"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/me" {
			http.NotFound(w, r)
			return
		}
		if _, err := r.Cookie("jwt"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(want)
	}))
	t.Cleanup(srv.Close)

	ident := NewHTTPIdentity(srv.URL, sessionToken(t, time.Hour))

	got, err := ident.Verify(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != want {
		t.Fatalf("participant = %+v, want %+v", got, want)
	}
}

func TestVerifyCredentialErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "missing", token: "", want: ErrNoCredential},
		{name: "malformed", token: "garbage", want: ErrMalformedCredential},
		{name: "locally expired", token: sessionToken(t, -time.Hour), want: ErrExpiredCredential},
		{name: "rejected by relay", token: sessionToken(t, time.Hour), want: ErrExpiredCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ident := NewHTTPIdentity(srv.URL, tt.token)

			if _, err := ident.Verify(context.Background()); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
