package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/justinchat/justinchat/internal/domain"
)

// Credential failures are surfaced distinctly so the fatal path can name
// the failure category to the user.
var (
	ErrNoCredential        = errors.New("no session credential")
	ErrMalformedCredential = errors.New("malformed session credential")
	ErrExpiredCredential   = errors.New("expired session credential")
)

// IdentityVerifier confirms the local participant's logged-in session and
// resolves its identity. The setup pipeline delegates to it; the engine
// never inspects credentials itself.
type IdentityVerifier interface {
	Verify(ctx context.Context) (domain.Participant, error)
}

// HTTPIdentity verifies a session JWT against the relay's /api/v1/me
// endpoint. The token is pre-checked locally so malformed and expired
// credentials are distinguished without a round trip.
type HTTPIdentity struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPIdentity(baseURL, token string) *HTTPIdentity {
	return &HTTPIdentity{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPIdentity) Verify(ctx context.Context) (domain.Participant, error) {
	if h.token == "" {
		return domain.Participant{}, ErrNoCredential
	}

	// Unverified parse: the relay checks the signature, this only sorts
	// malformed from expired before spending a round trip.
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(h.token, &claims); err != nil {
		return domain.Participant{}, fmt.Errorf("%w: %w", ErrMalformedCredential, err)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return domain.Participant{}, ErrExpiredCredential
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/api/v1/me", nil)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("build identity request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: "jwt", Value: h.token})

	resp, err := h.client.Do(req)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("verify identity: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.Participant{}, ErrExpiredCredential
	case resp.StatusCode != http.StatusOK:
		return domain.Participant{}, fmt.Errorf("verify identity: unexpected status %d", resp.StatusCode)
	}

	var me domain.Participant
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return domain.Participant{}, fmt.Errorf("decode identity response: %w", err)
	}

	return me, nil
}
