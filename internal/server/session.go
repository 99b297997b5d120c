package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/identity/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/profile"
	"github.com/alexedwards/scs/v2"
)

const (
	sessionKeyUserID     = "user_id"
	sessionKeyProfile    = "auth_profile"
	sessionKeyFlash      = "auth_errors"
	sessionKeyOAuthState = "oauth_state"
	sessionKeyOAuthType  = "oauth_type"
	oauthStateBytes      = 32
)

// SessionConfig configures the session cookie.
type SessionConfig struct {
	CookieName string
	Lifetime   time.Duration
	Secure     bool
}

// NewSessionManager returns an scs session manager backed by its default in-memory store.
func NewSessionManager(cfg SessionConfig) *scs.SessionManager {
	sessions := scs.New()
	if cfg.CookieName != "" {
		sessions.Cookie.Name = cfg.CookieName
	}
	if cfg.Lifetime > 0 {
		sessions.Lifetime = cfg.Lifetime
	}
	sessions.Cookie.HttpOnly = true
	sessions.Cookie.SameSite = http.SameSiteLaxMode
	sessions.Cookie.Secure = cfg.Secure
	return sessions
}

func (h *httpHandler) loadAccumulator(ctx context.Context) (*profile.Accumulator, error) {
	acc := &profile.Accumulator{}
	data := h.sessions.GetBytes(ctx, sessionKeyProfile)
	if len(data) == 0 {
		return acc, nil
	}
	if err := json.Unmarshal(data, acc); err != nil {
		h.sessions.Remove(ctx, sessionKeyProfile)
		return nil, fmt.Errorf("decode session profile: %w", err)
	}
	return acc, nil
}

// saveAccumulator keeps an in-flight profile in the session and drops a finished one.
func (h *httpHandler) saveAccumulator(ctx context.Context, acc *profile.Accumulator) error {
	switch acc.State() {
	case profile.StatePartial, profile.StateComplete:
		data, err := json.Marshal(acc)
		if err != nil {
			return fmt.Errorf("encode session profile: %w", err)
		}
		h.sessions.Put(ctx, sessionKeyProfile, data)
	default:
		h.sessions.Remove(ctx, sessionKeyProfile)
	}
	return nil
}

func (h *httpHandler) flashErrors(ctx context.Context, entries []auth.FieldError) {
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	h.sessions.Put(ctx, sessionKeyFlash, data)
}

func (h *httpHandler) popFlashedErrors(ctx context.Context) []auth.FieldError {
	entries := []auth.FieldError{}
	data := h.sessions.PopBytes(ctx, sessionKeyFlash)
	if len(data) == 0 {
		return entries
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return []auth.FieldError{}
	}
	return entries
}

func (h *httpHandler) signIn(ctx context.Context, userID string) error {
	if err := h.sessions.RenewToken(ctx); err != nil {
		return err
	}
	h.sessions.Put(ctx, sessionKeyUserID, userID)
	return nil
}

func newOAuthState() (string, error) {
	buffer := make([]byte, oauthStateBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
