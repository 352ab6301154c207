package admin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sales-dashboard/sales-dashboard/internal/auth/oidc"
)

const oidcStateTTL = 5 * time.Minute

// SSOProvider is the OpenID Connect flow used by the SSO endpoints
type SSOProvider interface {
	AuthURL(state string) string
	Authenticate(ctx context.Context, code string) (*oidc.Identity, error)
}

// WithSSO enables the OIDC login endpoints
func (h *AuthHandlers) WithSSO(p SSOProvider) *AuthHandlers {
	h.sso = p
	return h
}

// stateStore holds pending OIDC login states. A state is accepted once and only within ttl.
type stateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending map[string]time.Time
	now     func() time.Time
}

func newStateStore(ttl time.Duration) *stateStore {
	return &stateStore{ttl: ttl, pending: make(map[string]time.Time), now: time.Now}
}

func (s *stateStore) issue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := base64.RawURLEncoding.EncodeToString(b)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, created := range s.pending {
		if now.Sub(created) > s.ttl {
			delete(s.pending, k)
		}
	}
	s.pending[state] = now
	return state, nil
}

// consume reports whether state was issued and has not expired, and forgets it
func (s *stateStore) consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	created, ok := s.pending[state]
	if !ok {
		return false
	}
	delete(s.pending, state)
	return s.now().Sub(created) <= s.ttl
}

// OIDCLoginHandler redirects the browser to the identity provider
// GET /api/v1/auth/oidc/login
func (h *AuthHandlers) OIDCLoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.sso == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Single sign-on is not configured"})
			return
		}

		state, err := h.states.issue()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate state"})
			return
		}
		c.Redirect(http.StatusFound, h.sso.AuthURL(state))
	}
}

// OIDCCallbackHandler finishes the code flow and signs in the account owning the verified
// email. SSO never creates accounts; registration and approval still go through an admin.
// GET /api/v1/auth/oidc/callback?code=...&state=...
func (h *AuthHandlers) OIDCCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		redirect := h.cfg.Auth.OIDC.PostLoginRedirect

		fail := func(status int, code, description string) {
			if redirect != "" {
				c.Redirect(http.StatusFound, redirect+"?"+url.Values{
					"error":             {code},
					"error_description": {description},
				}.Encode())
				return
			}
			c.JSON(status, gin.H{"error": description})
		}

		if h.sso == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Single sign-on is not configured"})
			return
		}
		if e := c.Query("error"); e != "" {
			fail(http.StatusUnauthorized, "idp_error", "Identity provider returned an error: "+e)
			return
		}
		if !h.states.consume(c.Query("state")) {
			fail(http.StatusBadRequest, "invalid_state", "Invalid or expired login state. Please try again.")
			return
		}

		ctx := c.Request.Context()
		identity, err := h.sso.Authenticate(ctx, c.Query("code"))
		if err != nil {
			slog.Warn("oidc authentication failed", "error", err)
			fail(http.StatusUnauthorized, "authentication_failed", "Could not verify your identity.")
			return
		}

		user, err := h.userRepo.GetUserByEmail(ctx, identity.Email)
		if err != nil {
			fail(http.StatusInternalServerError, "lookup_failed", "Failed to load user")
			return
		}
		if user == nil {
			slog.Info("oidc login for unknown account", "subject", identity.Subject)
			fail(http.StatusForbidden, "no_account", "No dashboard account uses this email")
			return
		}
		if msg := inactiveReason(user); msg != "" {
			fail(http.StatusForbidden, "inactive", msg)
			return
		}

		token, ttl, err := h.issueSession(user)
		if err != nil {
			fail(http.StatusInternalServerError, "token_failed", "Failed to generate token")
			return
		}

		slog.Info("oidc login", "user_id", user.ID, "subject", identity.Subject)
		if redirect != "" {
			// The fragment keeps the token out of server access logs.
			c.Redirect(http.StatusFound, redirect+"#"+url.Values{
				"token":      {token},
				"expires_in": {strconv.Itoa(int(ttl.Seconds()))},
			}.Encode())
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_in": int(ttl.Seconds()),
			"user":       user,
		})
	}
}
