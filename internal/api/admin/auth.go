// auth.go implements HTTP handlers for self-registration, password login, the current-user
// profile, and logout. Single sign-on lives in sso.go.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/sales-dashboard/sales-dashboard/internal/auth"
	"github.com/sales-dashboard/sales-dashboard/internal/config"
	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
	"github.com/sales-dashboard/sales-dashboard/internal/db/repositories"
	"github.com/sales-dashboard/sales-dashboard/internal/middleware"
	"github.com/sales-dashboard/sales-dashboard/internal/reports"
)

// SessionCloser drops the per-tab report cursors of a login session
type SessionCloser interface {
	CloseSession(ctx context.Context, sessionID string) error
}

// AuthHandlers handles authentication-related endpoints
type AuthHandlers struct {
	cfg      *config.Config
	userRepo *repositories.UserRepository
	users    *UserHandlers
	resolver *reports.ScopeResolver
	sessions SessionCloser
	sso      SSOProvider
	states   *stateStore
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(cfg *config.Config, db *sqlx.DB, sessions SessionCloser) *AuthHandlers {
	userRepo := repositories.NewUserRepository(db)
	return &AuthHandlers{
		cfg:      cfg,
		userRepo: userRepo,
		users:    NewUserHandlers(cfg, db),
		resolver: reports.NewScopeResolver(userRepo),
		sessions: sessions,
		states:   newStateStore(oidcStateTTL),
	}
}

func (h *AuthHandlers) sessionTTL() time.Duration {
	if h.cfg.Auth.SessionTTL > 0 {
		return h.cfg.Auth.SessionTTL
	}
	return 24 * time.Hour
}

// RegisterRequest is a self-registration. Only supervisor and sales accounts can register.
type RegisterRequest struct {
	Name         string                     `json:"name" binding:"required"`
	Email        string                     `json:"email" binding:"required,email"`
	Password     string                     `json:"password" binding:"required"`
	Role         models.Role                `json:"role" binding:"required"`
	SupervisorID *string                    `json:"supervisor_id"`
	Assignments  []models.ProjectAssignment `json:"assignments"`
}

// RegisterHandler creates an account awaiting admin approval
// POST /api/v1/auth/register
func (h *AuthHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.cfg.Auth.AllowRegistration {
			c.JSON(http.StatusForbidden, gin.H{"error": "Self-registration is disabled"})
			return
		}

		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
		if req.Role != models.RoleSupervisor && req.Role != models.RoleSales {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Role must be supervisor or sales"})
			return
		}

		ctx := c.Request.Context()
		user := &models.User{
			Name:         strings.TrimSpace(req.Name),
			Email:        strings.TrimSpace(req.Email),
			Role:         req.Role,
			Status:       models.UserStatusPendingApproval,
			SupervisorID: req.SupervisorID,
			Assignments:  req.Assignments,
		}
		if status, msg := h.users.validateUser(ctx, user, ""); status != 0 {
			c.JSON(status, gin.H{"error": msg})
			return
		}

		existing, err := h.userRepo.GetUserByEmail(ctx, user.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check existing user"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user.PasswordHash = hash

		if err := h.userRepo.CreateUser(ctx, user); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
			return
		}

		slog.Info("registration received", "user_id", user.ID, "role", user.Role)
		middleware.AddAuditMetadata(c, "registered_user_id", user.ID)
		c.JSON(http.StatusCreated, gin.H{
			"user":    user,
			"message": "Registration received; an administrator must approve the account",
		})
	}
}

// LoginRequest is an email/password login
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginHandler authenticates with email and password and issues a session token. Every login
// starts a new session, so report tabs start from page 1.
// POST /api/v1/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		user, err := h.userRepo.GetUserByEmail(c.Request.Context(), strings.TrimSpace(req.Email))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}
		if user == nil || !auth.CheckPassword(req.Password, user.PasswordHash) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}

		if msg := inactiveReason(user); msg != "" {
			c.JSON(http.StatusForbidden, gin.H{"error": msg})
			return
		}

		token, ttl, err := h.issueSession(user)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_in": int(ttl.Seconds()),
			"user":       user,
		})
	}
}

// inactiveReason explains why user may not sign in, or returns "" for an active account
func inactiveReason(user *models.User) string {
	switch user.Status {
	case models.UserStatusActive:
		return ""
	case models.UserStatusPendingApproval:
		return "Account is awaiting approval"
	default:
		return "Account is not active"
	}
}

// issueSession signs a token for a new login session
func (h *AuthHandlers) issueSession(user *models.User) (string, time.Duration, error) {
	ttl := h.sessionTTL()
	token, err := auth.GenerateJWT(user.ID, user.Email, string(user.Role), auth.NewSessionID(), ttl)
	if err != nil {
		slog.Error("failed to generate session token", "user_id", user.ID, "error", err)
		return "", 0, err
	}
	return token, ttl, nil
}

// MeHandler returns the current user with its permission scopes and report visibility
// GET /api/v1/auth/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		scope, err := h.resolver.Resolve(c.Request.Context(), user)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve report scope"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user":           user,
			"allowed_scopes": auth.ScopesForRole(user.Role),
			"report_scope": gin.H{
				"universal":   scope.Universal,
				"sales_codes": len(scope.SalesCodes),
			},
		})
	}
}

// LogoutHandler drops the session's report cursors. The token itself stays valid until it
// expires; clients discard it.
// POST /api/v1/auth/logout
func (h *AuthHandlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if sid := middleware.SessionID(c); sid != "" && h.sessions != nil {
			if err := h.sessions.CloseSession(c.Request.Context(), sid); err != nil {
				slog.Warn("failed to drop session cursors", "session_id", sid, "error", err)
			}
		}
		c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
	}
}
