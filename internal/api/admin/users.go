// users.go implements handlers for user account management: CRUD, the registration approval
// queue, and the supervisor team listing.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/sales-dashboard/sales-dashboard/internal/auth"
	"github.com/sales-dashboard/sales-dashboard/internal/config"
	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
	"github.com/sales-dashboard/sales-dashboard/internal/db/repositories"
	"github.com/sales-dashboard/sales-dashboard/internal/middleware"
)

// errSalesCodeTaken is returned by checkSalesCodes when another active user holds a code
var errSalesCodeTaken = errors.New("sales code already assigned")

// UserHandlers handles user management endpoints
type UserHandlers struct {
	cfg         *config.Config
	userRepo    *repositories.UserRepository
	projectRepo *repositories.ProjectRepository
}

// NewUserHandlers creates a new UserHandlers instance
func NewUserHandlers(cfg *config.Config, db *sqlx.DB) *UserHandlers {
	return &UserHandlers{
		cfg:         cfg,
		userRepo:    repositories.NewUserRepository(db),
		projectRepo: repositories.NewProjectRepository(db),
	}
}

// ListUsersHandler lists users with pagination and optional role/status/search filters
// GET /api/v1/users?page=1&per_page=20&role=sales&status=active&search=budi
func (h *UserHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}

		filters := repositories.UserFilters{Search: strings.TrimSpace(c.Query("search"))}
		if r := c.Query("role"); r != "" {
			role := models.Role(r)
			if !role.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role filter"})
				return
			}
			filters.Role = &role
		}
		if s := c.Query("status"); s != "" {
			status := models.UserStatus(s)
			if !status.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
				return
			}
			filters.Status = &status
		}

		users, total, err := h.userRepo.ListUsers(c.Request.Context(), filters, perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list users",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"users": users,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// GetUserHandler retrieves a specific user by ID
// GET /api/v1/users/:id
func (h *UserHandlers) GetUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.userRepo.GetUserByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve user",
			})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "User not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// CreateUserRequest represents the request to create a new user
type CreateUserRequest struct {
	Name            string                     `json:"name" binding:"required"`
	Email           string                     `json:"email" binding:"required,email"`
	Password        string                     `json:"password" binding:"required"`
	Role            models.Role                `json:"role" binding:"required"`
	Status          models.UserStatus          `json:"status"`
	SupervisorID    *string                    `json:"supervisor_id"`
	LegacySalesCode *string                    `json:"legacy_sales_code"`
	Assignments     []models.ProjectAssignment `json:"assignments"`
}

// CreateUserHandler creates a user directly, bypassing the approval queue. Status defaults to
// active.
// POST /api/v1/users
func (h *UserHandlers) CreateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		ctx := c.Request.Context()
		user := &models.User{
			Name:            strings.TrimSpace(req.Name),
			Email:           strings.TrimSpace(req.Email),
			Role:            req.Role,
			Status:          req.Status,
			SupervisorID:    req.SupervisorID,
			LegacySalesCode: req.LegacySalesCode,
			Assignments:     req.Assignments,
		}
		if user.Status == "" {
			user.Status = models.UserStatusActive
		}

		if status, msg := h.validateUser(ctx, user, ""); status != 0 {
			c.JSON(status, gin.H{"error": msg})
			return
		}

		existing, err := h.userRepo.GetUserByEmail(ctx, user.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check existing user",
			})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{
				"error": "User with this email already exists",
			})
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user.PasswordHash = hash

		if err := h.userRepo.CreateUser(ctx, user); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create user",
			})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"user": user})
	}
}

// UpdateUserRequest represents a partial user update. Assignments, when present, replace the
// whole list.
type UpdateUserRequest struct {
	Name            *string                     `json:"name"`
	Email           *string                     `json:"email"`
	Password        *string                     `json:"password"`
	Role            *models.Role                `json:"role"`
	Status          *models.UserStatus          `json:"status"`
	SupervisorID    *string                     `json:"supervisor_id"`
	LegacySalesCode *string                     `json:"legacy_sales_code"`
	Assignments     *[]models.ProjectAssignment `json:"assignments"`
}

// UpdateUserHandler updates a user
// PUT /api/v1/users/:id
func (h *UserHandlers) UpdateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		ctx := c.Request.Context()
		user, err := h.userRepo.GetUserByID(ctx, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}

		if req.Name != nil {
			user.Name = strings.TrimSpace(*req.Name)
		}
		if req.Email != nil && !strings.EqualFold(*req.Email, user.Email) {
			other, err := h.userRepo.GetUserByEmail(ctx, *req.Email)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check existing user"})
				return
			}
			if other != nil {
				c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
				return
			}
			user.Email = strings.TrimSpace(*req.Email)
		}
		if req.Role != nil {
			user.Role = *req.Role
			if user.Role != models.RoleSales {
				// Non-sales roles hold neither assignments nor a supervisor
				user.SupervisorID = nil
				user.Assignments = nil
			}
		}
		if req.Status != nil {
			user.Status = *req.Status
		}
		if req.SupervisorID != nil {
			if *req.SupervisorID == "" {
				user.SupervisorID = nil
			} else {
				user.SupervisorID = req.SupervisorID
			}
		}
		if req.LegacySalesCode != nil {
			if *req.LegacySalesCode == "" {
				user.LegacySalesCode = nil
			} else {
				user.LegacySalesCode = req.LegacySalesCode
			}
		}
		if req.Assignments != nil {
			user.Assignments = *req.Assignments
		}

		if status, msg := h.validateUser(ctx, user, user.ID); status != 0 {
			c.JSON(status, gin.H{"error": msg})
			return
		}

		// Hash before writing anything so a rejected password leaves the profile untouched
		var passwordHash string
		if req.Password != nil {
			passwordHash, err = auth.HashPassword(*req.Password)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		if err := h.userRepo.UpdateUser(ctx, user, passwordHash); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// DeleteUserHandler deletes a user. Admins cannot delete themselves.
// DELETE /api/v1/users/:id
func (h *UserHandlers) DeleteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")
		if userID == c.GetString(middleware.ContextUserID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "You cannot delete your own account"})
			return
		}

		ctx := c.Request.Context()
		user, err := h.userRepo.GetUserByID(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}

		if err := h.userRepo.DeleteUser(ctx, userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
	}
}

// ListPendingUsersHandler lists registrations awaiting approval
// GET /api/v1/users/pending
func (h *UserHandlers) ListPendingUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := h.userRepo.ListPendingUsers(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list pending users"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	}
}

// ApproveUserHandler activates a pending registration. Its sales codes are checked again
// because another account may have claimed one since it registered.
// POST /api/v1/users/:id/approve
func (h *UserHandlers) ApproveUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		user, ok := h.pendingUser(c)
		if !ok {
			return
		}

		if code, err := h.checkSalesCodes(ctx, user, user.ID); err != nil {
			if errors.Is(err, errSalesCodeTaken) {
				c.JSON(http.StatusConflict, gin.H{"error": "Sales code " + code + " is already assigned to another user"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check sales codes"})
			return
		}

		updated, err := h.userRepo.UpdateStatus(ctx, user.ID, models.UserStatusActive)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to approve user"})
			return
		}
		if !updated {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}

		user.Status = models.UserStatusActive
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// RejectUserHandler deletes a pending registration
// POST /api/v1/users/:id/reject
func (h *UserHandlers) RejectUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := h.pendingUser(c)
		if !ok {
			return
		}
		if err := h.userRepo.DeleteUser(c.Request.Context(), user.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reject user"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Registration rejected"})
	}
}

// pendingUser loads the :id user and writes the error response unless it awaits approval
func (h *UserHandlers) pendingUser(c *gin.Context) (*models.User, bool) {
	user, err := h.userRepo.GetUserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
		return nil, false
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return nil, false
	}
	if user.Status != models.UserStatusPendingApproval {
		c.JSON(http.StatusConflict, gin.H{"error": "User is not awaiting approval"})
		return nil, false
	}
	return user, true
}

// ListTeamHandler lists the sales users reporting to a supervisor: the caller for supervisors,
// or ?supervisor_id= for admins.
// GET /api/v1/team
func (h *UserHandlers) ListTeamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		supervisorID := c.GetString(middleware.ContextUserID)
		if c.GetString(middleware.ContextRole) == string(models.RoleAdmin) {
			if id := c.Query("supervisor_id"); id != "" {
				supervisorID = id
			}
		}

		team, err := h.userRepo.ListTeamMembers(c.Request.Context(), supervisorID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list team"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"supervisor_id": supervisorID, "members": team})
	}
}

// validateUser checks the role-dependent shape, the supervisor reference, assigned projects
// and sales-code uniqueness. It returns a non-zero HTTP status with a message on failure.
func (h *UserHandlers) validateUser(ctx context.Context, user *models.User, excludeID string) (int, string) {
	if user.Name == "" {
		return http.StatusBadRequest, "Name is required"
	}
	if err := user.Validate(); err != nil {
		return http.StatusBadRequest, err.Error()
	}

	if user.SupervisorID != nil {
		supervisor, err := h.userRepo.GetUserByID(ctx, *user.SupervisorID)
		if err != nil {
			return http.StatusInternalServerError, "Failed to load supervisor"
		}
		if supervisor == nil || supervisor.Role != models.RoleSupervisor {
			return http.StatusBadRequest, "supervisor_id must reference a supervisor"
		}
	}

	for _, a := range user.Assignments {
		project, err := h.projectRepo.GetProject(ctx, a.ProjectID)
		if err != nil {
			return http.StatusInternalServerError, "Failed to load project"
		}
		if project == nil {
			return http.StatusBadRequest, "Unknown project " + a.ProjectID
		}
	}

	code, err := h.checkSalesCodes(ctx, user, excludeID)
	if errors.Is(err, errSalesCodeTaken) {
		return http.StatusConflict, "Sales code " + code + " is already assigned to another user"
	}
	if err != nil {
		return http.StatusInternalServerError, "Failed to check sales codes"
	}
	return 0, ""
}

// checkSalesCodes returns the first code of user held by another active user, or repeated
// within user's own assignments.
func (h *UserHandlers) checkSalesCodes(ctx context.Context, user *models.User, excludeID string) (string, error) {
	seen := make(map[string]bool, len(user.Assignments))
	for _, a := range user.Assignments {
		if seen[a.SalesCode] {
			return a.SalesCode, errSalesCodeTaken
		}
		seen[a.SalesCode] = true
	}

	for _, code := range user.SalesCodes() {
		taken, err := h.userRepo.SalesCodeInUse(ctx, code, excludeID)
		if err != nil {
			return "", err
		}
		if taken {
			return code, errSalesCodeTaken
		}
	}
	return "", nil
}
