// Package repositories implements the data access layer for the sales dashboard.
// Each repository type encapsulates all database queries for a domain entity; handlers and the
// reports engine never issue SQL directly.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
)

// UserRepository handles user and project assignment database operations
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UserFilters narrows ListUsers
type UserFilters struct {
	Role   *models.Role
	Status *models.UserStatus
	Search string // matched against name and email
}

const userColumns = `id, name, email, password_hash, role, status, supervisor_id, legacy_sales_code, created_at, updated_at`

// CreateUser inserts the user and its project assignments in one transaction
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := tx.ExecContext(ctx, query,
		user.ID,
		user.Name,
		strings.ToLower(user.Email),
		user.PasswordHash,
		user.Role,
		user.Status,
		user.SupervisorID,
		user.LegacySalesCode,
		user.CreatedAt,
		user.UpdatedAt,
	); err != nil {
		return err
	}

	if err := insertAssignments(ctx, tx, user.ID, user.Assignments); err != nil {
		return err
	}

	return tx.Commit()
}

// GetUserByID retrieves a user with its assignments; returns nil when not found
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

// GetUserByEmail retrieves a user by email (case-insensitive); returns nil when not found
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email))
}

func (r *UserRepository) getUser(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	user := &models.User{}
	err := r.db.GetContext(ctx, user, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := r.loadAssignments(ctx, []*models.User{user}); err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers returns a page of users matching filters and the total match count
func (r *UserRepository) ListUsers(ctx context.Context, filters UserFilters, limit, offset int) ([]*models.User, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)

	if filters.Role != nil {
		args = append(args, *filters.Role)
		where += fmt.Sprintf(` AND role = $%d`, len(args))
	}
	if filters.Status != nil {
		args = append(args, *filters.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		where += fmt.Sprintf(` AND (name ILIKE $%d OR email ILIKE $%d)`, len(args), len(args))
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userColumns + ` FROM users` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	users := make([]*models.User, 0)
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, err
	}
	if err := r.loadAssignments(ctx, users); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// ListPendingUsers returns registrations awaiting approval, oldest first
func (r *UserRepository) ListPendingUsers(ctx context.Context) ([]*models.User, error) {
	users := make([]*models.User, 0)
	query := `SELECT ` + userColumns + ` FROM users WHERE status = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &users, query, models.UserStatusPendingApproval); err != nil {
		return nil, err
	}
	if err := r.loadAssignments(ctx, users); err != nil {
		return nil, err
	}
	return users, nil
}

// ListTeamMembers returns every user whose supervisor reference is supervisorID
func (r *UserRepository) ListTeamMembers(ctx context.Context, supervisorID string) ([]*models.User, error) {
	users := make([]*models.User, 0)
	query := `SELECT ` + userColumns + ` FROM users WHERE supervisor_id = $1 ORDER BY name`
	if err := r.db.SelectContext(ctx, &users, query, supervisorID); err != nil {
		return nil, err
	}
	if err := r.loadAssignments(ctx, users); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUser rewrites the profile and replaces the assignment list. A non-empty passwordHash
// is stored in the same transaction.
func (r *UserRepository) UpdateUser(ctx context.Context, user *models.User, passwordHash string) error {
	user.UpdatedAt = time.Now()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
		UPDATE users
		SET name = $2, email = $3, role = $4, status = $5, supervisor_id = $6,
		    legacy_sales_code = $7, updated_at = $8
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query,
		user.ID,
		user.Name,
		strings.ToLower(user.Email),
		user.Role,
		user.Status,
		user.SupervisorID,
		user.LegacySalesCode,
		user.UpdatedAt,
	); err != nil {
		return err
	}

	if passwordHash != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET password_hash = $2 WHERE id = $1`,
			user.ID, passwordHash); err != nil {
			return err
		}
		user.PasswordHash = passwordHash
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_project_assignments WHERE user_id = $1`, user.ID); err != nil {
		return err
	}
	if err := insertAssignments(ctx, tx, user.ID, user.Assignments); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateStatus moves a user through its lifecycle; returns false when no row matched
func (r *UserRepository) UpdateStatus(ctx context.Context, userID string, status models.UserStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET status = $2, updated_at = $3 WHERE id = $1`,
		userID, status, time.Now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteUser deletes a user; assignments cascade
func (r *UserRepository) DeleteUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	return err
}

// SalesCodeInUse reports whether an active user other than excludeUserID already holds code,
// either through an assignment or as a legacy code.
func (r *UserRepository) SalesCodeInUse(ctx context.Context, code, excludeUserID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM user_project_assignments a
			JOIN users u ON u.id = a.user_id
			WHERE a.sales_code = $1 AND u.status = 'active' AND u.id::text <> $2
			UNION ALL
			SELECT 1 FROM users
			WHERE legacy_sales_code = $1 AND status = 'active' AND id::text <> $2
		)
	`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, code, excludeUserID); err != nil {
		return false, err
	}
	return exists, nil
}

// CountUsers returns user totals grouped by role for the admin overview
func (r *UserRepository) CountUsers(ctx context.Context) (map[models.Role]int, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.Role]int)
	for rows.Next() {
		var role models.Role
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		counts[role] = n
	}
	return counts, rows.Err()
}

func insertAssignments(ctx context.Context, tx *sqlx.Tx, userID string, assignments []models.ProjectAssignment) error {
	for i, a := range assignments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_project_assignments (user_id, project_id, sales_code, position) VALUES ($1, $2, $3, $4)`,
			userID, a.ProjectID, a.SalesCode, i,
		); err != nil {
			return err
		}
	}
	return nil
}

// loadAssignments fills Assignments for every user with one query
func (r *UserRepository) loadAssignments(ctx context.Context, users []*models.User) error {
	if len(users) == 0 {
		return nil
	}

	ids := make([]string, len(users))
	byID := make(map[string]*models.User, len(users))
	for i, u := range users {
		ids[i] = u.ID
		byID[u.ID] = u
		u.Assignments = make([]models.ProjectAssignment, 0)
	}

	rows, err := r.db.QueryxContext(ctx, `
		SELECT user_id, project_id, sales_code
		FROM user_project_assignments
		WHERE user_id::text = ANY($1)
		ORDER BY user_id, position
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		var a models.ProjectAssignment
		if err := rows.Scan(&userID, &a.ProjectID, &a.SalesCode); err != nil {
			return err
		}
		if u, ok := byID[userID]; ok {
			u.Assignments = append(u.Assignments, a)
		}
	}
	return rows.Err()
}
