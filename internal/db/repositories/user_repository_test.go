package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
)

var errDB = errors.New("db error")

var userCols = []string{
	"id", "name", "email", "password_hash", "role", "status",
	"supervisor_id", "legacy_sales_code", "created_at", "updated_at",
}

var assignmentCols = []string{"user_id", "project_id", "sales_code"}

func sampleUserRow() *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow("user-1", "Alice", "alice@example.com", "$2a$hash", "sales", "active",
			"sup-1", "L01", time.Now(), time.Now())
}

func emptyUserRow() *sqlmock.Rows {
	return sqlmock.NewRows(userCols)
}

func newUserRepo(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewUserRepository(sqlx.NewDb(db, "sqlmock")), mock
}

// ---------------------------------------------------------------------------
// GetUserByID
// ---------------------------------------------------------------------------

func TestGetUserByID_Found(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE id").
		WithArgs("user-1").
		WillReturnRows(sampleUserRow())
	mock.ExpectQuery("SELECT user_id, project_id, sales_code.*FROM user_project_assignments").
		WillReturnRows(sqlmock.NewRows(assignmentCols).
			AddRow("user-1", "proj-1", "S01").
			AddRow("user-1", "proj-2", "S02"))

	user, err := repo.GetUserByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.ID != "user-1" || user.Role != models.RoleSales {
		t.Errorf("user = %+v", user)
	}
	if user.SupervisorID == nil || *user.SupervisorID != "sup-1" {
		t.Errorf("SupervisorID = %v, want sup-1", user.SupervisorID)
	}
	if len(user.Assignments) != 2 || user.Assignments[1].SalesCode != "S02" {
		t.Errorf("Assignments = %+v", user.Assignments)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetUserByID_NotFound(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE id").
		WithArgs("missing").
		WillReturnRows(emptyUserRow())

	user, err := repo.GetUserByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user for not found, got %v", user)
	}
}

func TestGetUserByID_DBError(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE id").
		WithArgs("user-1").
		WillReturnError(errDB)

	if _, err := repo.GetUserByID(context.Background(), "user-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestGetUserByID_AssignmentError(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE id").
		WillReturnRows(sampleUserRow())
	mock.ExpectQuery("FROM user_project_assignments").
		WillReturnError(errDB)

	if _, err := repo.GetUserByID(context.Background(), "user-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetUserByEmail
// ---------------------------------------------------------------------------

func TestGetUserByEmail_LowercasesInput(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE email").
		WithArgs("alice@example.com").
		WillReturnRows(sampleUserRow())
	mock.ExpectQuery("FROM user_project_assignments").
		WillReturnRows(sqlmock.NewRows(assignmentCols))

	user, err := repo.GetUserByEmail(context.Background(), "Alice@Example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.Assignments == nil || len(user.Assignments) != 0 {
		t.Errorf("Assignments = %v, want empty slice", user.Assignments)
	}
}

func TestGetUserByEmail_NotFound(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE email").
		WithArgs("nobody@example.com").
		WillReturnRows(emptyUserRow())

	user, err := repo.GetUserByEmail(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user, got %v", user)
	}
}

// ---------------------------------------------------------------------------
// CreateUser
// ---------------------------------------------------------------------------

func TestCreateUser_WithAssignments(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO user_project_assignments").
		WithArgs(sqlmock.AnyArg(), "proj-1", "S01", 0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO user_project_assignments").
		WithArgs(sqlmock.AnyArg(), "proj-2", "S02", 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	user := &models.User{
		Email:        "bob@example.com",
		Name:         "Bob",
		Role:         models.RoleSales,
		Status:       models.UserStatusPendingApproval,
		SupervisorID: strPtr("sup-1"),
		Assignments: []models.ProjectAssignment{
			{ProjectID: "proj-1", SalesCode: "S01"},
			{ProjectID: "proj-2", SalesCode: "S02"},
		},
	}
	if err := repo.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID == "" {
		t.Error("expected ID to be set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateUser_DBError(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(errDB)
	mock.ExpectRollback()

	user := &models.User{Email: "bob@example.com", Name: "Bob"}
	if err := repo.CreateUser(context.Background(), user); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// UpdateUser
// ---------------------------------------------------------------------------

func TestUpdateUser_ReplacesAssignments(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM user_project_assignments").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO user_project_assignments").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	user := &models.User{
		ID:          "user-1",
		Email:       "alice@example.com",
		Name:        "Alice Updated",
		Role:        models.RoleSales,
		Status:      models.UserStatusActive,
		Assignments: []models.ProjectAssignment{{ProjectID: "proj-1", SalesCode: "S09"}},
	}
	if err := repo.UpdateUser(context.Background(), user, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateUser_DBError(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users").
		WillReturnError(errDB)
	mock.ExpectRollback()

	if err := repo.UpdateUser(context.Background(), &models.User{ID: "user-1"}, ""); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Status / delete
// ---------------------------------------------------------------------------

func TestUpdateStatus(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectExec("UPDATE users SET status").
		WithArgs("user-1", models.UserStatusActive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET status").
		WithArgs("missing", models.UserStatusActive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateStatus(context.Background(), "user-1", models.UserStatusActive)
	if err != nil || !ok {
		t.Errorf("UpdateStatus(user-1) = %v, %v", ok, err)
	}
	ok, err = repo.UpdateStatus(context.Background(), "missing", models.UserStatusActive)
	if err != nil || ok {
		t.Errorf("UpdateStatus(missing) = %v, %v", ok, err)
	}
}

func TestDeleteUser(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectExec("DELETE FROM users WHERE id").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DeleteUser(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateUser_WithPasswordHash(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET password_hash").
		WithArgs("user-1", "$2a$new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM user_project_assignments").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	user := &models.User{ID: "user-1", Email: "alice@example.com", Name: "Alice", Role: models.RoleSupervisor}
	if err := repo.UpdateUser(context.Background(), user, "$2a$new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.PasswordHash != "$2a$new" {
		t.Errorf("PasswordHash = %q", user.PasswordHash)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateUser_PasswordFailureRollsBack(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET password_hash").
		WillReturnError(errDB)
	mock.ExpectRollback()

	if err := repo.UpdateUser(context.Background(), &models.User{ID: "user-1"}, "$2a$new"); err == nil {
		t.Error("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Listing
// ---------------------------------------------------------------------------

func TestListUsers_WithFilters(t *testing.T) {
	repo, mock := newUserRepo(t)
	role := models.RoleSales
	status := models.UserStatusActive

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE 1=1 AND role = \$1 AND status = \$2 AND \(name ILIKE \$3 OR email ILIKE \$3\)`).
		WithArgs(role, status, "%ali%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT id, name.*FROM users WHERE.*LIMIT \$4 OFFSET \$5`).
		WithArgs(role, status, "%ali%", 20, 0).
		WillReturnRows(sampleUserRow())
	mock.ExpectQuery("FROM user_project_assignments").
		WillReturnRows(sqlmock.NewRows(assignmentCols).AddRow("user-1", "proj-1", "S01"))

	users, total, err := repo.ListUsers(context.Background(), UserFilters{Role: &role, Status: &status, Search: "ali"}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(users) != 1 {
		t.Fatalf("total = %d, len = %d", total, len(users))
	}
	if len(users[0].Assignments) != 1 {
		t.Errorf("Assignments = %v", users[0].Assignments)
	}
}

func TestListUsers_CountError(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errDB)

	if _, _, err := repo.ListUsers(context.Background(), UserFilters{}, 20, 0); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestListTeamMembers(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE supervisor_id").
		WithArgs("sup-1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "Budi", "budi@example.com", "h", "sales", "active", "sup-1", nil, time.Now(), time.Now()).
			AddRow("u2", "Sari", "sari@example.com", "h", "sales", "active", "sup-1", "L7", time.Now(), time.Now()))
	mock.ExpectQuery("FROM user_project_assignments").
		WillReturnRows(sqlmock.NewRows(assignmentCols).
			AddRow("u1", "proj-1", "S01").
			AddRow("u2", "proj-1", "S02"))

	members, err := repo.ListTeamMembers(context.Background(), "sup-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("len = %d, want 2", len(members))
	}
	got := members[1].SalesCodes()
	if len(got) != 2 || got[0] != "S02" || got[1] != "L7" {
		t.Errorf("SalesCodes() = %v", got)
	}
}

func TestListTeamMembers_Empty(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE supervisor_id").
		WillReturnRows(emptyUserRow())

	members, err := repo.ListTeamMembers(context.Background(), "sup-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("len = %d, want 0", len(members))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListPendingUsers(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE status").
		WithArgs(models.UserStatusPendingApproval).
		WillReturnRows(emptyUserRow())

	users, err := repo.ListPendingUsers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("len = %d, want 0", len(users))
	}
}

// ---------------------------------------------------------------------------
// SalesCodeInUse / CountUsers
// ---------------------------------------------------------------------------

func TestSalesCodeInUse(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("S01", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	inUse, err := repo.SalesCodeInUse(context.Background(), "S01", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inUse {
		t.Error("expected code to be in use")
	}
}

func TestSalesCodeInUse_DBError(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT EXISTS").WillReturnError(errDB)

	if _, err := repo.SalesCodeInUse(context.Background(), "S01", ""); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestCountUsers(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT role, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"role", "count"}).
			AddRow("admin", 1).
			AddRow("sales", 12))

	counts, err := repo.CountUsers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[models.RoleSales] != 12 || counts[models.RoleAdmin] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
