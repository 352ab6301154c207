package models

import (
	"errors"
	"reflect"
	"testing"
)

func strp(s string) *string { return &s }

// ---------------------------------------------------------------------------
// User.Validate
// ---------------------------------------------------------------------------

func TestUserValidate(t *testing.T) {
	tests := []struct {
		name    string
		user    User
		wantErr error
		anyErr  bool
	}{
		{
			name: "admin without assignments",
			user: User{Role: RoleAdmin, Status: UserStatusActive},
		},
		{
			name: "supervisor without assignments",
			user: User{Role: RoleSupervisor, Status: UserStatusPendingApproval},
		},
		{
			name: "sales with assignment and supervisor",
			user: User{
				Role:         RoleSales,
				Status:       UserStatusActive,
				SupervisorID: strp("sup-1"),
				Assignments:  []ProjectAssignment{{ProjectID: "p1", SalesCode: "S01"}},
			},
		},
		{
			name:    "sales without assignment",
			user:    User{Role: RoleSales, Status: UserStatusActive, SupervisorID: strp("sup-1")},
			wantErr: ErrSalesNeedsAssignment,
		},
		{
			name: "sales without supervisor",
			user: User{
				Role:        RoleSales,
				Status:      UserStatusActive,
				Assignments: []ProjectAssignment{{ProjectID: "p1", SalesCode: "S01"}},
			},
			wantErr: ErrSalesNeedsSupervisor,
		},
		{
			name: "sales with blank sales code",
			user: User{
				Role:         RoleSales,
				Status:       UserStatusActive,
				SupervisorID: strp("sup-1"),
				Assignments:  []ProjectAssignment{{ProjectID: "p1"}},
			},
			anyErr: true,
		},
		{
			name: "supervisor with assignments",
			user: User{
				Role:        RoleSupervisor,
				Status:      UserStatusActive,
				Assignments: []ProjectAssignment{{ProjectID: "p1", SalesCode: "S01"}},
			},
			wantErr: ErrNonSalesAssignment,
		},
		{
			name:    "admin with supervisor",
			user:    User{Role: RoleAdmin, Status: UserStatusActive, SupervisorID: strp("sup-1")},
			wantErr: ErrNonSalesSupervisor,
		},
		{
			name:   "unknown role",
			user:   User{Role: "manager", Status: UserStatusActive},
			anyErr: true,
		},
		{
			name:   "unknown status",
			user:   User{Role: RoleAdmin, Status: "banned"},
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.user.Validate()
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Error("Validate() expected an error")
				}
			default:
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			}
		})
	}
}

// ---------------------------------------------------------------------------
// User.SalesCodes
// ---------------------------------------------------------------------------

func TestUserSalesCodes(t *testing.T) {
	t.Run("assignments then legacy", func(t *testing.T) {
		u := &User{
			Assignments: []ProjectAssignment{
				{ProjectID: "p1", SalesCode: "S02"},
				{ProjectID: "p2", SalesCode: "S01"},
			},
			LegacySalesCode: strp("L9"),
		}
		want := []string{"S02", "S01", "L9"}
		if got := u.SalesCodes(); !reflect.DeepEqual(got, want) {
			t.Errorf("SalesCodes() = %v, want %v", got, want)
		}
	})

	t.Run("duplicates and blanks skipped", func(t *testing.T) {
		u := &User{
			Assignments: []ProjectAssignment{
				{ProjectID: "p1", SalesCode: "S01"},
				{ProjectID: "p2", SalesCode: ""},
				{ProjectID: "p3", SalesCode: "S01"},
			},
			LegacySalesCode: strp("S01"),
		}
		want := []string{"S01"}
		if got := u.SalesCodes(); !reflect.DeepEqual(got, want) {
			t.Errorf("SalesCodes() = %v, want %v", got, want)
		}
	})

	t.Run("no codes", func(t *testing.T) {
		u := &User{LegacySalesCode: strp("")}
		if got := u.SalesCodes(); len(got) != 0 {
			t.Errorf("SalesCodes() = %v, want empty", got)
		}
	})
}

func TestUserIsActive(t *testing.T) {
	if (&User{Status: UserStatusPendingApproval}).IsActive() {
		t.Error("pending user should not be active")
	}
	if !(&User{Status: UserStatusActive}).IsActive() {
		t.Error("active user should be active")
	}
}
