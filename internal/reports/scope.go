package reports

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
	"github.com/sales-dashboard/sales-dashboard/internal/db/repositories"
)

// Scope is the set of sales codes whose reports a viewer may see. A universal scope applies
// no sales-code predicate at all.
type Scope struct {
	Universal  bool     `json:"universal"`
	SalesCodes []string `json:"sales_codes"`
}

// UniversalScope returns the administrator scope
func UniversalScope() Scope {
	return Scope{Universal: true, SalesCodes: []string{}}
}

// NewScope builds a restricted scope. Codes are trimmed, de-duplicated and sorted; blanks are
// dropped.
func NewScope(codes ...string) Scope {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return Scope{SalesCodes: out}
}

// Empty reports whether a restricted scope matches nothing
func (s Scope) Empty() bool {
	return !s.Universal && len(s.SalesCodes) == 0
}

// Contains reports whether reports under code are visible in this scope
func (s Scope) Contains(code string) bool {
	if s.Universal {
		return true
	}
	i := sort.SearchStrings(s.SalesCodes, code)
	return i < len(s.SalesCodes) && s.SalesCodes[i] == code
}

// Covers reports whether every report visible in other is visible in s
func (s Scope) Covers(other Scope) bool {
	if s.Universal {
		return true
	}
	if other.Universal {
		return false
	}
	for _, c := range other.SalesCodes {
		if !s.Contains(c) {
			return false
		}
	}
	return true
}

// Fingerprint identifies the scope for cursor state bookkeeping
func (s Scope) Fingerprint() string {
	if s.Universal {
		return "*"
	}
	h := sha256.New()
	for _, c := range s.SalesCodes {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// apply adds the sales-code predicate to q
func (s Scope) apply(q *repositories.ReportQuery) {
	q.AllSalesCodes = s.Universal
	q.SalesCodes = s.SalesCodes
}

// UserDirectory is the profile lookup the resolver needs
type UserDirectory interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	ListTeamMembers(ctx context.Context, supervisorID string) ([]*models.User, error)
}

// ScopeResolver turns an authenticated profile into its visibility scope
type ScopeResolver struct {
	users UserDirectory
}

// NewScopeResolver creates a resolver backed by users
func NewScopeResolver(users UserDirectory) *ScopeResolver {
	return &ScopeResolver{users: users}
}

// Resolve returns the scope of user: universal for admins, the team's codes for supervisors
// and the user's own codes for sales staff.
func (r *ScopeResolver) Resolve(ctx context.Context, user *models.User) (Scope, error) {
	switch user.Role {
	case models.RoleAdmin:
		return UniversalScope(), nil
	case models.RoleSupervisor:
		team, err := r.users.ListTeamMembers(ctx, user.ID)
		if err != nil {
			return Scope{}, fmt.Errorf("failed to load team of %s: %w", user.ID, err)
		}
		var codes []string
		for _, member := range team {
			codes = append(codes, member.SalesCodes()...)
		}
		return NewScope(codes...), nil
	case models.RoleSales:
		return NewScope(user.SalesCodes()...), nil
	}
	return Scope{}, fmt.Errorf("unknown role %q", user.Role)
}

// ResolveMember narrows the viewer's scope to one team member. Admins may pick any sales user,
// supervisors only their own team, and sales staff only themselves.
func (r *ScopeResolver) ResolveMember(ctx context.Context, viewer *models.User, memberID string) (Scope, *models.User, error) {
	if viewer.Role == models.RoleSales {
		if memberID != viewer.ID {
			return Scope{}, nil, ErrNotInTeam
		}
		return NewScope(viewer.SalesCodes()...), viewer, nil
	}

	member, err := r.users.GetUserByID(ctx, memberID)
	if err != nil {
		return Scope{}, nil, fmt.Errorf("failed to load member %s: %w", memberID, err)
	}
	if member == nil || member.Role != models.RoleSales {
		return Scope{}, nil, ErrNotInTeam
	}
	if viewer.Role == models.RoleSupervisor &&
		(member.SupervisorID == nil || *member.SupervisorID != viewer.ID) {
		return Scope{}, nil, ErrNotInTeam
	}
	return NewScope(member.SalesCodes()...), member, nil
}
