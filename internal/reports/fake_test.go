package reports

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
	"github.com/sales-dashboard/sales-dashboard/internal/db/repositories"
)

// fakeStore is an in-memory report store with the same query semantics as ReportRepository
type fakeStore struct {
	mu       sync.Mutex
	reports  []*models.Report
	queries  []repositories.ReportQuery
	counts   int
	queryErr error
	countErr error

	// beforeReturn runs inside QueryReports after the rows are selected
	beforeReturn func()
}

func newFakeStore(reports ...*models.Report) *fakeStore {
	s := &fakeStore{reports: reports}
	sort.Slice(s.reports, func(i, j int) bool { return s.reports[i].ID < s.reports[j].ID })
	return s
}

// seed adds n reports to project with ids r0001.. cycling through codes
func seed(project string, n int, codes ...string) []*models.Report {
	out := make([]*models.Report, 0, n)
	for i := 1; i <= n; i++ {
		code := codes[(i-1)%len(codes)]
		out = append(out, &models.Report{
			ID:        fmt.Sprintf("r%04d", i),
			ProjectID: project,
			SalesCode: code,
			Fields: models.Fields{
				{Key: models.SalesCodeField, Value: models.StringValue(code)},
				{Key: "Seq", Value: models.NumberValue(float64(i))},
			},
		})
	}
	return out
}

func (s *fakeStore) match(q repositories.ReportQuery, r *models.Report) bool {
	if r.ProjectID != q.ProjectID {
		return false
	}
	if !q.AllSalesCodes {
		found := false
		for _, c := range q.SalesCodes {
			if c == r.SalesCode {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.FilterField != "" {
		v, ok := r.Fields.Get(q.FilterField)
		if !ok || v.String() != q.FilterValue {
			return false
		}
	}
	return true
}

func (s *fakeStore) QueryReports(_ context.Context, q repositories.ReportQuery) ([]*models.Report, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	err := s.queryErr
	hook := s.beforeReturn
	var matched []*models.Report
	for _, r := range s.reports {
		if !s.match(q, r) {
			continue
		}
		if q.After != "" && r.ID <= q.After {
			continue
		}
		if q.Before != "" && r.ID >= q.Before {
			continue
		}
		matched = append(matched, r)
	}
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}

	if q.Before != "" && q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[len(matched)-q.Limit:]
	} else if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]*models.Report, len(matched))
	copy(out, matched)
	return out, nil
}

func (s *fakeStore) CountReports(_ context.Context, q repositories.ReportQuery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts++
	if s.countErr != nil {
		return 0, s.countErr
	}
	n := 0
	for _, r := range s.reports {
		if s.match(q, r) {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func (s *fakeStore) lastQuery() repositories.ReportQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[len(s.queries)-1]
}

// fakeDirectory is an in-memory UserDirectory
type fakeDirectory struct {
	users map[string]*models.User
	err   error
}

func newFakeDirectory(users ...*models.User) *fakeDirectory {
	d := &fakeDirectory{users: make(map[string]*models.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *fakeDirectory) GetUserByID(_ context.Context, id string) (*models.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.users[id], nil
}

func (d *fakeDirectory) ListTeamMembers(_ context.Context, supervisorID string) ([]*models.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	var team []*models.User
	for _, u := range d.users {
		if u.SupervisorID != nil && *u.SupervisorID == supervisorID {
			team = append(team, u)
		}
	}
	sort.Slice(team, func(i, j int) bool { return team[i].ID < team[j].ID })
	return team, nil
}

// fakeProjects is an in-memory ProjectLister
type fakeProjects struct {
	projects []*models.Project
}

func (p *fakeProjects) ListProjects(_ context.Context, activeOnly bool) ([]*models.Project, error) {
	out := make([]*models.Project, 0, len(p.projects))
	for _, pr := range p.projects {
		if activeOnly && !pr.IsActive() {
			continue
		}
		out = append(out, pr)
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func salesUser(id, supervisorID string, assignments ...models.ProjectAssignment) *models.User {
	return &models.User{
		ID:           id,
		Name:         id,
		Role:         models.RoleSales,
		Status:       models.UserStatusActive,
		SupervisorID: strPtr(supervisorID),
		Assignments:  assignments,
	}
}
