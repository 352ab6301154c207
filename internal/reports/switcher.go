package reports

import (
	"context"
	"fmt"

	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
)

// ProjectLister lists projects for the tab bar
type ProjectLister interface {
	ListProjects(ctx context.Context, activeOnly bool) ([]*models.Project, error)
}

// Tab is one project entry of the tab bar
type Tab struct {
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	Configured bool   `json:"configured"`
	Selected   bool   `json:"selected"`
}

// Switcher hands out per-tab engines. Each (session, project) tab keeps its own cursors, so
// switching tabs never disturbs the position of another tab.
type Switcher struct {
	projects ProjectLister
	users    UserDirectory
	store    Store
	cursors  CursorStore
}

// NewSwitcher creates a switcher
func NewSwitcher(projects ProjectLister, users UserDirectory, store Store, cursors CursorStore) *Switcher {
	return &Switcher{projects: projects, users: users, store: store, cursors: cursors}
}

// Tabs lists the projects user may browse, first one selected. Admins see every project;
// everyone else sees the active projects referenced by an assignment whose sales code is in
// scope (their own for sales staff, their team's for supervisors).
func (s *Switcher) Tabs(ctx context.Context, user *models.User, scope Scope) ([]Tab, error) {
	if user.Role == models.RoleAdmin {
		projects, err := s.projects.ListProjects(ctx, false)
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}
		return buildTabs(projects, nil), nil
	}

	assigned, err := s.assignedProjects(ctx, user, scope)
	if err != nil {
		return nil, err
	}
	if len(assigned) == 0 {
		return []Tab{}, nil
	}

	projects, err := s.projects.ListProjects(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return buildTabs(projects, assigned), nil
}

func (s *Switcher) assignedProjects(ctx context.Context, user *models.User, scope Scope) (map[string]bool, error) {
	holders := []*models.User{user}
	if user.Role == models.RoleSupervisor {
		team, err := s.users.ListTeamMembers(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load team of %s: %w", user.ID, err)
		}
		holders = team
	}

	assigned := make(map[string]bool)
	for _, u := range holders {
		for _, a := range u.Assignments {
			if scope.Contains(a.SalesCode) {
				assigned[a.ProjectID] = true
			}
		}
	}
	return assigned, nil
}

// buildTabs keeps projects in listing order; a nil filter keeps all of them
func buildTabs(projects []*models.Project, filter map[string]bool) []Tab {
	tabs := make([]Tab, 0, len(projects))
	for _, p := range projects {
		if filter != nil && !filter[p.ID] {
			continue
		}
		tabs = append(tabs, Tab{
			ProjectID:  p.ID,
			Name:       p.Name,
			Identifier: p.Identifier(),
			Configured: p.Configured(),
		})
	}
	if len(tabs) > 0 {
		tabs[0].Selected = true
	}
	return tabs
}

// Engine returns the engine of the (session, project) tab filtered by scope
func (s *Switcher) Engine(sessionID string, project *models.Project, scope Scope) *Engine {
	return NewEngine(s.store, s.cursors, TabKey(sessionID, project.ID), project.Identifier(), scope)
}

// Close drops the tab's cursors; fetches still in flight for it become stale
func (s *Switcher) Close(ctx context.Context, sessionID, projectID string) error {
	return s.cursors.Delete(ctx, TabKey(sessionID, projectID))
}

// CloseSession drops every tab of a session
func (s *Switcher) CloseSession(ctx context.Context, sessionID string) error {
	return s.cursors.DeletePrefix(ctx, sessionID+":")
}
