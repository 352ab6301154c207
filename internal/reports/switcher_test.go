package reports

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
)

func switcherFixture() (*Switcher, *fakeDirectory, *fakeStore, *MemoryCursorStore) {
	projects := &fakeProjects{projects: []*models.Project{
		{ID: "p1", Name: "Project Alpha", Status: models.ProjectStatusActive, ReportHeaders: []string{"Seq"}},
		{ID: "p2", Name: "Project Beta", Status: models.ProjectStatusActive},
		{ID: "p3", Name: "Project Gamma", Status: models.ProjectStatusInactive, ReportHeaders: []string{"Seq"}},
		{ID: "p4", Name: "Project Delta", Status: models.ProjectStatusActive},
	}}
	dir, _, _ := teamFixture()
	dir.users["budi"].Assignments = append(dir.users["budi"].Assignments,
		models.ProjectAssignment{ProjectID: "p3", SalesCode: "S04"})

	store := newFakeStore(append(
		seed("project_alpha", 120, "S01", "S03"),
		seed("project_beta", 60, "S02")...)...)
	cursors := NewMemoryCursorStore(0)
	return NewSwitcher(projects, dir, store, cursors), dir, store, cursors
}

func tabIDs(tabs []Tab) []string {
	out := make([]string, len(tabs))
	for i, tab := range tabs {
		out[i] = tab.ProjectID
	}
	return out
}

func TestSwitcher_Tabs(t *testing.T) {
	sw, dir, _, _ := switcherFixture()
	resolver := NewScopeResolver(dir)
	ctx := context.Background()

	t.Run("admin sees every project", func(t *testing.T) {
		admin := &models.User{ID: "root", Role: models.RoleAdmin}
		tabs, err := sw.Tabs(ctx, admin, UniversalScope())
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, tabIDs(tabs))
		assert.True(t, tabs[0].Selected)
		assert.False(t, tabs[1].Selected)
		assert.Equal(t, "project_alpha", tabs[0].Identifier)
		assert.True(t, tabs[0].Configured)
		assert.False(t, tabs[1].Configured)
	})

	t.Run("sales sees active assigned projects", func(t *testing.T) {
		budi := dir.users["budi"]
		scope, err := resolver.Resolve(ctx, budi)
		require.NoError(t, err)
		tabs, err := sw.Tabs(ctx, budi, scope)
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p2"}, tabIDs(tabs))
	})

	t.Run("supervisor sees team projects", func(t *testing.T) {
		sup := dir.users["sup-1"]
		scope, err := resolver.Resolve(ctx, sup)
		require.NoError(t, err)
		tabs, err := sw.Tabs(ctx, sup, scope)
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p2"}, tabIDs(tabs))
	})

	t.Run("member scope narrows supervisor tabs", func(t *testing.T) {
		sup := dir.users["sup-1"]
		tabs, err := sw.Tabs(ctx, sup, NewScope("S03"))
		require.NoError(t, err)
		assert.Equal(t, []string{"p1"}, tabIDs(tabs))
	})

	t.Run("no assignments", func(t *testing.T) {
		user := &models.User{ID: "new", Role: models.RoleSales}
		tabs, err := sw.Tabs(ctx, user, NewScope())
		require.NoError(t, err)
		assert.Empty(t, tabs)
		assert.NotNil(t, tabs)
	})
}

func TestSwitcher_TabsKeepIndependentCursors(t *testing.T) {
	sw, _, _, cursors := switcherFixture()
	ctx := context.Background()
	alpha := &models.Project{ID: "p1", Name: "Project Alpha"}
	beta := &models.Project{ID: "p2", Name: "Project Beta"}

	a := sw.Engine("sess", alpha, UniversalScope())
	_, err := a.Fetch(ctx, DirectionFirst, nil)
	require.NoError(t, err)
	_, err = a.Fetch(ctx, DirectionNext, nil)
	require.NoError(t, err)

	b := sw.Engine("sess", beta, UniversalScope())
	page, err := b.Fetch(ctx, DirectionFirst, nil)
	require.NoError(t, err)
	assert.Len(t, page.Records, PageSize)
	for _, r := range page.Records {
		assert.Equal(t, "project_beta", r.ProjectID)
	}

	// returning to alpha resumes where it was left
	a = sw.Engine("sess", alpha, UniversalScope())
	page, err = a.Fetch(ctx, DirectionNext, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, page.PageNumber)
	assert.Len(t, page.Records, 20)

	// another session starts fresh
	other := sw.Engine("sess-2", alpha, UniversalScope())
	page, err = other.Fetch(ctx, DirectionNext, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, page.PageNumber)
	assert.True(t, page.Reset)

	assert.Equal(t, 3, cursors.Len())
}

func TestSwitcher_Close(t *testing.T) {
	sw, _, _, cursors := switcherFixture()
	ctx := context.Background()
	alpha := &models.Project{ID: "p1", Name: "Project Alpha"}
	beta := &models.Project{ID: "p2", Name: "Project Beta"}

	for _, session := range []string{"s1", "s2"} {
		for _, p := range []*models.Project{alpha, beta} {
			_, err := sw.Engine(session, p, UniversalScope()).Fetch(ctx, DirectionFirst, nil)
			require.NoError(t, err)
		}
	}
	require.Equal(t, 4, cursors.Len())

	require.NoError(t, sw.Close(ctx, "s1", "p1"))
	assert.Equal(t, 3, cursors.Len())

	require.NoError(t, sw.CloseSession(ctx, "s2"))
	assert.Equal(t, 1, cursors.Len())

	state, err := cursors.Load(ctx, TabKey("s1", "p2"))
	require.NoError(t, err)
	assert.Equal(t, 1, state.Page)
}
