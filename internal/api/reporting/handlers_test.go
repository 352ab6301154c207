package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/sales-dashboard/sales-dashboard/internal/config"
	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
	"github.com/sales-dashboard/sales-dashboard/internal/export"
	"github.com/sales-dashboard/sales-dashboard/internal/middleware"
	"github.com/sales-dashboard/sales-dashboard/internal/reports"
	"github.com/sales-dashboard/sales-dashboard/internal/storage"
	"github.com/sales-dashboard/sales-dashboard/internal/storage/local"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	projectSQLCols = []string{
		"id", "name", "status", "report_headers", "sales_fee", "supervisor_fee", "created_at", "updated_at",
	}
	reportSQLCols     = []string{"id", "project_id", "sales_code", "data", "created_at"}
	userSQLCols       = []string{"id", "name", "email", "password_hash", "role", "status", "supervisor_id", "legacy_sales_code", "created_at", "updated_at"}
	assignmentSQLCols = []string{"user_id", "project_id", "sales_code"}
)

func salesUser(codes ...string) *models.User {
	u := &models.User{ID: "user-1", Name: "Budi", Role: models.RoleSales, Status: models.UserStatusActive}
	for _, code := range codes {
		u.Assignments = append(u.Assignments, models.ProjectAssignment{ProjectID: "p1", SalesCode: code})
	}
	return u
}

type testEnv struct {
	mock    sqlmock.Sqlmock
	router  *gin.Engine
	cursors *reports.MemoryCursorStore
	store   storage.Storage
}

// newTestEnv wires the handlers behind a stand-in for AuthMiddleware that authenticates user
// in session sess-1. withExports enables local export storage in a temp dir.
func newTestEnv(t *testing.T, user *models.User, withExports bool) *testEnv {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	formatter := reports.NewFormatter(reports.LocaleEnglish, time.UTC)
	cursors := reports.NewMemoryCursorStore(time.Hour)

	env := &testEnv{mock: mock, cursors: cursors}
	var exporter *export.Exporter
	if withExports {
		store, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir(), ServeDirectly: true}, "http://dash.test")
		if err != nil {
			t.Fatalf("local.New: %v", err)
		}
		env.store = store
		exporter = export.NewExporter(store, "local", formatter, time.Hour, 0)
	}

	h := NewReportHandlers(sqlx.NewDb(db, "postgres"), cursors, formatter, exporter, env.store)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUser, user)
		c.Set(middleware.ContextUserID, user.ID)
		c.Set(middleware.ContextRole, string(user.Role))
		c.Set(middleware.ContextSessionID, "sess-1")
		c.Next()
	})
	r.GET("/reports/tabs", h.ListTabsHandler())
	r.GET("/reports/projects/:id/page", h.GetPageHandler())
	r.GET("/reports/projects/:id/count", h.CountHandler())
	r.GET("/reports/projects/:id/summary", h.SummaryHandler())
	r.DELETE("/reports/projects/:id/tab", h.CloseTabHandler())
	r.GET("/reports/records/:id", h.GetRecordHandler())
	r.POST("/reports/projects/:id/export", h.ExportHandler())
	r.GET("/reports/exports/*path", h.DownloadExportHandler())
	env.router = r
	return env
}

func (e *testEnv) expectProject(status, headers string) {
	e.mock.ExpectQuery("FROM projects WHERE id").
		WillReturnRows(sqlmock.NewRows(projectSQLCols).
			AddRow("p1", "Project Alpha", status, []byte(headers), 2500.0, 500.0, time.Now(), time.Now()))
}

func (e *testEnv) do(method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func reportRows(n int, code string) *sqlmock.Rows {
	rows := sqlmock.NewRows(reportSQLCols)
	for i := 1; i <= n; i++ {
		data := fmt.Sprintf(`{"ID UNIK":%d,"Merchant Name":"Toko %d"}`, 1000+i, i)
		rows.AddRow(fmt.Sprintf("r%04d", i), "project_alpha", code, []byte(data), time.Now())
	}
	return rows
}

// pageBody mirrors PageResponse on the client side
type pageBody struct {
	Configured  bool   `json:"configured"`
	Message     string `json:"message"`
	Headers     []string
	Rows        []struct{ Cells []string }
	Page        int    `json:"page"`
	HasMore     bool   `json:"has_more"`
	HasPrevious bool   `json:"has_previous"`
	Fetched     int    `json:"fetched"`
	Error       string `json:"error"`
	Reset       bool   `json:"reset"`
}

func decodePage(t *testing.T, w *httptest.ResponseRecorder) pageBody {
	t.Helper()
	var body pageBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode page: %v (%s)", err, w.Body.String())
	}
	return body
}

// ---------------------------------------------------------------------------
// GetPageHandler
// ---------------------------------------------------------------------------

func TestGetPageHandler_RendersProjectColumns(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)
	env.expectProject("active", `["ID UNIK","Merchant Name"]`)
	env.mock.ExpectQuery("FROM reports WHERE project_id = \\$1 AND sales_code = ANY").
		WillReturnRows(sqlmock.NewRows(reportSQLCols).
			AddRow("r0001", "project_alpha", "S-001", []byte(`{"ID UNIK":42,"Merchant Name":"Acme"}`), time.Now()))

	w := env.do("GET", "/reports/projects/p1/page")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	page := decodePage(t, w)
	if strings.Join(page.Headers, "|") != "No|ID UNIK|Merchant Name" {
		t.Errorf("headers = %v", page.Headers)
	}
	if len(page.Rows) != 1 || strings.Join(page.Rows[0].Cells, "|") != "1|42|Acme" {
		t.Errorf("rows = %+v, want [[1 42 Acme]]", page.Rows)
	}
	if page.HasMore || page.HasPrevious {
		t.Errorf("has_more=%v has_previous=%v, want both false", page.HasMore, page.HasPrevious)
	}
}

func TestGetPageHandler_NextAndPreviousMoveTheTab(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)

	env.expectProject("active", `["ID UNIK"]`)
	env.mock.ExpectQuery("FROM reports").WillReturnRows(reportRows(reports.PageSize, "S-001"))
	if w := env.do("GET", "/reports/projects/p1/page?direction=first"); w.Code != http.StatusOK {
		t.Fatalf("first status = %d", w.Code)
	}

	env.expectProject("active", `["ID UNIK"]`)
	env.mock.ExpectQuery("FROM reports .* AND id > ").WillReturnRows(reportRows(3, "S-001"))
	w := env.do("GET", "/reports/projects/p1/page?direction=next")
	if w.Code != http.StatusOK {
		t.Fatalf("next status = %d: %s", w.Code, w.Body.String())
	}
	page := decodePage(t, w)
	if page.Page != 2 || !page.HasPrevious || page.HasMore {
		t.Errorf("page=%d has_previous=%v has_more=%v, want 2/true/false", page.Page, page.HasPrevious, page.HasMore)
	}
	if page.Rows[0].Cells[0] != "51" {
		t.Errorf("sequence continues across pages: first cell = %q, want 51", page.Rows[0].Cells[0])
	}

	// A short page disables next without querying
	env.expectProject("active", `["ID UNIK"]`)
	if w := env.do("GET", "/reports/projects/p1/page?direction=next"); w.Code != http.StatusConflict {
		t.Errorf("next after short page status = %d, want 409", w.Code)
	}

	env.expectProject("active", `["ID UNIK"]`)
	env.mock.ExpectQuery("FROM reports .* AND id < .* ORDER BY id DESC").WillReturnRows(reportRows(reports.PageSize, "S-001"))
	w = env.do("GET", "/reports/projects/p1/page?direction=previous")
	if w.Code != http.StatusOK {
		t.Fatalf("previous status = %d: %s", w.Code, w.Body.String())
	}
	if page := decodePage(t, w); page.Page != 1 || page.HasPrevious {
		t.Errorf("previous landed on page %d (has_previous=%v), want 1/false", page.Page, page.HasPrevious)
	}

	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetPageHandler_PreviousOnFirstPage(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)
	env.expectProject("active", `["ID UNIK"]`)
	env.mock.ExpectQuery("FROM reports").WillReturnRows(reportRows(reports.PageSize, "S-001"))
	if w := env.do("GET", "/reports/projects/p1/page"); w.Code != http.StatusOK {
		t.Fatalf("first status = %d", w.Code)
	}

	env.expectProject("active", `["ID UNIK"]`)
	if w := env.do("GET", "/reports/projects/p1/page?direction=previous"); w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetPageHandler_EmptyScopeSkipsStore(t *testing.T) {
	env := newTestEnv(t, salesUser(), false)
	env.expectProject("active", `["ID UNIK"]`)

	w := env.do("GET", "/reports/projects/p1/page")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	page := decodePage(t, w)
	if len(page.Rows) != 0 || page.HasMore {
		t.Errorf("rows=%d has_more=%v, want empty page", len(page.Rows), page.HasMore)
	}
	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected store access: %v", err)
	}
}

func TestGetPageHandler_NotConfigured(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)
	env.expectProject("active", `[]`)

	w := env.do("GET", "/reports/projects/p1/page")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	page := decodePage(t, w)
	if page.Configured || page.Message != reports.NotConfiguredMessage {
		t.Errorf("configured=%v message=%q", page.Configured, page.Message)
	}
}

func TestGetPageHandler_StoreFailureReturnsEmptyPage(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)
	env.expectProject("active", `["ID UNIK"]`)
	env.mock.ExpectQuery("FROM reports").WillReturnError(fmt.Errorf("connection reset"))

	w := env.do("GET", "/reports/projects/p1/page")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	page := decodePage(t, w)
	if page.Error == "" || len(page.Rows) != 0 {
		t.Errorf("error=%q rows=%d, want an error message and no rows", page.Error, len(page.Rows))
	}
	state, _ := env.cursors.Load(t.Context(), reports.TabKey("sess-1", "p1"))
	if state.LastMarker != "" || state.FirstMarker != "" {
		t.Errorf("cursors survived a store failure: %+v", state)
	}
}

func TestGetPageHandler_SearchFiltersFetchedPage(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)
	env.expectProject("active", `["ID UNIK","Merchant Name"]`)
	rows := sqlmock.NewRows(reportSQLCols)
	for i := 1; i <= reports.PageSize; i++ {
		name := fmt.Sprintf("Toko %d", i)
		if i%17 == 0 {
			name = fmt.Sprintf("Budi Store %d", i)
		}
		rows.AddRow(fmt.Sprintf("r%04d", i), "project_alpha", "S-001",
			[]byte(fmt.Sprintf(`{"ID UNIK":%d,"Merchant Name":%q}`, i, name)), time.Now())
	}
	env.mock.ExpectQuery("FROM reports").WillReturnRows(rows)

	w := env.do("GET", "/reports/projects/p1/page?q=budi")

	page := decodePage(t, w)
	if len(page.Rows) != 2 {
		t.Errorf("rows = %d, want 2 matches", len(page.Rows))
	}
	if page.Fetched != reports.PageSize || !page.HasMore {
		t.Errorf("fetched=%d has_more=%v, paging must describe the full page", page.Fetched, page.HasMore)
	}
}

func TestGetPageHandler_InvalidDirection(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)

	if w := env.do("GET", "/reports/projects/p1/page?direction=sideways"); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetPageHandler_InactiveProjectHiddenFromSales(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)
	env.expectProject("inactive", `["ID UNIK"]`)

	if w := env.do("GET", "/reports/projects/p1/page"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetPageHandler_MemberOutsideTeam(t *testing.T) {
	sup := &models.User{ID: "sup-1", Role: models.RoleSupervisor, Status: models.UserStatusActive}
	env := newTestEnv(t, sup, false)
	env.expectProject("active", `["ID UNIK"]`)
	env.mock.ExpectQuery("SELECT .* FROM users WHERE id").
		WillReturnRows(sqlmock.NewRows(userSQLCols).
			AddRow("user-7", "Other", "o@example.com", "", "sales", "active", "sup-2", nil, time.Now(), time.Now()))
	env.mock.ExpectQuery("SELECT user_id, project_id, sales_code").
		WillReturnRows(sqlmock.NewRows(assignmentSQLCols).AddRow("user-7", "p1", "S-007"))

	if w := env.do("GET", "/reports/projects/p1/page?member=user-7"); w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Count / Summary / Tabs / CloseTab
// ---------------------------------------------------------------------------

func TestCountHandler(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)
	env.expectProject("active", `["ID UNIK"]`)
	env.mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM reports").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(120))

	w := env.do("GET", "/reports/projects/p1/count")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]float64
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["total"] != 120 || body["pages"] != 3 {
		t.Errorf("total=%v pages=%v, want 120/3", body["total"], body["pages"])
	}
}

func TestSummaryHandler_SalesEarnings(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)
	env.expectProject("active", `["ID UNIK"]`)
	env.mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM reports").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	w := env.do("GET", "/reports/projects/p1/summary")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct{ Summary reports.Summary }
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Summary.SalesEarnings != 10000 || body.Summary.SupervisorEarnings != 0 {
		t.Errorf("summary = %+v, want sales earnings 4 x 2500", body.Summary)
	}
}

func TestListTabsHandler_SalesSeesAssignedProjects(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)
	env.mock.ExpectQuery("FROM projects WHERE status").
		WillReturnRows(sqlmock.NewRows(projectSQLCols).
			AddRow("p1", "Project Alpha", "active", []byte(`["ID UNIK"]`), nil, nil, time.Now(), time.Now()).
			AddRow("p2", "Project Beta", "active", []byte(`[]`), nil, nil, time.Now(), time.Now()))

	w := env.do("GET", "/reports/tabs")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct{ Tabs []reports.Tab }
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Tabs) != 1 || body.Tabs[0].ProjectID != "p1" || !body.Tabs[0].Selected {
		t.Errorf("tabs = %+v, want only p1, selected", body.Tabs)
	}
}

func TestCloseTabHandler_DropsCursors(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)
	key := reports.TabKey("sess-1", "p1")
	ticket, _ := env.cursors.Begin(t.Context(), key)
	env.cursors.Commit(t.Context(), key, ticket, reports.CursorState{Page: 2, LastMarker: "r0100"})

	if w := env.do("DELETE", "/reports/projects/p1/tab"); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	state, _ := env.cursors.Load(t.Context(), key)
	if state.Page != 0 || state.LastMarker != "" {
		t.Errorf("state after close = %+v, want zero", state)
	}
}

// ---------------------------------------------------------------------------
// GetRecordHandler
// ---------------------------------------------------------------------------

func TestGetRecordHandler_InScope(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)
	env.mock.ExpectQuery("FROM reports WHERE id").
		WillReturnRows(sqlmock.NewRows(reportSQLCols).
			AddRow("r0001", "project_alpha", "S-001", []byte(`{"merchant_name":"Acme","Visited":true}`), time.Now()))

	w := env.do("GET", "/reports/records/r0001")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var body struct{ Record reports.Detail }
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Record.Fields) != 2 || body.Record.Fields[0].Label != "merchant name" || body.Record.Fields[1].Value != "Yes" {
		t.Errorf("record = %+v", body.Record)
	}
}

func TestGetRecordHandler_OutOfScope(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)
	env.mock.ExpectQuery("FROM reports WHERE id").
		WillReturnRows(sqlmock.NewRows(reportSQLCols).
			AddRow("r0002", "project_alpha", "S-999", []byte(`{}`), time.Now()))

	if w := env.do("GET", "/reports/records/r0002"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Export / download
// ---------------------------------------------------------------------------

func TestExportHandler_NotConfigured(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), false)

	if w := env.do("POST", "/reports/projects/p1/export"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestExportHandler_WritesAndDownloads(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), true)
	env.expectProject("active", `["ID UNIK","Merchant Name"]`)
	env.mock.ExpectQuery("FROM reports").WillReturnRows(reportRows(3, "S-001"))

	w := env.do("POST", "/reports/projects/p1/export")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var body struct{ Export export.Result }
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Export.Rows != 3 || !strings.HasPrefix(body.Export.Path, "exports/user-1/project_alpha-") {
		t.Fatalf("export = %+v", body.Export)
	}

	w = env.do("GET", "/reports/exports/"+body.Export.Path)
	if w.Code != http.StatusOK {
		t.Fatalf("download status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	data, _ := io.ReadAll(w.Body)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 || lines[0] != "No,ID UNIK,Merchant Name" {
		t.Errorf("csv = %q", string(data))
	}
}

func TestDownloadExportHandler_OtherUsersExport(t *testing.T) {
	env := newTestEnv(t, salesUser("S-001"), true)

	if w := env.do("GET", "/reports/exports/exports/user-2/project_alpha-x.csv"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
