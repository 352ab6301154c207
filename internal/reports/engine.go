package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
	"github.com/sales-dashboard/sales-dashboard/internal/db/repositories"
	"github.com/sales-dashboard/sales-dashboard/internal/telemetry"
)

// PageSize is the number of reports per page
const PageSize = 50

// Direction selects which page Fetch loads relative to the stored cursors
type Direction string

const (
	DirectionFirst    Direction = "first"
	DirectionNext     Direction = "next"
	DirectionPrevious Direction = "previous"
)

// ParseDirection validates a direction; an empty string means first
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DirectionFirst, nil
	case DirectionFirst, DirectionNext, DirectionPrevious:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// FieldFilter is an extra equality predicate on one report column
type FieldFilter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (f *FieldFilter) active() bool {
	return f != nil && f.Field != ""
}

func (f *FieldFilter) apply(q *repositories.ReportQuery) {
	if f.active() {
		q.FilterField = f.Field
		q.FilterValue = f.Value
	}
}

func (f *FieldFilter) fingerprint() string {
	if !f.active() {
		return ""
	}
	return f.Field + "\x00" + f.Value
}

// Store is the report document store the engine reads from
type Store interface {
	QueryReports(ctx context.Context, q repositories.ReportQuery) ([]*models.Report, error)
	CountReports(ctx context.Context, q repositories.ReportQuery) (int, error)
}

// Page is the result of one fetch.
//
// HasMore is true iff the page is exactly full. It is a heuristic: when the match count is an
// exact multiple of PageSize the last page still reports HasMore, and the following next
// returns ErrNoNextPage without moving.
type Page struct {
	Records     []*models.Report `json:"records"`
	PageNumber  int              `json:"page"`
	HasMore     bool             `json:"has_more"`
	HasPrevious bool             `json:"has_previous"`
	FirstMarker string           `json:"first_marker,omitempty"`
	LastMarker  string           `json:"last_marker,omitempty"`

	// Reset is set when a scope or filter change discarded the stored cursors
	Reset bool `json:"reset,omitempty"`

	// Err carries a store failure. The page is empty and the cursors were cleared; a new
	// first fetch is the retry path.
	Err error `json:"-"`
}

func emptyPage() *Page {
	return &Page{Records: []*models.Report{}, PageNumber: 1}
}

// Engine pages through the reports of one project for one tab. Engines are cheap; all state
// lives in the cursor store under the tab key.
type Engine struct {
	store     Store
	cursors   CursorStore
	key       string
	projectID string
	scope     Scope
}

// NewEngine binds an engine to a tab. projectID is the project identifier carried by report
// rows (see models.ProjectIdentifier).
func NewEngine(store Store, cursors CursorStore, key, projectID string, scope Scope) *Engine {
	return &Engine{
		store:     store,
		cursors:   cursors,
		key:       key,
		projectID: projectID,
		scope:     scope,
	}
}

// Scope returns the scope the engine filters by
func (e *Engine) Scope() Scope { return e.scope }

func (e *Engine) fingerprint(filter *FieldFilter) string {
	return e.scope.Fingerprint() + "|" + filter.fingerprint()
}

func (e *Engine) query(filter *FieldFilter) repositories.ReportQuery {
	q := repositories.ReportQuery{ProjectID: e.projectID, Limit: PageSize}
	e.scope.apply(&q)
	filter.apply(&q)
	return q
}

// Fetch loads a page in the given direction.
//
// An empty restricted scope yields an empty page without touching the store. A scope or
// filter different from the one the stored cursors were built for resets them and loads the
// first page. next and previous return ErrNoNextPage / ErrNoPreviousPage when the transition
// is not available. A fetch superseded while in flight, or one whose cursors changed between
// loading them and taking its ticket, returns ErrStale and leaves the state of the newer
// fetch in place.
func (e *Engine) Fetch(ctx context.Context, dir Direction, filter *FieldFilter) (*Page, error) {
	fingerprint := e.fingerprint(filter)

	if e.scope.Empty() {
		if err := e.cursors.Reset(ctx, e.key); err != nil {
			return nil, err
		}
		observeFetch(dir, "empty_scope")
		return emptyPage(), nil
	}

	state, err := e.cursors.Load(ctx, e.key)
	if err != nil {
		return nil, err
	}
	loaded := state

	reset := false
	if state.Fingerprint != fingerprint {
		if dir != DirectionFirst || state.Fingerprint != "" {
			reset = true
		}
		state = CursorState{}
		dir = DirectionFirst
	}

	q := e.query(filter)
	pageNumber := state.Page
	switch dir {
	case DirectionFirst:
		pageNumber = 1
	case DirectionNext:
		if state.LastMarker == "" || state.LastCount < PageSize {
			observeFetch(dir, "refused")
			return nil, ErrNoNextPage
		}
		q.After = state.LastMarker
		pageNumber++
	case DirectionPrevious:
		if state.FirstMarker == "" || state.Page <= 1 {
			observeFetch(dir, "refused")
			return nil, ErrNoPreviousPage
		}
		q.Before = state.FirstMarker
		pageNumber--
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}

	ticket, err := e.cursors.Begin(ctx, e.key)
	if err != nil {
		return nil, err
	}
	// A fetch that committed between Load and Begin already moved the cursors; the
	// transition chosen above is based on a state that no longer exists.
	current, err := e.cursors.Load(ctx, e.key)
	if err != nil {
		return nil, err
	}
	if current != loaded {
		slog.Debug("discarding superseded report fetch", "tab", e.key, "direction", dir)
		observeFetch(dir, "stale")
		return nil, ErrStale
	}

	start := time.Now()
	records, err := e.store.QueryReports(ctx, q)
	telemetry.ReportFetchDuration.WithLabelValues(string(dir)).Observe(time.Since(start).Seconds())

	if err != nil {
		slog.Error("report page fetch failed",
			"project", e.projectID, "direction", dir, "tab", e.key, "error", err)
		telemetry.ReportStoreErrorsTotal.Inc()

		if cerr := e.commit(ctx, ticket, CursorState{Fingerprint: fingerprint}, dir); cerr != nil {
			return nil, cerr
		}
		observeFetch(dir, "store_error")
		page := emptyPage()
		page.Reset = reset
		page.Err = err
		return page, nil
	}

	// An exact multiple of PageSize: the previous page was full but nothing follows. Stay on
	// the current page and disable next.
	if dir == DirectionNext && len(records) == 0 {
		state.LastCount = 0
		if cerr := e.commit(ctx, ticket, state, dir); cerr != nil {
			return nil, cerr
		}
		observeFetch(dir, "refused")
		return nil, ErrNoNextPage
	}

	next := CursorState{
		Page:        pageNumber,
		LastCount:   len(records),
		Fingerprint: fingerprint,
	}
	if len(records) > 0 {
		next.FirstMarker = records[0].ID
		next.LastMarker = records[len(records)-1].ID
	}
	if cerr := e.commit(ctx, ticket, next, dir); cerr != nil {
		return nil, cerr
	}

	observeFetch(dir, "ok")
	return &Page{
		Records:     records,
		PageNumber:  pageNumber,
		HasMore:     len(records) == PageSize,
		HasPrevious: pageNumber > 1,
		FirstMarker: next.FirstMarker,
		LastMarker:  next.LastMarker,
		Reset:       reset,
	}, nil
}

func (e *Engine) commit(ctx context.Context, ticket uint64, state CursorState, dir Direction) error {
	err := e.cursors.Commit(ctx, e.key, ticket, state)
	if errors.Is(err, ErrStale) {
		slog.Debug("discarding superseded report fetch", "tab", e.key, "direction", dir)
		observeFetch(dir, "stale")
	}
	return err
}

// Count returns the total number of reports matching the scope and filter. It is independent
// of the cursor state and only feeds the "page X of Y" display.
func (e *Engine) Count(ctx context.Context, filter *FieldFilter) (int, error) {
	if e.scope.Empty() {
		return 0, nil
	}
	n, err := e.store.CountReports(ctx, e.query(filter))
	if err != nil {
		telemetry.ReportStoreErrorsTotal.Inc()
		return 0, err
	}
	return n, nil
}

// Walk visits every matching report in id order, one page at a time, without touching the
// tab's cursors. fn may stop the walk by returning an error.
func (e *Engine) Walk(ctx context.Context, filter *FieldFilter, fn func([]*models.Report) error) error {
	if e.scope.Empty() {
		return nil
	}
	q := e.query(filter)
	for {
		records, err := e.store.QueryReports(ctx, q)
		if err != nil {
			telemetry.ReportStoreErrorsTotal.Inc()
			return err
		}
		if len(records) > 0 {
			if err := fn(records); err != nil {
				return err
			}
		}
		if len(records) < q.Limit {
			return nil
		}
		q.After = records[len(records)-1].ID
	}
}

// State returns the stored cursor position of the tab
func (e *Engine) State(ctx context.Context) (CursorState, error) {
	return e.cursors.Load(ctx, e.key)
}

// Reset clears the tab's cursors and supersedes in-flight fetches
func (e *Engine) Reset(ctx context.Context) error {
	return e.cursors.Reset(ctx, e.key)
}

func observeFetch(dir Direction, outcome string) {
	telemetry.ReportPageFetchesTotal.WithLabelValues(string(dir), outcome).Inc()
}
