// Package reports implements scoped, cursor-paginated report browsing: scope resolution,
// the keyset page engine with its per-tab cursor state, value formatting and the table view
// built from a fetched page.
package reports

import "errors"

var (
	// ErrScopeEmpty marks a non-admin scope without sales codes. Queries short-circuit to zero
	// rows; it is never surfaced to callers as a failure.
	ErrScopeEmpty = errors.New("scope has no sales codes")

	// ErrNoNextPage is returned when next is requested without a full previous page
	ErrNoNextPage = errors.New("no next page")

	// ErrNoPreviousPage is returned when previous is requested on page 1
	ErrNoPreviousPage = errors.New("no previous page")

	// ErrStale is returned when a later fetch, reset or tab close superseded this fetch
	ErrStale = errors.New("fetch superseded by a newer request")

	// ErrNotConfigured is returned for projects without report headers
	ErrNotConfigured = errors.New("project has no report headers configured")

	// ErrNotInTeam is returned when a member filter names a user outside the viewer's team
	ErrNotInTeam = errors.New("user is not a member of the viewer's team")

	// ErrInvalidDirection is returned for unknown paging directions
	ErrInvalidDirection = errors.New("invalid paging direction")
)
