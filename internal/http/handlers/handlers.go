// Package handlers exposes the sample and support endpoints:
//   - GET /exceptions, /exceptions/{argumentnull,keynotfound,custom,panic,streamed,etag}
//   - GET /incidents            (list, paginated, ETag support)
//   - GET /incidents/{code}     (lookup by correlation code)
//
// Handlers are transport-thin: they validate input, call application services,
// and either write a success response or raise an error for the exception
// handler to render.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-exception-handler/internal/domain"
	"github.com/tbourn/go-exception-handler/internal/utils"
)

// IncidentService defines the incident lookups consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type IncidentService interface {
	// Get returns the incident recorded under a correlation code.
	Get(ctx context.Context, code string) (*domain.Incident, error)
	// ListPage returns a page of incidents and the total count.
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Incident, int64, error)
	// Stats returns the incident count and newest CreatedAt.
	Stats(ctx context.Context) (int64, *time.Time, error)
}

// Handlers groups the HTTP endpoints. A nil incident service is allowed when
// the incident API is disabled; the incident routes are then not mounted.
type Handlers struct {
	incidents IncidentService
}

// New constructs and returns a Handlers instance bound to the given service.
func New(incidents IncidentService) *Handlers {
	return &Handlers{incidents: incidents}
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}
