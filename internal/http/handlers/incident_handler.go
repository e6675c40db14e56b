// Incident HTTP handlers.
//
// These endpoints let support staff resolve a correlation code returned to a
// client into the stored incident. Lookup failures are raised, so an unknown
// code renders as the mapped 404 and a malformed code as the mapped 400.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-exception-handler/internal/domain"
	"github.com/tbourn/go-exception-handler/internal/utils"
)

// ListIncidentsResponse wraps a page of incidents and pagination information.
type ListIncidentsResponse struct {
	Incidents  []domain.Incident `json:"incidents"`
	Pagination Pagination        `json:"pagination"`
}

// GetIncident returns the incident recorded under :code.
func (h *Handlers) GetIncident(c *gin.Context) {
	inc, err := h.incidents.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, inc)
}

// ListIncidents returns a page of incidents, newest first. It supports a weak
// ETag via If-None-Match and may return 304.
func (h *Handlers) ListIncidents(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, latest, err := h.incidents.Stats(ctx); err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixNano()
		}
		if notModified(c, fmt.Sprintf(`W/"incidents:%d:%d"`, count, ts)) {
			return
		}
	}

	items, total, err := h.incidents.ListPage(ctx, page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListIncidentsResponse{
		Incidents: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
