// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by all endpoints. Handlers
// never write error bodies themselves: fail hands the error to the exception
// handler middleware, which resolves it against the registry and renders the
// JSON error envelope. Success responses go through ok and
// notModified so they share one shape.
//
// Example error response (unmapped failure):
//
//	HTTP/1.1 500 Internal Server Error
//	{
//	  "errorCode": "ERR_3F9A21B0",
//	  "message": "An unhandled exception has occurred, please check the log for details."
//	}
//
// Example success response (GET /incidents/ERR_3F9A21B0):
//
//	HTTP/1.1 200 OK
//	{
//	  "id": "5f0c6a9e-7d1b-4c3e-9a52-0b6f2f1d8e44",
//	  "error_code": "ERR_3F9A21B0",
//	  "status_code": 500,
//	  "method": "GET",
//	  "path": "/api/v1/exceptions",
//	  "request_id": "b1d7c2f4-3e0a-4a8b-9f61-2c5d7e8a9b10",
//	  "error_type": "*errors.errorString",
//	  "message": "boom",
//	  "created_at": "2025-01-02T03:04:05.123456789Z"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-exception-handler/internal/http/middleware"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// fail reports err as the request's failure and stops the chain.
func fail(c *gin.Context, err error) {
	middleware.Raise(c, err)
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// notModified sets etag on the response and, when the request's
// If-None-Match matches it, writes 304 and reports true.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
