// Sample exception endpoints.
//
// Each endpoint fails in a different way so the exception handler's behavior
// can be observed end to end: mapped message, mapped body, unmapped error,
// unmapped panic, failure after the response started, failure after cache
// headers were set, and a body read past the configured size limit.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Exception raises a plain error with no mapping.
func (h *Handlers) Exception(c *gin.Context) {
	fail(c, errors.New("exception of type 'error' was thrown"))
}

// ArgumentNull raises ArgumentNullError unless ?param= is supplied, in which
// case it echoes the value.
func (h *Handlers) ArgumentNull(c *gin.Context) {
	param := strings.TrimSpace(c.Query("param"))
	if param == "" {
		fail(c, &ArgumentNullError{Param: "param"})
		return
	}
	ok(c, http.StatusOK, gin.H{"param": param})
}

// KeyNotFound raises KeyNotFoundError for the ?key= value.
func (h *Handlers) KeyNotFound(c *gin.Context) {
	fail(c, &KeyNotFoundError{Key: c.Query("key")})
}

// Custom raises CustomError, which is left unmapped.
func (h *Handlers) Custom(c *gin.Context) {
	fail(c, &CustomError{Reason: c.Query("reason")})
}

// Panic panics with a non-error value.
func (h *Handlers) Panic(c *gin.Context) {
	panic("sample handler panic")
}

// Streamed starts a 200 response, flushes part of the body, then fails. The
// client keeps the partial response.
func (h *Handlers) Streamed(c *gin.Context) {
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)
	_, _ = c.Writer.WriteString("partial")
	c.Writer.Flush()
	fail(c, errors.New("stream interrupted"))
}

// ETag marks the response cacheable and then fails with a mapped error. The
// error response must not carry the ETag or the caching directives.
func (h *Handlers) ETag(c *gin.Context) {
	c.Header("ETag", `W/"sample"`)
	c.Header("Cache-Control", "public, max-age=3600")
	c.Header("Expires", "Thu, 01 Jan 2099 00:00:00 GMT")
	fail(c, &KeyNotFoundError{Key: "etag"})
}

// Echo reads the request body and reports its size. A body larger than the
// router's limit surfaces the reader's *http.MaxBytesError.
func (h *Handlers) Echo(c *gin.Context) {
	b, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"bytes": len(b)})
}
