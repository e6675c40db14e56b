// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file defines the failures raised by the transport layer itself. They
// are reported through gin's error list (c.Error) instead of being written
// directly, so the exception handler renders them from the same registry as
// application failures.
package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimitError is raised when a client exhausts its token bucket.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Key)
}

// RouteNotFoundError is raised when no route matches the request path.
type RouteNotFoundError struct {
	Method string
	Path   string
}

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("route %s %s not found", e.Method, e.Path)
}

// MethodNotAllowedError is raised when the path exists for other methods.
type MethodNotAllowedError struct {
	Method string
	Path   string
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("method %s not allowed on %s", e.Method, e.Path)
}

// PanicError carries a recovered panic value that is not itself an error.
// Panics with error values are handled as that error directly.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Raise reports err as the request's failure and stops the handler chain.
// The exception handler upstream turns it into a response.
func Raise(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// NoRoute is a gin fallback handler raising RouteNotFoundError.
func NoRoute(c *gin.Context) {
	Raise(c, &RouteNotFoundError{Method: c.Request.Method, Path: c.Request.URL.Path})
}

// NoMethod is a gin fallback handler raising MethodNotAllowedError.
func NoMethod(c *gin.Context) {
	Raise(c, &MethodNotAllowedError{Method: c.Request.Method, Path: c.Request.URL.Path})
}

// asError converts a recovered panic value into an error.
func asError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return &PanicError{Value: rec}
}

// errorText returns err.Error(). An Error method that panics, such as a
// pointer receiver on a typed nil, yields a placeholder naming the type.
func errorText(err error) (s string) {
	defer func() {
		if rec := recover(); rec != nil {
			s = fmt.Sprintf("%T: Error() panicked: %v", err, rec)
		}
	}()
	return err.Error()
}
