// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Redactor, which scrubs obvious PII (UUID-like ids,
// emails, phone numbers) out of free text and masks sensitive headers, and
// RedactingLogger, the access logger built on it. The exception handler uses
// the same Redactor for failure messages before they reach logs or the
// incident store, since error text often embeds the offending input.
//
// Usage:
//
//	red := middleware.NewRedactor("X-Api-Key")
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{Redactor: red}))
//	middleware.UseExceptionHandler(r, func(o *middleware.ExceptionHandlerOptions) {
//	    o.Redact = red.String
//	})
//
// Redaction reduces but does not eliminate the risk of sensitive data
// reaching logs.
package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-exception-handler/internal/sysutil"
)

const redactedValue = "[REDACTED]"

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits-only phone pattern; it never matches hex characters.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// Redactor scrubs PII from strings and headers. The zero value is not usable;
// build one with NewRedactor. It is safe for concurrent use.
type Redactor struct {
	mask map[string]struct{} // lower-cased header names masked entirely
}

// NewRedactor returns a Redactor masking Authorization, Cookie, Set-Cookie
// and the extra header names given (case-insensitive).
func NewRedactor(maskHeaders ...string) *Redactor {
	r := &Redactor{mask: map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}}
	for _, h := range maskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			r.mask[h] = struct{}{}
		}
	}
	return r
}

// String replaces ids, emails and phone numbers in s with typed markers.
// UUIDs go first so the loose phone pattern cannot eat their digit groups.
func (r *Redactor) String(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// Headers flattens h into a loggable map with masked and scrubbed values.
func (r *Redactor) Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.mask[strings.ToLower(k)]; ok {
			out[k] = redactedValue
			continue
		}
		out[k] = r.String(strings.Join(vv, ", "))
	}
	return out
}

// RedactOptions configures RedactingLogger.
//
// Redactor is shared with other components when set; otherwise one is built
// from MaskHeaders.
type RedactOptions struct {
	Redactor    *Redactor
	MaskHeaders []string
}

// RedactingLogger returns a Gin middleware that logs one line per request with
// scrubbed query and headers. Like Logger it stores a request-scoped logger
// under "logger" so downstream code (the exception handler included) logs
// with the request id, method and path attached.
//
// Level: INFO by default, WARN for 4xx, ERROR for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	red := opts.Redactor
	if red == nil {
		red = NewRedactor(opts.MaskHeaders...)
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := red.String(truncate(c.Request.URL.RawQuery, maxQueryLogLength))
		safeHeaders := red.Headers(c.Request.Header)

		rid, _ := c.Get(requestIDKey)
		reqID := sysutil.FirstNonEmpty(
			asString(rid),
			c.Writer.Header().Get(requestIDHeader),
			c.GetHeader(requestIDHeader),
		)

		l := log.With().
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set("logger", &l)

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		}

		ev.
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
