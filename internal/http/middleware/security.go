// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, a hardening middleware that attaches a
// conservative set of HTTP security headers suitable for JSON APIs behind a
// reverse proxy. The exception handler resets response headers before writing
// an error body; SecurityOptions.HeaderNames lists what this middleware sets
// so the router can add those names to the handler's preserve list and error
// responses stay hardened.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	hstsHeader   = "Strict-Transport-Security"
	exposeHeader = "Access-Control-Expose-Headers"

	defaultHSTSMaxAge = 180 * 24 * time.Hour
)

// SecurityOptions configures the headers emitted by SecurityHeaders.
type SecurityOptions struct {
	EnableHSTS   bool          // only when traffic is HTTPS end-to-end
	HSTSMaxAge   time.Duration // defaults to 180 days
	NoStore      bool          // Cache-Control: no-store on every response
	EnablePolicy bool          // Permissions-Policy and cross-domain policy
}

// static returns the headers that do not depend on the request.
func (o SecurityOptions) static() http.Header {
	h := http.Header{}
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")
	if o.EnablePolicy {
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
	}
	if o.NoStore {
		h.Set("Cache-Control", "no-store")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
	}
	return h
}

// HeaderNames lists the hardening headers SecurityHeaders may set. Caching
// headers are left out: error responses get their own.
func (o SecurityOptions) HeaderNames() []string {
	names := []string{"X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy", exposeHeader}
	if o.EnablePolicy {
		names = append(names, "Permissions-Policy", "X-Permitted-Cross-Domain-Policies")
	}
	if o.EnableHSTS {
		names = append(names, hstsHeader)
	}
	return names
}

func (o SecurityOptions) hstsValue() string {
	maxAge := o.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	return "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains; preload"
}

// SecurityHeaders returns a Gin middleware that adds:
//   - X-Content-Type-Options, X-Frame-Options, Referrer-Policy (always);
//   - Permissions-Policy, X-Permitted-Cross-Domain-Policies (EnablePolicy);
//   - Cache-Control: no-store, Pragma, Expires (NoStore);
//   - Strict-Transport-Security (EnableHSTS and the request is HTTPS).
//
// When X-Request-ID is already set it is appended to
// Access-Control-Expose-Headers so browser clients can read it and quote it
// next to an error code.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	static := opt.static()
	hsts := opt.hstsValue()

	return func(c *gin.Context) {
		h := c.Writer.Header()
		for k, v := range static {
			h[k] = append([]string(nil), v...)
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set(hstsHeader, hsts)
		}
		if h.Get(requestIDHeader) != "" {
			exposeRequestID(h)
		}
		c.Next()
	}
}

// exposeRequestID appends X-Request-ID to Access-Control-Expose-Headers
// without clobbering names already listed.
func exposeRequestID(h http.Header) {
	cur := h.Get(exposeHeader)
	if cur == "" {
		h.Set(exposeHeader, requestIDHeader)
		return
	}
	for _, name := range strings.Split(cur, ",") {
		if strings.EqualFold(strings.TrimSpace(name), requestIDHeader) {
			return
		}
	}
	h.Set(exposeHeader, cur+", "+requestIDHeader)
}

// isHTTPS reports whether the request used HTTPS directly or via a proxy
// that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
