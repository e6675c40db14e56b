// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements ExceptionHandler, the global failure interceptor. It
// wraps the rest of the handler chain, catches any failure escaping it, and
// renders the failure as a JSON error response resolved from the registry.
//
// A failure is either a panic or an error reported through c.Error (see
// Raise). Both take the same path:
//
//  1. If the response has already started, nothing can be rewritten: log a
//     warning and re-throw the original failure.
//  2. Otherwise reset headers (keeping PreserveHeaders), resolve the failure,
//     encode the body, schedule cache-busting header finalization, and write
//     the body once.
//  3. On success the failure is absorbed: a panic is not re-raised and the
//     error is removed from c.Errors.
//  4. If step 2 itself fails, that secondary failure is logged on its own and
//     the original failure is re-thrown: panics are re-raised with the
//     original value, errors stay on c.Errors.
//
// Re-thrown failures are left to the outer pipeline (see Recovery).
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RequestID(), middleware.Logger(), middleware.Recovery())
//	middleware.UseExceptionHandler(r, func(o *middleware.ExceptionHandlerOptions) {
//	    registry.MapMessage[*handlers.ArgumentNullError](o.Registry, http.StatusBadRequest, "Parameter required")
//	})
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-exception-handler/internal/domain"
	"github.com/tbourn/go-exception-handler/internal/errcode"
	"github.com/tbourn/go-exception-handler/internal/jsonenc"
	"github.com/tbourn/go-exception-handler/internal/observability"
	"github.com/tbourn/go-exception-handler/internal/registry"
	"github.com/tbourn/go-exception-handler/internal/resolve"
)

const (
	contentTypeJSON = "application/json"

	msgResponseStarted = "The response has already started, the error handler will not be executed."
	msgHandlerFailed   = "An exception was thrown attempting to execute the error handler."

	incidentTimeout = 2 * time.Second
)

// Outcome labels for exception_handler_outcomes_total.
const (
	outcomeMapped   = "mapped"
	outcomeUnmapped = "unmapped"
	outcomeStarted  = "response_started"
	outcomeFailed   = "handler_failed"
)

// DefaultPreserveHeaders survive the header reset performed before an error
// body is written. Entries ending in "*" match by prefix.
var DefaultPreserveHeaders = []string{
	requestIDHeader,
	"Retry-After",
	"Access-Control-*",
	"Vary",
	"Strict-Transport-Security",
	"X-Content-Type-Options",
	"X-Frame-Options",
	"Referrer-Policy",
}

// IncidentRecorder persists unmapped failures so support staff can look up a
// correlation code. Recording errors are logged and never affect the
// response.
type IncidentRecorder interface {
	RecordIncident(ctx context.Context, inc *domain.Incident) error
}

// ExceptionHandlerOptions configures ExceptionHandler. Build it with
// NewExceptionHandlerOptions, adjust it during setup, and treat it as
// read-only once the handler is constructed.
type ExceptionHandlerOptions struct {
	// Registry maps failures to responses. It stays live: registrations made
	// after setup apply to later requests.
	Registry *registry.Registry
	// ErrorCodePrefix prefixes correlation codes (default "ERR_").
	ErrorCodePrefix string
	// DefaultErrorMessage is the client message for unmapped failures.
	DefaultErrorMessage string
	// Encoding configures body serialization.
	Encoding jsonenc.Config
	// PreserveHeaders lists response headers kept across the reset.
	PreserveHeaders []string
	// Incidents, when set, receives every unmapped failure.
	Incidents IncidentRecorder
	// Generator overrides correlation code generation (tests).
	Generator errcode.Generator
	// Redact scrubs failure messages before they are logged or recorded as
	// incidents. Client bodies are never affected. Nil keeps messages as-is.
	Redact func(string) string
}

// NewExceptionHandlerOptions returns options populated with defaults and an
// empty registry.
func NewExceptionHandlerOptions() *ExceptionHandlerOptions {
	return &ExceptionHandlerOptions{
		Registry:            registry.New(),
		ErrorCodePrefix:     errcode.DefaultPrefix,
		DefaultErrorMessage: resolve.DefaultErrorMessage,
		Encoding:            jsonenc.DefaultConfig(),
		PreserveHeaders:     append([]string(nil), DefaultPreserveHeaders...),
	}
}

// UseExceptionHandler builds options from defaults, lets setup adjust them,
// and installs the resulting ExceptionHandler on r.
func UseExceptionHandler(r gin.IRoutes, setup func(*ExceptionHandlerOptions)) gin.IRoutes {
	if r == nil {
		panic("middleware: UseExceptionHandler called with nil router")
	}
	opts := NewExceptionHandlerOptions()
	if setup != nil {
		setup(opts)
	}
	return r.Use(ExceptionHandler(opts))
}

type exceptionHandler struct {
	resolver  *resolve.Resolver
	encoder   *jsonenc.Encoder
	keep      map[string]struct{}
	keepPfx   []string
	incidents IncidentRecorder
	redact    func(string) string
}

// ExceptionHandler returns the failure-intercepting middleware. A nil opts
// uses NewExceptionHandlerOptions.
func ExceptionHandler(opts *ExceptionHandlerOptions) gin.HandlerFunc {
	if opts == nil {
		opts = NewExceptionHandlerOptions()
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}

	h := &exceptionHandler{
		resolver: resolve.New(reg, resolve.Defaults{
			ErrorCodePrefix:     opts.ErrorCodePrefix,
			DefaultErrorMessage: opts.DefaultErrorMessage,
		}, resolve.WithGenerator(opts.Generator)),
		encoder:   jsonenc.New(opts.Encoding),
		keep:      make(map[string]struct{}, len(opts.PreserveHeaders)),
		incidents: opts.Incidents,
		redact:    opts.Redact,
	}
	if h.redact == nil {
		h.redact = func(s string) string { return s }
	}
	for _, name := range opts.PreserveHeaders {
		name = strings.TrimSpace(name)
		if pfx, ok := strings.CutSuffix(name, "*"); ok {
			h.keepPfx = append(h.keepPfx, http.CanonicalHeaderKey(pfx))
			continue
		}
		if name != "" {
			h.keep[http.CanonicalHeaderKey(name)] = struct{}{}
		}
	}
	return h.serve
}

// failure is one intercepted failure and how to re-throw it.
type failure struct {
	err      error
	panicked bool
	value    any    // original panic value
	stack    []byte // stack at recovery, panics only
	ginErr   *gin.Error
}

// rethrow hands the original failure back to the outer pipeline.
func (f *failure) rethrow() {
	if f.panicked {
		panic(f.value)
	}
}

// absorb marks the failure as handled.
func (f *failure) absorb(c *gin.Context) {
	if f.ginErr == nil {
		return
	}
	for i, e := range c.Errors {
		if e == f.ginErr {
			c.Errors = append(c.Errors[:i:i], c.Errors[i+1:]...)
			return
		}
	}
}

func (h *exceptionHandler) serve(c *gin.Context) {
	prev := c.Writer
	w := newSendHookWriter(prev)
	c.Writer = w
	defer func() { c.Writer = prev }()

	f := h.invoke(c)
	if f == nil {
		return
	}
	c.Abort()

	if w.Phase() != PhaseNotStarted {
		LoggerFrom(c).Warn().Str(zerolog.ErrorFieldName, h.redact(errorText(f.err))).Msg(msgResponseStarted)
		recordOutcome(outcomeStarted, w.Status())
		f.rethrow()
		return
	}

	res, err := h.respond(c, w, f.err)
	if err != nil {
		LoggerFrom(c).Error().
			Err(err).
			Str("original_error", h.redact(errorText(f.err))).
			Msg(msgHandlerFailed)
		recordOutcome(outcomeFailed, http.StatusInternalServerError)
		f.rethrow()
		return
	}

	f.absorb(c)
	h.report(c, f, res)
}

// invoke runs the downstream chain and returns the escaped failure, if any.
// A panic wins over errors recorded before it.
func (h *exceptionHandler) invoke(c *gin.Context) (f *failure) {
	before := len(c.Errors)
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec == http.ErrAbortHandler {
			panic(rec)
		}
		f = &failure{err: asError(rec), panicked: true, value: rec, stack: debug.Stack()}
	}()

	c.Next()

	if len(c.Errors) > before {
		last := c.Errors.Last()
		return &failure{err: last.Err, ginErr: last}
	}
	return nil
}

// respond resolves failure and writes the error body. Any panic or error in
// here is returned as the secondary failure. The request path is restored on
// every exit.
func (h *exceptionHandler) respond(c *gin.Context, w *sendHookWriter, failure error) (res resolve.Resolution, err error) {
	path, rawPath := c.Request.URL.Path, c.Request.URL.RawPath
	defer func() {
		c.Request.URL.Path, c.Request.URL.RawPath = path, rawPath
		if rec := recover(); rec != nil {
			err = fmt.Errorf("error handler panicked: %w", asError(rec))
		}
	}()

	h.resetHeaders(w.Header())
	c.Status(http.StatusInternalServerError)
	w.Header().Set("Content-Type", contentTypeJSON)

	res = h.resolver.Resolve(failure)

	body, err := h.encoder.Marshal(res.Body)
	if err != nil {
		return res, fmt.Errorf("encode error body: %w", err)
	}
	if err := c.Request.Context().Err(); err != nil {
		return res, fmt.Errorf("write error body: %w", err)
	}

	c.Status(res.StatusCode)
	if !w.OnStarting(noCacheHeaders) {
		return res, errors.New("response started before the error body was written")
	}
	if _, err := w.Write(body); err != nil {
		return res, fmt.Errorf("write error body: %w", err)
	}
	return res, nil
}

func (h *exceptionHandler) resetHeaders(hdr http.Header) {
	for name := range hdr {
		if h.preserved(name) {
			continue
		}
		delete(hdr, name)
	}
}

func (h *exceptionHandler) preserved(name string) bool {
	name = http.CanonicalHeaderKey(name)
	if _, ok := h.keep[name]; ok {
		return true
	}
	for _, p := range h.keepPfx {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// noCacheHeaders runs right before an error response is sent so that nothing
// the failed request set earlier can make it cacheable.
func noCacheHeaders(h http.Header) {
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "-1")
	h.Del("ETag")
}

// report emits the log line, metrics, and span data for a handled failure and
// records an incident for unmapped ones.
func (h *exceptionHandler) report(c *gin.Context, f *failure, res resolve.Resolution) {
	lg := LoggerFrom(c)
	msg := h.redact(res.Message)
	span := trace.SpanFromContext(c.Request.Context())
	span.RecordError(errors.New(msg), trace.WithAttributes(
		attribute.String("exception.type", registry.KeyOf(f.err).String()),
	))

	if res.Mapped {
		lg.Error().
			Int("status", res.StatusCode).
			Str("mapping", res.Key.String()).
			Msgf("An exception has occurred: %s", msg)
		recordOutcome(outcomeMapped, res.StatusCode)
		return
	}

	span.SetStatus(codes.Error, msg)
	span.SetAttributes(attribute.String("error.code", res.ErrorCode))

	ev := lg.Error().
		Str("error_code", res.ErrorCode).
		Str("error_type", registry.KeyOf(f.err).String())
	if f.stack != nil {
		ev = ev.Bytes("stack", f.stack)
	}
	ev.Msgf("An unhandled exception has occurred [%s]: %s", res.ErrorCode, msg)
	recordOutcome(outcomeUnmapped, res.StatusCode)

	h.recordIncident(c, f.err, res)
}

func (h *exceptionHandler) recordIncident(c *gin.Context, failure error, res resolve.Resolution) {
	if h.incidents == nil {
		return
	}
	rid, _ := c.Get(requestIDKey)
	inc := &domain.Incident{
		ID:         uuid.NewString(),
		ErrorCode:  res.ErrorCode,
		StatusCode: res.StatusCode,
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		RequestID:  asString(rid),
		ErrorType:  registry.KeyOf(failure).String(),
		Message:    h.redact(res.Message),
		CreatedAt:  time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), incidentTimeout)
	defer cancel()
	ctx, span := observability.Tracer().Start(ctx, "exception_handler.record_incident",
		trace.WithAttributes(attribute.String("error.code", res.ErrorCode)))
	defer span.End()

	if err := h.incidents.RecordIncident(ctx, inc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record incident")
		LoggerFrom(c).Warn().Err(err).Str("error_code", res.ErrorCode).Msg("record incident")
	}
}
