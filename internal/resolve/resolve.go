// Package resolve turns a failure into the status code and body an HTTP client
// receives. It is a pure policy over a registry lookup and process defaults:
//
//   - Mapped failures use the registered status. The body is the registered
//     message when non-blank, else the registered opaque body, else the
//     failure's own message flattened onto one line. No correlation code.
//   - Unmapped failures get 500, a generated correlation code, and the default
//     message.
package resolve

import (
	"strings"

	"github.com/tbourn/go-exception-handler/internal/errcode"
	"github.com/tbourn/go-exception-handler/internal/registry"
)

// DefaultErrorMessage is the client message for unmapped failures.
const DefaultErrorMessage = "An unhandled exception has occurred, please check the log for details."

// ErrorOutput is the wire shape of an error response. ErrorCode is nil for
// mapped failures and serializes as JSON null.
type ErrorOutput struct {
	ErrorCode *string `json:"errorCode"`
	Message   string  `json:"message"`
}

// Defaults holds the process-wide settings used for unmapped failures.
type Defaults struct {
	ErrorCodePrefix     string
	DefaultErrorMessage string
}

// Lookuper is the read side of a registry.
type Lookuper interface {
	Lookup(key registry.Key) (registry.ExceptionResponse, bool)
}

// Resolution is the outcome of resolving one failure.
type Resolution struct {
	StatusCode int
	// Body is either an ErrorOutput or an operator-supplied opaque value.
	Body any
	// Mapped reports whether a registry entry matched.
	Mapped bool
	// Key is the registry key that matched; zero when unmapped.
	Key registry.Key
	// ErrorCode is the generated correlation code; empty when mapped.
	ErrorCode string
	// Message is the failure message with line breaks flattened, for logs.
	Message string
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithGenerator replaces the correlation code generator.
func WithGenerator(g errcode.Generator) Option {
	return func(r *Resolver) {
		if g != nil {
			r.generate = g
		}
	}
}

// Resolver applies the response precedence policy. It holds no mutable state
// of its own and is safe for concurrent use when its Lookuper is.
type Resolver struct {
	lookup   Lookuper
	defaults Defaults
	generate errcode.Generator
}

// New returns a Resolver over lookup. An empty DefaultErrorMessage is replaced
// with DefaultErrorMessage; the prefix is used as given (an empty prefix is
// allowed).
func New(lookup Lookuper, d Defaults, opts ...Option) *Resolver {
	if strings.TrimSpace(d.DefaultErrorMessage) == "" {
		d.DefaultErrorMessage = DefaultErrorMessage
	}
	r := &Resolver{lookup: lookup, defaults: d, generate: errcode.Generate}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Defaults returns the settings the Resolver was built with.
func (r *Resolver) Defaults() Defaults { return r.defaults }

// Resolve computes the response for err. err must be non-nil.
func (r *Resolver) Resolve(err error) Resolution {
	msg := flatten(err.Error())

	if entry, key, ok := r.match(err); ok {
		res := Resolution{
			StatusCode: entry.StatusCode(),
			Mapped:     true,
			Key:        key,
			Message:    msg,
		}
		switch {
		case strings.TrimSpace(entry.Message()) != "":
			res.Body = ErrorOutput{Message: entry.Message()}
		case entry.HasBody():
			res.Body = entry.Body()
		default:
			res.Body = ErrorOutput{Message: msg}
		}
		return res
	}

	code := r.generate(r.defaults.ErrorCodePrefix)
	return Resolution{
		StatusCode: 500,
		Body:       ErrorOutput{ErrorCode: &code, Message: r.defaults.DefaultErrorMessage},
		ErrorCode:  code,
		Message:    msg,
	}
}

// match walks err and its wrapped causes depth-first (the order errors.Is
// uses) and returns the first registry hit. At each node a sentinel key is
// tried before the type key.
func (r *Resolver) match(err error) (registry.ExceptionResponse, registry.Key, bool) {
	for err != nil {
		if k := registry.Sentinel(err); k.IsSentinel() {
			if entry, ok := r.lookup.Lookup(k); ok {
				return entry, k, true
			}
		}
		k := registry.KeyOf(err)
		if entry, ok := r.lookup.Lookup(k); ok {
			return entry, k, true
		}

		switch u := err.(type) {
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				if e == nil {
					continue
				}
				if entry, key, ok := r.match(e); ok {
					return entry, key, true
				}
			}
			return registry.ExceptionResponse{}, registry.Key{}, false
		default:
			err = nil
		}
	}
	return registry.ExceptionResponse{}, registry.Key{}, false
}

// flatten replaces line breaks with single spaces so a multi-line failure
// message fits a one-line JSON field.
func flatten(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}
