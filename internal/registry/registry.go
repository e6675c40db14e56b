// Package registry holds the operator's explicit decisions about how specific
// failures are rendered to HTTP clients.
//
// A Registry maps an error identity (Key) to an ExceptionResponse. It is
// constructed once at process setup, injected into the exception handler, and
// is safe for concurrent Register and Lookup calls at any later time.
//
// Usage:
//
//	reg := registry.New()
//	registry.MapMessage[*handlers.ArgumentNullError](reg, http.StatusBadRequest, "Parameter required")
//	registry.MapBody[*handlers.KeyNotFoundError](reg, http.StatusNotFound, gin.H{"reason": "missing"})
//	registry.MapSentinel(reg, repo.ErrNotFound, http.StatusNotFound, "")
package registry

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Key identifies a class of failures. It is either the dynamic type of an
// error (TypeOf, KeyOf) or a specific comparable error value (Sentinel).
//
// The zero Key matches nothing and is rejected by Register.
type Key struct {
	typ      reflect.Type
	sentinel error
}

// TypeOf returns the type key for E. E is usually a pointer to a struct error
// type, e.g. TypeOf[*MyError]().
func TypeOf[E error]() Key {
	return Key{typ: reflect.TypeFor[E]()}
}

// KeyOf returns the type key for the dynamic type of err. A nil err yields the
// zero Key.
func KeyOf(err error) Key {
	if err == nil {
		return Key{}
	}
	return Key{typ: reflect.TypeOf(err)}
}

// Sentinel returns a key matching err by identity. Go sentinel errors created
// with errors.New share one dynamic type, so they need value keys to be told
// apart. Non-comparable values (including structs holding slices behind
// interface fields) cannot be map keys; for those the type key is returned.
func Sentinel(err error) Key {
	if err == nil {
		return Key{}
	}
	t := reflect.TypeOf(err)
	if !reflect.ValueOf(err).Comparable() {
		return Key{typ: t}
	}
	return Key{typ: t, sentinel: err}
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool { return k.typ == nil }

// IsSentinel reports whether k matches a specific error value.
func (k Key) IsSentinel() bool { return k.sentinel != nil }

// String renders the key for logs, e.g. "*handlers.CustomError" or
// `sentinel *errors.errorString("record not found")`.
func (k Key) String() string {
	switch {
	case k.typ == nil:
		return "<none>"
	case k.sentinel != nil:
		return fmt.Sprintf("sentinel %s(%q)", k.typ, k.sentinel.Error())
	default:
		return k.typ.String()
	}
}

// ExceptionResponse is an operator decision for one failure class. It is
// immutable once constructed.
type ExceptionResponse struct {
	statusCode int
	message    string
	body       any
}

// NewExceptionResponse builds an ExceptionResponse. An empty message and a nil
// body mean "not set".
func NewExceptionResponse(statusCode int, message string, body any) ExceptionResponse {
	return ExceptionResponse{statusCode: statusCode, message: message, body: body}
}

// StatusCode is the HTTP status written for the failure.
func (r ExceptionResponse) StatusCode() int { return r.statusCode }

// Message is the client-facing message, empty when not set.
func (r ExceptionResponse) Message() string { return r.message }

// Body is the opaque JSON body, nil when not set.
func (r ExceptionResponse) Body() any { return r.body }

// HasBody reports whether an opaque body was configured.
func (r ExceptionResponse) HasBody() bool { return r.body != nil }

// Registry is a concurrent Key → ExceptionResponse map. At most one entry
// exists per key; registering an existing key replaces the entry in a single
// locked assignment, so readers see either the old or the new value.
//
// The zero value is not usable; construct with New.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]ExceptionResponse
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[Key]ExceptionResponse)}
}

// Register installs (or replaces) the response for key.
//
// It panics when key is zero or statusCode is not a valid HTTP status
// (100–599). Both are setup-time programming errors.
func (r *Registry) Register(key Key, statusCode int, message string, body any) {
	if key.IsZero() {
		panic("registry: Register called with zero key")
	}
	if statusCode < 100 || statusCode > 599 {
		panic(fmt.Sprintf("registry: invalid status code %d for %s", statusCode, key))
	}
	resp := NewExceptionResponse(statusCode, message, body)

	r.mu.Lock()
	r.entries[key] = resp
	r.mu.Unlock()
}

// Lookup returns the response registered for key. A missing key is a normal
// outcome, reported through ok.
func (r *Registry) Lookup(key Key) (resp ExceptionResponse, ok bool) {
	r.mu.RLock()
	resp, ok = r.entries[key]
	r.mu.RUnlock()
	return resp, ok
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Keys returns a snapshot of the registered keys ordered by their string form.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Map registers E with a status code only. The response body falls back to
// the failure's own message.
func Map[E error](r *Registry, statusCode int) {
	r.Register(TypeOf[E](), statusCode, "", nil)
}

// MapMessage registers E with a status code and a fixed client message.
func MapMessage[E error](r *Registry, statusCode int, message string) {
	r.Register(TypeOf[E](), statusCode, message, nil)
}

// MapBody registers E with a status code and an opaque JSON body that is
// written verbatim.
func MapBody[E error](r *Registry, statusCode int, body any) {
	r.Register(TypeOf[E](), statusCode, "", body)
}

// MapSentinel registers a specific error value with a status code and an
// optional message.
func MapSentinel(r *Registry, err error, statusCode int, message string) {
	r.Register(Sentinel(err), statusCode, message, nil)
}

// MapSentinelBody registers a specific error value with a status code and an
// opaque JSON body.
func MapSentinelBody(r *Registry, err error, statusCode int, body any) {
	r.Register(Sentinel(err), statusCode, "", body)
}
