// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides a phase-aware wrapper around gin.ResponseWriter. Gin
// writes headers lazily: status and header changes stay mutable until the
// first body write (or an explicit WriteHeaderNow/Flush). The wrapper exposes
// that boundary as a Phase and lets callers register OnStarting hooks that
// run immediately before headers reach the client, which is the only moment
// a handler can still override headers set by code that ran earlier.
package middleware

import (
	"bufio"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Phase is the transmission state of a response.
type Phase int

const (
	// PhaseNotStarted means status and headers are still mutable.
	PhaseNotStarted Phase = iota
	// PhaseStarting means OnStarting hooks are running.
	PhaseStarting
	// PhaseStarted means headers have been sent.
	PhaseStarted
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseStarting:
		return "starting"
	default:
		return "started"
	}
}

// sendHookWriter wraps gin.ResponseWriter with a phase marker and pre-send
// hooks. It is used by a single request goroutine and is not safe for
// concurrent use.
type sendHookWriter struct {
	gin.ResponseWriter
	hooks  []func(http.Header)
	firing bool
	fired  bool
}

var _ gin.ResponseWriter = (*sendHookWriter)(nil)

// newSendHookWriter wraps w. A w that is already a *sendHookWriter is
// returned unchanged so nested interceptors share one hook list.
func newSendHookWriter(w gin.ResponseWriter) *sendHookWriter {
	if hw, ok := w.(*sendHookWriter); ok {
		return hw
	}
	return &sendHookWriter{ResponseWriter: w}
}

// Phase reports the transmission state.
func (w *sendHookWriter) Phase() Phase {
	switch {
	case w.firing:
		return PhaseStarting
	case w.ResponseWriter.Written():
		return PhaseStarted
	default:
		return PhaseNotStarted
	}
}

// OnStarting registers fn to run once, before headers are sent. It returns
// false (and drops fn) when the response has already started.
func (w *sendHookWriter) OnStarting(fn func(http.Header)) bool {
	if w.fired || w.ResponseWriter.Written() {
		return false
	}
	w.hooks = append(w.hooks, fn)
	return true
}

func (w *sendHookWriter) fire() {
	if w.fired || w.ResponseWriter.Written() {
		return
	}
	w.fired = true
	w.firing = true
	defer func() { w.firing = false }()

	h := w.ResponseWriter.Header()
	for _, fn := range w.hooks {
		fn(h)
	}
	w.hooks = nil
}

func (w *sendHookWriter) Write(b []byte) (int, error) {
	w.fire()
	return w.ResponseWriter.Write(b)
}

func (w *sendHookWriter) WriteString(s string) (int, error) {
	w.fire()
	return w.ResponseWriter.WriteString(s)
}

func (w *sendHookWriter) WriteHeaderNow() {
	w.fire()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *sendHookWriter) Flush() {
	w.fire()
	w.ResponseWriter.Flush()
}

func (w *sendHookWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	// A hijacked connection bypasses HTTP framing; hooks can no longer apply.
	w.fired = true
	w.hooks = nil
	return w.ResponseWriter.Hijack()
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *sendHookWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
