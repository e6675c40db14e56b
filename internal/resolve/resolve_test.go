package resolve

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-exception-handler/internal/errcode"
	"github.com/tbourn/go-exception-handler/internal/registry"
)

type argumentNullError struct{ param string }

func (e *argumentNullError) Error() string {
	return "Value cannot be null.\nParameter name: " + e.param
}

type keyNotFoundError struct{}

func (keyNotFoundError) Error() string { return "the given key was not present" }

type customError struct{}

func (*customError) Error() string { return "custom failure" }

func fixedCode(code string) errcode.Generator {
	return func(prefix string) string { return prefix + code }
}

func TestResolve_MappedMessage(t *testing.T) {
	reg := registry.New()
	registry.MapMessage[*argumentNullError](reg, http.StatusBadRequest, "Parameter required")

	res := New(reg, Defaults{ErrorCodePrefix: "ERR_"}).Resolve(&argumentNullError{param: "param"})

	assert.True(t, res.Mapped)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Empty(t, res.ErrorCode)
	assert.Equal(t, registry.TypeOf[*argumentNullError](), res.Key)
	assert.Equal(t, ErrorOutput{Message: "Parameter required"}, res.Body)
}

func TestResolve_MappedPrecedence(t *testing.T) {
	body := map[string]any{"reason": "missing"}

	cases := []struct {
		name    string
		message string
		body    any
		want    any
	}{
		{"message wins over body", "explicit", body, ErrorOutput{Message: "explicit"}},
		{"blank message falls to body", "  \t", body, body},
		{"body verbatim", "", body, body},
		{"failure message flattened", "", nil, ErrorOutput{Message: "Value cannot be null. Parameter name: p"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := registry.New()
			reg.Register(registry.TypeOf[*argumentNullError](), http.StatusBadRequest, tc.message, tc.body)

			res := New(reg, Defaults{}).Resolve(&argumentNullError{param: "p"})
			assert.Equal(t, tc.want, res.Body)
			assert.Empty(t, res.ErrorCode, "mapped failures never get a correlation code")
		})
	}
}

func TestResolve_Unmapped(t *testing.T) {
	reg := registry.New()
	registry.Map[keyNotFoundError](reg, http.StatusNotFound)

	res := New(reg, Defaults{ErrorCodePrefix: "ERR_"}).Resolve(&customError{})

	require.False(t, res.Mapped)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Regexp(t, errcode.Pattern("ERR_"), res.ErrorCode)
	assert.True(t, res.Key.IsZero())

	out, ok := res.Body.(ErrorOutput)
	require.True(t, ok)
	require.NotNil(t, out.ErrorCode)
	assert.Equal(t, res.ErrorCode, *out.ErrorCode)
	assert.Equal(t, DefaultErrorMessage, out.Message)
	assert.Equal(t, "custom failure", res.Message)
}

func TestResolve_UnmappedUsesConfiguredDefaults(t *testing.T) {
	r := New(registry.New(), Defaults{ErrorCodePrefix: "SUP-", DefaultErrorMessage: "call support"},
		WithGenerator(fixedCode("3F9A21B0")))

	res := r.Resolve(errors.New("boom"))
	out := res.Body.(ErrorOutput)
	assert.Equal(t, "SUP-3F9A21B0", *out.ErrorCode)
	assert.Equal(t, "call support", out.Message)
	assert.Equal(t, "SUP-", r.Defaults().ErrorCodePrefix)
}

func TestResolve_WalksWrappedChain(t *testing.T) {
	reg := registry.New()
	registry.Map[keyNotFoundError](reg, http.StatusNotFound)

	wrapped := fmt.Errorf("loading order: %w", keyNotFoundError{})
	res := New(reg, Defaults{}).Resolve(wrapped)
	assert.True(t, res.Mapped)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, ErrorOutput{Message: "loading order: the given key was not present"}, res.Body,
		"fallback message comes from the outermost failure")

	joined := errors.Join(errors.New("first"), fmt.Errorf("second: %w", keyNotFoundError{}))
	assert.True(t, New(reg, Defaults{}).Resolve(joined).Mapped)
}

func TestResolve_SentinelBeforeType(t *testing.T) {
	errGone := errors.New("gone")
	reg := registry.New()
	registry.MapSentinel(reg, errGone, http.StatusGone, "resource gone")

	r := New(reg, Defaults{})
	res := r.Resolve(fmt.Errorf("fetch: %w", errGone))
	assert.Equal(t, http.StatusGone, res.StatusCode)
	assert.True(t, res.Key.IsSentinel())

	assert.False(t, r.Resolve(errors.New("gone")).Mapped, "same text, different value")
}

func TestResolve_OuterMappingWins(t *testing.T) {
	reg := registry.New()
	registry.Map[keyNotFoundError](reg, http.StatusNotFound)
	registry.MapMessage[*argumentNullError](reg, http.StatusBadRequest, "outer")

	err := &wrapping{outer: &argumentNullError{}, inner: keyNotFoundError{}}
	res := New(reg, Defaults{}).Resolve(err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode, "wrapping type itself is unmapped, its cause is")

	registry.Map[*wrapping](reg, http.StatusConflict)
	res = New(reg, Defaults{}).Resolve(err)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}

type wrapping struct {
	outer error
	inner error
}

func (w *wrapping) Error() string { return w.outer.Error() }
func (w *wrapping) Unwrap() error { return w.inner }

func TestFlatten(t *testing.T) {
	assert.Equal(t, "a b c d", flatten("a\r\nb\nc\rd"))
	assert.Equal(t, "single", flatten("single"))
}
