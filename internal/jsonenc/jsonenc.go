// Package jsonenc provides the JSON serializer used for error response bodies.
//
// It is a frozen json-iterator configuration with two extensions:
//   - time.Time values are written with a configurable layout (RFC 3339 by
//     default) and normalized to UTC;
//   - exported struct fields without a json tag name are written in camelCase,
//     so operator-supplied bodies built from plain Go structs still match the
//     camelCase wire convention of the error envelope.
//
// Map keys are sorted so bodies are byte-stable across runs.
package jsonenc

import (
	"reflect"
	"strings"
	"time"
	"unicode"
	"unsafe"

	jsoniter "github.com/json-iterator/go"
	"github.com/modern-go/reflect2"
)

// Config is the encoding configuration surface.
type Config struct {
	TimeFormat string // Go layout; empty means time.RFC3339Nano
	UTC        bool   // convert times to UTC before formatting
	CamelCase  bool   // camelCase names for untagged exported fields
	EscapeHTML bool   // escape <, >, & inside strings
}

// DefaultConfig returns ISO-8601 (RFC 3339) times in UTC with camelCase field
// naming.
func DefaultConfig() Config {
	return Config{
		TimeFormat: time.RFC3339Nano,
		UTC:        true,
		CamelCase:  true,
	}
}

// Encoder serializes values according to a Config. It is safe for concurrent
// use.
type Encoder struct {
	api jsoniter.API
	cfg Config
}

// New freezes a json-iterator API for cfg.
func New(cfg Config) *Encoder {
	if strings.TrimSpace(cfg.TimeFormat) == "" {
		cfg.TimeFormat = time.RFC3339Nano
	}
	api := jsoniter.Config{
		EscapeHTML:             cfg.EscapeHTML,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
	}.Froze()
	api.RegisterExtension(&timeExtension{layout: cfg.TimeFormat, utc: cfg.UTC})
	if cfg.CamelCase {
		api.RegisterExtension(&camelCaseExtension{})
	}
	return &Encoder{api: api, cfg: cfg}
}

// Config returns the effective configuration.
func (e *Encoder) Config() Config { return e.cfg }

// Marshal encodes v.
func (e *Encoder) Marshal(v any) ([]byte, error) {
	return e.api.Marshal(v)
}

var timeType = reflect.TypeOf(time.Time{})

type timeExtension struct {
	jsoniter.DummyExtension
	layout string
	utc    bool
}

func (x *timeExtension) CreateEncoder(typ reflect2.Type) jsoniter.ValEncoder {
	if typ.Type1() != timeType {
		return nil
	}
	return &timeEncoder{layout: x.layout, utc: x.utc}
}

type timeEncoder struct {
	layout string
	utc    bool
}

func (enc *timeEncoder) IsEmpty(ptr unsafe.Pointer) bool {
	return (*time.Time)(ptr).IsZero()
}

func (enc *timeEncoder) Encode(ptr unsafe.Pointer, stream *jsoniter.Stream) {
	t := *(*time.Time)(ptr)
	if enc.utc {
		t = t.UTC()
	}
	stream.WriteString(t.Format(enc.layout))
}

type camelCaseExtension struct {
	jsoniter.DummyExtension
}

func (x *camelCaseExtension) UpdateStructDescriptor(sd *jsoniter.StructDescriptor) {
	for _, b := range sd.Fields {
		name := b.Field.Name()
		if name == "" || !unicode.IsUpper(rune(name[0])) {
			continue
		}
		if tag, ok := b.Field.Tag().Lookup("json"); ok {
			if n, _, _ := strings.Cut(tag, ","); n != "" {
				// "-" and explicit names are left alone
				continue
			}
		}
		b.ToNames = []string{camelCase(name)}
		b.FromNames = []string{camelCase(name)}
	}
}

// camelCase lowercases the leading run of capitals, keeping the last capital
// of an acronym that starts a new word: ID → id, URLPath → urlPath,
// OrderID → orderID.
func camelCase(s string) string {
	r := []rune(s)
	for i := range r {
		if i == 1 && !unicode.IsUpper(r[i]) {
			break
		}
		if i > 0 && i+1 < len(r) && !unicode.IsUpper(r[i+1]) {
			break
		}
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}
