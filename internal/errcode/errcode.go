// Package errcode generates short correlation codes for failures that have no
// explicit response mapping. A code is embedded both in the client-visible
// error body and in the matching server log line so support staff can grep
// for it.
package errcode

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// DefaultPrefix is prepended to generated codes when no prefix is configured.
const DefaultPrefix = "ERR_"

// codeLen is the number of hex characters appended to the prefix.
const codeLen = 8

// Generator produces a correlation code for the given prefix.
type Generator func(prefix string) string

// newUUID is a test seam over the entropy source.
var newUUID = uuid.New

// Generate returns prefix followed by 8 uppercase hexadecimal characters
// taken from a fresh random (v4) UUID.
//
// Codes are statistically unique, not guaranteed unique: 32 bits of a random
// UUID give a negligible collision rate for log correlation purposes.
func Generate(prefix string) string {
	u := newUUID()
	return prefix + strings.ToUpper(hex.EncodeToString(u[:codeLen/2]))
}

// Pattern returns a regexp matching exactly the codes Generate produces for
// prefix.
func Pattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `[0-9A-F]{8}$`)
}
