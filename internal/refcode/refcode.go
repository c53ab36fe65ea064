// Package refcode derives the human-facing reference code shown on the
// dashboard from a booking's opaque id. The derivation is deterministic so a
// booking that was created without a code can always be backfilled.
package refcode

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

const prefix = "BK"

var codePattern = regexp.MustCompile(`^BK-[0-9A-F]{8}$`)

// FromID derives the reference code for a booking id.
func FromID(id string) string {
	h := fnv.New32a()
	h.Write([]byte(id))
	return fmt.Sprintf("%s-%08X", prefix, h.Sum32())
}

// Valid reports whether s has the shape of a derived reference code.
func Valid(s string) bool {
	return codePattern.MatchString(strings.ToUpper(s))
}
