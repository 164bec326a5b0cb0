// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package session

import (
	"fmt"
	"math/rand"
	"regexp"
	"time"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// idPattern bounds externally supplied ids (path params, correlation
// tokens). Room names derive from ids, so the charset stays conservative.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// NewID generates a unique session id: millisecond timestamp plus a short
// random suffix, e.g. session_1756000000000_k3x9f0q2m.
func NewID() string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), suffix)
}

// ValidID reports whether an externally supplied id is acceptable.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
