// Package uid provides identifier generation for sweeps.
package uid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New generates a 32-character hex string suitable for use as a unique
// identifier using crypto/rand.
func New() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Fallback: timestamp-based ID. Should never happen with crypto/rand.
		return fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// SweepID returns a sortable sweep identifier: the UTC start time followed
// by 8 random hex characters, e.g. "20261014T093000Z-3f9a1c0e".
func SweepID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + New()[:8]
}
