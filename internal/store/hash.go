package store

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// HashEvent computes SHA-256 of the normalized title, start and location.
//
// Two events with the same title at the same place and minute hash the same,
// which is what import deduplication wants. Descriptions are ignored.
func HashEvent(title string, start time.Time, location string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(title))))
	h.Write([]byte{0}) // separator
	h.Write([]byte(start.UTC().Format("2006-01-02 15:04")))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(location))))
	return fmt.Sprintf("%x", h.Sum(nil))
}
