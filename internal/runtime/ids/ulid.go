package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// Used for context tokens and internal connection handles.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// ObfuscatedID returns a random stand-in for a real identifier. Unlike ULIDs
// it carries no timestamp, so it reveals nothing about when it was minted.
func ObfuscatedID() string {
	return uuid.NewString()
}

// Unique draws ids from next until taken reports false, giving up after a
// bounded number of attempts.
func Unique(next func() string, taken func(string) bool) (string, bool) {
	for range 8 {
		id := next()
		if !taken(id) {
			return id, true
		}
	}
	return "", false
}
