package httpclient

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// GenerateCoalesceKey creates the fingerprint of a request.
// Key = SHA256(method | url | body hash | raw).
//
// rawURL is used exactly as it goes on the wire. It is not decoded or
// reordered, so two keys match only when the requests are identical.
func GenerateCoalesceKey(method, rawURL string, body []byte, raw bool) string {
	keyParts := []string{method, rawURL}

	if len(body) > 0 {
		bodyHash := sha256.Sum256(body)
		keyParts = append(keyParts, hex.EncodeToString(bodyHash[:]))
	} else {
		keyParts = append(keyParts, "")
	}
	keyParts = append(keyParts, strconv.FormatBool(raw))

	return hashString(strings.Join(keyParts, "|"))
}

// hashString creates a SHA256 hash of the input string.
func hashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}

// Deduplicator shares one execution between concurrent calls with the
// same key.
//
// An entry exists only while its execution runs; callers arriving after it
// settled start a new one. Nothing is cached.
type Deduplicator struct {
	group singleflight.Group

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewDeduplicator returns an empty Deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{pending: make(map[string]time.Time)}
}

// Do runs fn for key unless a call for key is already running, in which
// case it waits for that call. Result.Shared reports whether the result
// was delivered to more than one caller.
func (d *Deduplicator) Do(key string, fn func() (any, error)) <-chan singleflight.Result {
	return d.group.DoChan(key, func() (any, error) {
		d.mu.Lock()
		d.pending[key] = time.Now()
		d.mu.Unlock()

		defer func() {
			d.mu.Lock()
			delete(d.pending, key)
			d.mu.Unlock()
		}()

		return fn()
	})
}

// Pending returns the keys in flight and when each execution started.
func (d *Deduplicator) Pending() map[string]time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]time.Time, len(d.pending))
	for k, v := range d.pending {
		out[k] = v
	}
	return out
}

// Len returns the number of executions in flight.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
