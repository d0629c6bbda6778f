package ingest

import (
	"math/rand"
	"time"
)

// backoffBase and backoffCap implement the throttled/transient backoff
// policy: exponential with jitter, base 250ms, cap 8s.
const (
	backoffBase = 250 * time.Millisecond
	backoffCap  = 8 * time.Second
	maxAttempts = 5
)

// backoff returns the delay before retry attempt n (0-indexed), with full
// jitter in [0, min(cap, base*2^n)).
func backoff(attempt int) time.Duration {
	d := backoffBase << attempt
	if d <= 0 || d > backoffCap {
		d = backoffCap
	}
	return time.Duration(rand.Int63n(int64(d)))
}
