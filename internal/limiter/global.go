// Package limiter bounds aggregate request throughput for the whole
// process, before any credential work happens, so it also caps load from
// anonymous traffic.
package limiter

import (
	"errors"

	"golang.org/x/time/rate"
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Global is a single process-wide token bucket. Allow is non-blocking:
// it either consumes a token or rejects immediately; there is no
// queueing.
type Global struct {
	bucket *rate.Limiter
}

// NewGlobal builds a bucket refilled at permitsPerSecond. burst caps the
// bucket; if <= 0 it defaults to the refill rate.
func NewGlobal(permitsPerSecond float64, burst int) *Global {
	if burst <= 0 {
		burst = int(permitsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Global{bucket: rate.NewLimiter(rate.Limit(permitsPerSecond), burst)}
}

// Allow consumes one token if available.
func (g *Global) Allow() bool {
	return g.bucket.Allow()
}
