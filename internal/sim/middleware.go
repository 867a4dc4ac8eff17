package sim

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	visitorSweepEvery = 5 * time.Minute
	visitorStaleAfter = 15 * time.Minute
)

// visitors tracks one token bucket per client IP for the abuse-prone
// endpoints (token issuing, session creation). Buckets for IPs idle longer
// than visitorStaleAfter are swept in the background until ctx is cancelled.
type visitors struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	seen    map[string]time.Time

	perSecond float64
	burst     int
}

func newVisitors(ctx context.Context, perSecond float64, burst int) *visitors {
	v := &visitors{
		buckets:   make(map[string]*rate.Limiter),
		seen:      make(map[string]time.Time),
		perSecond: perSecond,
		burst:     burst,
	}
	go v.sweep(ctx)
	return v
}

func (v *visitors) allow(ip string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	bucket, ok := v.buckets[ip]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(v.perSecond), v.burst)
		v.buckets[ip] = bucket
	}
	v.seen[ip] = time.Now()
	return bucket.Allow()
}

func (v *visitors) sweep(ctx context.Context) {
	ticker := time.NewTicker(visitorSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			v.mu.Lock()
			for ip, last := range v.seen {
				if now.Sub(last) > visitorStaleAfter {
					delete(v.buckets, ip)
					delete(v.seen, ip)
				}
			}
			v.mu.Unlock()
		}
	}
}

// perIPThrottle rejects requests exceeding the per-IP rate with 429.
func perIPThrottle(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	v := newVisitors(ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.allow(r.RemoteAddr) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
