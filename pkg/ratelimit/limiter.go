// Package ratelimit implements the token-bucket admission gate shared by all
// outbound Alma API calls. The Alma API enforces a hard per-institution
// request rate; every call acquires a token here before touching the network.
package ratelimit

import (
	"context"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limit admission.
var (
	almaRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "alma_rate_limit_wait_seconds",
		Help:    "Time spent waiting for rate limit admission",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	almaRateLimitAdmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alma_rate_limit_admissions_total",
		Help: "Total requests admitted by the rate limiter",
	})
)

// Default admission parameters for the Alma API (10 requests per second per
// institution, enforced server-side).
const (
	DefaultRate      = 10
	DefaultJitterMax = 75 * time.Millisecond
)

// Limiter gates outbound requests to a fixed admission rate. After the
// bucket admits a caller, a small random jitter is added to desynchronize
// goroutines that were waiting on the same refill. Safe for use by any
// number of concurrent goroutines; rate pressure only ever delays a caller,
// it never rejects one.
type Limiter struct {
	bucket    *rate.Limiter
	jitterMax time.Duration
}

// New creates a Limiter admitting perSecond requests per second, with bursts
// of up to perSecond tokens. Non-positive arguments fall back to the Alma
// defaults.
func New(perSecond int, jitterMax time.Duration) *Limiter {
	if perSecond <= 0 {
		perSecond = DefaultRate
	}
	if jitterMax <= 0 {
		jitterMax = DefaultJitterMax
	}
	return &Limiter{
		bucket:    rate.NewLimiter(rate.Limit(perSecond), perSecond),
		jitterMax: jitterMax,
	}
}

// NewDefault returns a limiter with the Alma default parameters.
func NewDefault() *Limiter {
	return New(DefaultRate, DefaultJitterMax)
}

// Acquire blocks until a token is available, then sleeps up to jitterMax
// longer. The only error case is a cancelled context; batch runs pass
// context.Background() and therefore always get a token eventually.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()

	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}

	jitter := time.Duration(rand.Int63n(int64(l.jitterMax)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
	}

	almaRateLimitWaitSeconds.Observe(time.Since(start).Seconds())
	almaRateLimitAdmissionsTotal.Inc()
	return nil
}
