package connectors

import (
	"context"
	"math"
	"time"

	"portfoliodoctor/src/metrics"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Bucket string

const (
	BucketGeneral Bucket = "general"
	BucketOrder   Bucket = "order"
)

// LimitSpec is a venue limit of Limit requests per Window, of which only
// (1-Margin) is used.
type LimitSpec struct {
	Limit  int
	Window time.Duration
	Margin float64
}

// Capacity is the number of requests we allow ourselves per window.
func (s LimitSpec) Capacity() int {
	c := int(math.Floor(float64(s.Limit) * (1 - s.Margin)))
	if c < 1 {
		c = 1
	}
	return c
}

// newLimiter splits the capacity between an initial burst and a steady
// refill so that any window of length Window admits at most Capacity tokens.
func newLimiter(s LimitSpec) *rate.Limiter {
	capacity := s.Capacity()
	burst := capacity / 2
	if burst < 1 {
		burst = 1
	}
	refill := capacity - burst
	if refill < 1 {
		refill = 1
	}
	window := s.Window
	if window <= 0 {
		window = time.Second
	}
	return rate.NewLimiter(rate.Limit(float64(refill)/window.Seconds()), burst)
}

// RateLimiter holds one token bucket per endpoint category of an exchange.
type RateLimiter struct {
	exchange string
	buckets  map[Bucket]*rate.Limiter
	maxWait  time.Duration
}

func NewRateLimiter(exchange string, specs map[Bucket]LimitSpec, maxWait time.Duration) *RateLimiter {
	rl := &RateLimiter{
		exchange: exchange,
		buckets:  make(map[Bucket]*rate.Limiter, len(specs)),
		maxWait:  maxWait,
	}
	for b, s := range specs {
		rl.buckets[b] = newLimiter(s)
	}
	return rl
}

// Acquire takes one token from bucket b. It waits at most maxWait, and never
// past the context deadline; otherwise it fails with RateLimited without
// consuming a token.
func (rl *RateLimiter) Acquire(ctx context.Context, b Bucket) error {
	l, ok := rl.buckets[b]
	if !ok {
		l, ok = rl.buckets[BucketGeneral]
	}
	if !ok {
		return nil
	}

	start := time.Now()
	res := l.Reserve()
	if !res.OK() {
		return rl.reject(b, 0)
	}

	delay := res.Delay()
	if delay == 0 {
		metrics.RateLimitWait.WithLabelValues(string(b)).Observe(0)
		return nil
	}
	if delay > rl.maxWait {
		res.Cancel()
		return rl.reject(b, delay)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
		res.Cancel()
		return rl.reject(b, delay)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		metrics.ObserveSince(metrics.RateLimitWait.WithLabelValues(string(b)), start)
		return nil
	case <-ctx.Done():
		res.Cancel()
		return classifyTransport(rl.exchange, ctx.Err())
	}
}

func (rl *RateLimiter) reject(b Bucket, delay time.Duration) error {
	metrics.RateLimitRejected.WithLabelValues(string(b)).Inc()
	logger.WithFields(map[string]interface{}{
		"exchange": rl.exchange,
		"bucket":   b,
		"delay":    delay.String(),
		"max_wait": rl.maxWait.String(),
	}).Warn("rate limit budget exhausted")
	return &Error{
		Kind:     KindRateLimited,
		Exchange: rl.exchange,
		Reason:   "local_budget",
		Message:  "local rate limit budget exhausted for " + string(b),
	}
}
