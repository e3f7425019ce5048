// Package ratelimiter implements the FIFO, single-consumer rate limiter
// from spec §4.A: it shapes outbound request rate and serializes 429
// retries so that retries never jump the queue. Inter-request spacing is
// delegated to golang.org/x/time/rate's token bucket (grounded in
// other_examples' gidari transport.go, which wraps the same primitive);
// the limiter itself only adds the 429 cooldown-and-retry state machine on
// top, per spec §9's "model it as a state machine {Idle, Spacing,
// Executing, Retrying}" design note.
package ratelimiter

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Rene1985-stack/picqer-sync/pkg/log"
	"github.com/Rene1985-stack/picqer-sync/pkg/metrics"
	"github.com/Rene1985-stack/picqer-sync/pkg/syncerr"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrStopped is returned to callers whose operation was still queued, or
// still retrying, when Stop was called.
var ErrStopped = errors.New("ratelimiter: stopped")

// Config configures a Limiter per spec §4.A and §6.
type Config struct {
	RequestsPerMinute int           // R; default 30
	MaxRetries        int           // default 5
	CoolDown          time.Duration // default 20s
}

// DefaultConfig returns spec §6's defaults.
func DefaultConfig() Config {
	return Config{RequestsPerMinute: 30, MaxRetries: 5, CoolDown: 20 * time.Second}
}

// Stats are the limiter's observable (not correctness-relevant) counters.
type Stats struct {
	Total         int64
	Successful    int64
	Failed        int64
	Retries       int64
	RateLimitHits int64
}

type request struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Limiter is a FIFO single-consumer queue enforcing inter-request spacing
// and 429 retry-with-cooldown.
type Limiter struct {
	cfg     Config
	tokens  *rate.Limiter
	queue   chan *request
	stopCh  chan struct{}
	logger  zerolog.Logger
	stats   Stats
}

// New creates a Limiter and starts its consumer goroutine.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}
	l := &Limiter{
		cfg:    cfg,
		tokens: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1),
		queue:  make(chan *request, 256),
		stopCh: make(chan struct{}),
		logger: log.WithComponent("ratelimiter"),
	}
	go l.consume()
	return l
}

// Stop shuts down the consumer loop. Queued and in-flight retries observe
// ErrStopped.
func (l *Limiter) Stop() {
	close(l.stopCh)
}

// Run submits fn to the FIFO queue and blocks until it has been executed
// (including any retries), consumed, or cancelled.
func (l *Limiter) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	req := &request{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case l.queue <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopCh:
		return ErrStopped
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopCh:
		return ErrStopped
	}
}

// Execute is a generic convenience wrapper around Run for operations that
// return a value, e.g. the HTTP Client's page fetch.
func Execute[T any](ctx context.Context, l *Limiter, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := l.Run(ctx, func(ctx context.Context) error {
		r, err := fn(ctx)
		if err == nil {
			result = r
		}
		return err
	})
	return result, err
}

// Stats returns a snapshot of the limiter's counters.
func (l *Limiter) Stats() Stats {
	return Stats{
		Total:         atomic.LoadInt64(&l.stats.Total),
		Successful:    atomic.LoadInt64(&l.stats.Successful),
		Failed:        atomic.LoadInt64(&l.stats.Failed),
		Retries:       atomic.LoadInt64(&l.stats.Retries),
		RateLimitHits: atomic.LoadInt64(&l.stats.RateLimitHits),
	}
}

// consume is the single FIFO consumer: Idle (waiting on the queue),
// Spacing (waiting on the token bucket), Executing (calling fn), Retrying
// (sleeping the cooldown) per spec §9.
func (l *Limiter) consume() {
	for {
		select {
		case req := <-l.queue:
			req.done <- l.serve(req)
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) serve(req *request) error {
	var lastErr error
	maxAttempts := l.cfg.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Spacing: block until the token bucket admits the next slot.
		if err := l.tokens.Wait(req.ctx); err != nil {
			return err
		}

		// Executing.
		atomic.AddInt64(&l.stats.Total, 1)
		metrics.RateLimiterAdmittedTotal.Inc()
		err := req.fn(req.ctx)
		if err == nil {
			atomic.AddInt64(&l.stats.Successful, 1)
			return nil
		}
		lastErr = err

		if !syncerr.IsRateLimited(err) {
			atomic.AddInt64(&l.stats.Failed, 1)
			metrics.RateLimiterFailuresTotal.Inc()
			return err
		}

		atomic.AddInt64(&l.stats.RateLimitHits, 1)
		metrics.RateLimiterRateLimitHitsTotal.Inc()

		if attempt == maxAttempts-1 {
			break
		}

		// Retrying: sleep the cooldown before re-executing the same slot.
		atomic.AddInt64(&l.stats.Retries, 1)
		metrics.RateLimiterRetriesTotal.Inc()
		l.logger.Warn().
			Int("attempt", attempt+1).
			Dur("cooldown", l.cfg.CoolDown).
			Msg("rate limited, sleeping before retry")

		select {
		case <-time.After(l.cfg.CoolDown):
		case <-req.ctx.Done():
			return req.ctx.Err()
		case <-l.stopCh:
			return ErrStopped
		}
	}

	atomic.AddInt64(&l.stats.Failed, 1)
	return lastErr
}
