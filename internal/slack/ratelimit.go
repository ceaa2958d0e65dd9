package slack

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Tier is a Slack API rate-limit tier. Lower tiers allow fewer
// concurrent calls. https://api.slack.com/apis/rate-limits
type Tier int

const (
	Tier1 Tier = 1 // strictest limit, access infrequently
	Tier2 Tier = 2 // conversations.list
	Tier3 Tier = 3 // conversations.history, conversations.replies
	Tier4 Tier = 4 // users.list, users.info
)

// tierWidth is the number of in-flight calls allowed per tier.
func tierWidth(t Tier) int {
	switch t {
	case Tier1:
		return 1
	case Tier2:
		return 4
	case Tier3:
		return 8
	default:
		return 20
	}
}

// LimiterConfig bounds the retry behavior of a Limiter.
type LimiterConfig struct {
	MaxAttempts int           // total attempts per call before giving up
	BaseDelay   time.Duration // first backoff step
	MaxDelay    time.Duration // backoff cap, also caps Retry-After waits
}

// Normalize fills zero values with defaults.
func (c *LimiterConfig) Normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
}

// Limiter throttles outbound API calls. Each tier has a fixed-width
// admission gate; an explicit Retry-After signal blocks every caller on
// that tier until the indicated instant, taking precedence over the
// local backoff estimate. Transient failures retry with jittered
// exponential backoff up to a bounded attempt count, after which the
// error surfaces wrapped in ErrRetriesExhausted.
//
// The limiter sleeps only the calling goroutine and never holds another
// component's lock while doing so.
type Limiter struct {
	cfg   LimiterConfig
	gates map[Tier]chan struct{}
	log   *slog.Logger

	mu           sync.Mutex
	blockedUntil map[Tier]time.Time

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a Limiter with the given retry bounds.
func NewLimiter(cfg LimiterConfig, log *slog.Logger) *Limiter {
	cfg.Normalize()
	if log == nil {
		log = slog.Default()
	}
	gates := make(map[Tier]chan struct{}, 4)
	for _, t := range []Tier{Tier1, Tier2, Tier3, Tier4} {
		gates[t] = make(chan struct{}, tierWidth(t))
	}
	return &Limiter{
		cfg:          cfg,
		gates:        gates,
		log:          log,
		blockedUntil: make(map[Tier]time.Time),
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// WithClock sets the clock and sleeper, for testing backoff without
// real delays. Call before any Do or Acquire.
func (l *Limiter) WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) *Limiter {
	l.now = now
	l.sleep = sleep
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acquire blocks until the tier admits another in-flight call and
// returns the release func. Most callers want Do; Acquire is for calls
// whose lifetime outlives a single closure.
func (l *Limiter) Acquire(ctx context.Context, tier Tier) (func(), error) {
	gate := l.gates[tier]
	if gate == nil {
		gate = l.gates[Tier4]
	}
	select {
	case gate <- struct{}{}:
		return func() { <-gate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do runs op under the tier's admission gate, retrying per policy.
// The op is invoked at most MaxAttempts times.
func (l *Limiter) Do(ctx context.Context, tier Tier, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gate := l.gates[tier]
	if gate == nil {
		gate = l.gates[Tier4]
	}
	select {
	case gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-gate }()

	var lastErr error
	for attempt := 0; attempt < l.cfg.MaxAttempts; attempt++ {
		if err := l.waitBlocked(ctx, tier); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if limited, rle := IsRateLimited(err); limited {
			wait := rle.RetryAfter
			if wait <= 0 {
				wait = l.cfg.BaseDelay
			}
			if wait > l.cfg.MaxDelay {
				wait = l.cfg.MaxDelay
			}
			l.blockTier(tier, wait)
			l.log.Warn("rate limited", "tier", int(tier), "retry_after", wait, "attempt", attempt+1)
			continue
		}
		if IsAuthError(err) {
			return fmt.Errorf("%w: %v", ErrAuth, err)
		}
		if !IsTransient(err) {
			return err
		}

		delay := l.backoff(attempt)
		l.log.Warn("transient failure, backing off", "tier", int(tier), "delay", delay, "attempt", attempt+1, "err", err)
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, l.cfg.MaxAttempts, lastErr)
}

// waitBlocked honors any tier-wide Retry-After instant before issuing a
// request. No request for the tier is issued early.
func (l *Limiter) waitBlocked(ctx context.Context, tier Tier) error {
	for {
		l.mu.Lock()
		until := l.blockedUntil[tier]
		l.mu.Unlock()
		wait := until.Sub(l.now())
		if wait <= 0 {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Limiter) blockTier(tier Tier, wait time.Duration) {
	until := l.now().Add(wait)
	l.mu.Lock()
	if until.After(l.blockedUntil[tier]) {
		l.blockedUntil[tier] = until
	}
	l.mu.Unlock()
}

// backoff computes the jittered exponential delay for the given attempt:
// a random value in [base*2^n/2, base*2^n], capped at MaxDelay.
func (l *Limiter) backoff(attempt int) time.Duration {
	d := l.cfg.BaseDelay << uint(attempt)
	if d > l.cfg.MaxDelay || d <= 0 {
		d = l.cfg.MaxDelay
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
