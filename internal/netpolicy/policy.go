// Package netpolicy wraps outbound mint HTTP calls with the resilience
// pipeline the wallet requires: a per-host+path token-bucket rate limiter,
// a per-host+path circuit breaker, and bounded exponential-backoff retry.
package netpolicy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a request could not acquire rate-limiter
// capacity within MaxWait.
var ErrRateLimited = errors.New("rate limited")

// Config configures the policy pipeline. Zero values fall back to the
// defaults named in the wallet configuration surface.
type Config struct {
	RateLimitPerMinute int
	RateLimitBurst     int
	MaxWait            time.Duration

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryJitter    time.Duration
}

func (c Config) withDefaults() Config {
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = 10
	}
	if c.MaxWait == 0 {
		c.MaxWait = 5 * time.Second
	}
	if c.BreakerFailureThreshold == 0 {
		c.BreakerFailureThreshold = 5
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 200 * time.Millisecond
	}
	if c.RetryJitter == 0 {
		c.RetryJitter = 50 * time.Millisecond
	}
	return c
}

// Policy is a shared, per-mint-host resilience pipeline wrapping an
// *http.Client. It is safe for concurrent use across wallets talking to the
// same mint, per the spec's "networking policy is shared across wallets
// against the same mint" resource-sharing rule.
type Policy struct {
	cfg    Config
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*Breaker
}

// New builds a Policy around client (defaults to http.DefaultClient if nil).
func New(cfg Config, client *http.Client) *Policy {
	if client == nil {
		client = http.DefaultClient
	}
	return &Policy{
		cfg:      cfg.withDefaults(),
		client:   client,
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*Breaker),
	}
}

func (p *Policy) key(req *http.Request) string {
	return req.URL.Host + req.URL.Path
}

func (p *Policy) limiterFor(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[key]
	if !ok {
		perSecond := rate.Limit(float64(p.cfg.RateLimitPerMinute) / 60.0)
		l = rate.NewLimiter(perSecond, p.cfg.RateLimitBurst)
		p.limiters[key] = l
	}
	return l
}

func (p *Policy) breakerFor(key string) *Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.breakers[key]
	if !ok {
		b = NewBreaker(p.cfg.BreakerFailureThreshold, p.cfg.BreakerCooldown)
		p.breakers[key] = b
	}
	return b
}

// isRetryable reports whether err or resp's status code is one the spec
// names as transient.
func isRetryable(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do executes req through the rate limiter, circuit breaker and retry
// pipeline. newRequest rebuilds req for each retry attempt (http.Request
// bodies cannot be replayed across attempts once consumed).
func (p *Policy) Do(ctx context.Context, newRequest func() (*http.Request, error)) (*http.Response, error) {
	probe, err := newRequest()
	if err != nil {
		return nil, err
	}
	key := p.key(probe)

	limiter := p.limiterFor(key)
	breaker := p.breakerFor(key)

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.MaxWait)
	defer cancel()
	if err := limiter.Wait(waitCtx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	var resp *http.Response
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryBaseDelay
	bo.RandomizationFactor = float64(p.cfg.RetryJitter) / float64(p.cfg.RetryBaseDelay+1)
	boWithLimit := backoff.WithMaxRetries(bo, uint64(p.cfg.RetryAttempts-1))
	boWithCtx := backoff.WithContext(boWithLimit, ctx)

	op := func() error {
		if err := breaker.Allow(); err != nil {
			return backoff.Permanent(err)
		}

		req, err := newRequest()
		if err != nil {
			return backoff.Permanent(err)
		}

		r, doErr := p.client.Do(req)
		if isRetryable(r, doErr) {
			breaker.RecordFailure()
			if doErr != nil {
				return doErr
			}
			return fmt.Errorf("retryable status %d", r.StatusCode)
		}
		if doErr != nil {
			breaker.RecordFailure()
			return backoff.Permanent(doErr)
		}

		breaker.RecordSuccess()
		resp = r
		return nil
	}

	if err := backoff.Retry(op, boWithCtx); err != nil {
		return nil, err
	}

	return resp, nil
}
