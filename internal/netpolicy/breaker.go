package netpolicy

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Breaker.Allow when the breaker is open and
// the cooldown has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker open")

type breakerState int

const (
	closed breakerState = iota
	open
	halfOpen
)

// Breaker is a minimal closed/open/half-open circuit breaker. There is no
// third-party breaker library anywhere in the example corpus this module was
// grounded on (checked every go.mod under the retrieval pack), so this is
// hand-rolled on the standard library rather than adapting an external one.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration

	state       breakerState
	failures    int
	openedAt    time.Time
	halfOpenTry bool
}

// NewBreaker creates a breaker that opens after failureThreshold consecutive
// failures and stays open for cooldown before admitting one probe request.
func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            closed,
	}
}

// Allow reports whether a call may proceed. If the breaker is open and the
// cooldown has elapsed, it transitions to half-open and allows exactly one
// probe through.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case closed:
		return nil
	case open:
		if time.Since(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = halfOpen
		b.halfOpenTry = true
		return nil
	case halfOpen:
		if b.halfOpenTry {
			return ErrCircuitOpen
		}
		b.halfOpenTry = true
		return nil
	}
	return nil
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = closed
	b.failures = 0
	b.halfOpenTry = false
}

// RecordFailure increments the failure count and opens the breaker once the
// threshold is reached, or immediately re-opens from half-open.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == halfOpen {
		b.state = open
		b.openedAt = time.Now()
		b.halfOpenTry = false
		return
	}

	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = open
		b.openedAt = time.Now()
	}
}
