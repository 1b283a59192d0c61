// Package notify implements the Notifier component (C7): a webhook sender
// with retries, global send rate limiting, a circuit breaker, and
// sensitive-token redaction. Grounded on the teacher's AlertManager
// (service/monitoring/alert_manager.go) for the mutex-guarded counter
// discipline, generalized from multi-channel alert fan-out to this
// service's single Dooray webhook.
package notify

import (
	"sync"
	"time"

	"weather-alert-bridge/logger"
	"weather-alert-bridge/service/clock"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// circuitBreaker fast-fails sends after N consecutive final-failures
// (spec §4.4). Every counter is guarded by mu; mu is never held across
// network I/O or sleeps (spec §5, §9).
type circuitBreaker struct {
	mu                  sync.Mutex
	enabled             bool
	consecutiveFailures int
	threshold           int
	openDuration        time.Duration
	state               circuitState
	openedAt            time.Time
	clk                 clock.Clock
}

func newCircuitBreaker(enabled bool, threshold int, openDuration time.Duration, clk clock.Clock) *circuitBreaker {
	return &circuitBreaker{enabled: enabled, threshold: threshold, openDuration: openDuration, clk: clk}
}

// allow reports whether a send may proceed. When the circuit is open and
// the reset window has elapsed, it transitions to half-open and allows the
// call. While half-open, every call is allowed, not just a single probe,
// until the next recorded success closes the circuit or the next recorded
// failure re-opens it.
func (c *circuitBreaker) allow() bool {
	if !c.enabled {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case circuitClosed:
		return true
	case circuitHalfOpen:
		return true
	case circuitOpen:
		if c.clk.Now().Sub(c.openedAt) >= c.openDuration {
			c.state = circuitHalfOpen
			return true
		}
		return false
	}
	return true
}

func (c *circuitBreaker) recordSuccess() {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	wasOpen := c.state != circuitClosed
	c.consecutiveFailures = 0
	c.state = circuitClosed
	c.mu.Unlock()
	if wasOpen {
		logger.Event("notification.circuit.closed")
	}
}

// recordFailure returns true if this call just opened the circuit.
func (c *circuitBreaker) recordFailure() bool {
	if !c.enabled {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == circuitHalfOpen {
		c.state = circuitOpen
		c.openedAt = c.clk.Now()
		logger.EventAt(warnLevel, "notification.circuit.opened", "consecutive_failures", c.consecutiveFailures)
		return true
	}

	c.consecutiveFailures++
	if c.consecutiveFailures >= c.threshold {
		c.state = circuitOpen
		c.openedAt = c.clk.Now()
		logger.EventAt(warnLevel, "notification.circuit.opened", "consecutive_failures", c.consecutiveFailures)
		return true
	}
	return false
}
