// Package ratelimiter implements an in-process token-bucket limiter shared
// by every caller that needs to pace outbound requests (the weather API
// client and the webhook notifier each get their own instance). It is
// grounded on the teacher's Redis-backed RedisRateLimiter
// (service/rate_limiter/redis_rate_limiter.go): same Allow/Wait-shaped
// contract, but single-process and condition-variable based per the spec's
// requirement that no exclusive lock is held during the wait and that
// waiters are served in arrival order.
package ratelimiter

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Limiter paces requests to at most RatePerSec tokens per second. A
// RatePerSec of zero disables pacing entirely (Wait returns immediately).
type Limiter struct {
	ratePerSec float64
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	waiters    *list.List // of *waiter, served in FIFO order
	now        func() time.Time
}

type waiter struct {
	ch chan struct{}
}

// New creates a Limiter that allows ratePerSec requests per second. A
// non-positive rate disables limiting.
func New(ratePerSec float64) *Limiter {
	return &Limiter{
		ratePerSec: ratePerSec,
		tokens:     ratePerSec,
		lastRefill: time.Now(),
		waiters:    list.New(),
		now:        time.Now,
	}
}

// Wait blocks until a token is available or ctx is cancelled. It never
// holds l.mu while sleeping, so concurrent callers keep making progress and
// are released in the order they called Wait.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.ratePerSec <= 0 {
		return nil
	}

	var w *waiter
	var elem *list.Element
	for {
		l.mu.Lock()
		l.refillLocked()

		if l.tokens >= 1 && l.waiters.Len() == 0 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}

		// Enqueue once; a waiter keeps its place in line across timer
		// wake-ups until it is served or cancelled.
		if elem == nil {
			w = &waiter{ch: make(chan struct{}, 1)}
			elem = l.waiters.PushBack(w)
		}
		wait := l.nextTokenDelayLocked()
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			l.removeWaiter(elem)
			return ctx.Err()
		case <-w.ch:
			// Woken because we are now the head waiter and a token may be
			// available; loop around and re-check under the lock.
		case <-time.After(wait):
		}

		l.mu.Lock()
		l.refillLocked()
		if l.tokens >= 1 && (l.waiters.Len() == 0 || l.waiters.Front() == elem) {
			if l.waiters.Front() == elem {
				l.waiters.Remove(elem)
			}
			l.tokens--
			l.mu.Unlock()
			l.wakeFrontLocked()
			return nil
		}
		l.mu.Unlock()
	}
}

func (l *Limiter) removeWaiter(elem *list.Element) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for e := l.waiters.Front(); e != nil; e = e.Next() {
		if e == elem {
			l.waiters.Remove(e)
			return
		}
	}
}

// wakeFrontLocked notifies the new head of the queue that it should
// re-check for an available token. Must be called without holding l.mu.
func (l *Limiter) wakeFrontLocked() {
	l.mu.Lock()
	front := l.waiters.Front()
	l.mu.Unlock()
	if front == nil {
		return
	}
	w := front.Value.(*waiter)
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (l *Limiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.ratePerSec
	if l.tokens > l.ratePerSec {
		l.tokens = l.ratePerSec
	}
	l.lastRefill = now
}

func (l *Limiter) nextTokenDelayLocked() time.Duration {
	if l.ratePerSec <= 0 {
		return 0
	}
	missing := 1 - l.tokens
	if missing <= 0 {
		return time.Millisecond
	}
	seconds := missing / l.ratePerSec
	return time.Duration(seconds * float64(time.Second))
}
