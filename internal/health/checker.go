package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pinger is anything whose availability can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker pings the backing store and remembers the last outcome.
type Checker struct {
	pinger  Pinger
	timeout time.Duration

	mu        sync.RWMutex
	lastErr   error
	checkedAt time.Time
	listeners []func(serving bool)
}

func NewChecker(pinger Pinger, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{pinger: pinger, timeout: timeout}
}

// OnChange registers fn to be called whenever the serving status flips.
func (c *Checker) OnChange(fn func(serving bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Check pings the store once and records the result.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.pinger.Ping(ctx)

	c.mu.Lock()
	changed := c.checkedAt.IsZero() || (err == nil) != (c.lastErr == nil)
	c.lastErr = err
	c.checkedAt = time.Now()
	listeners := append([]func(bool){}, c.listeners...)
	c.mu.Unlock()

	if changed {
		if err != nil {
			slog.Warn("Store health check failed", "error", err)
		} else {
			slog.Info("Store is healthy")
		}
		for _, fn := range listeners {
			fn(err == nil)
		}
	}
	return err
}

// Last returns when the most recent check ran and its result.
func (c *Checker) Last() (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checkedAt, c.lastErr
}

// Run checks at the given interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = c.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Check(ctx)
		}
	}
}
