package advisor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

// Result is delivered for the newest request only.
type Result struct {
	ID         uint64
	Suggestion *Suggestion // nil when the advisor had nothing to offer
	Err        error
}

// Coordinator runs advisor requests in the background with last-result-wins
// semantics: a new request cancels the one in flight, and results from
// superseded requests are discarded.
type Coordinator struct {
	advisor  Advisor
	timeout  time.Duration
	onResult func(Result)

	// OnStale, when set before the first Request, is called with the id of
	// every result discarded because a newer request superseded it.
	OnStale func(id uint64)

	// deliverMu serializes onResult calls so an older result cannot land
	// after a newer one.
	deliverMu sync.Mutex

	mu     sync.Mutex
	latest uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator. onResult is called from the request
// goroutine and must not block for long.
func NewCoordinator(a Advisor, timeout time.Duration, onResult func(Result)) *Coordinator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Coordinator{advisor: a, timeout: timeout, onResult: onResult}
}

// Request starts a new advisor call and returns its id. It never blocks on
// the advisor.
func (c *Coordinator) Request(parent context.Context, profile ecu.VehicleProfile, current ecu.TuneSettings, history []ecu.Telemetry) uint64 {
	ctx, cancel := context.WithTimeout(parent, c.timeout)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.latest++
	id := c.latest
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		s, err := c.advisor.Suggest(ctx, profile, current, history)

		c.deliverMu.Lock()
		defer c.deliverMu.Unlock()

		c.mu.Lock()
		stale := id != c.latest
		if !stale {
			c.cancel = nil
		}
		c.mu.Unlock()
		if stale {
			log.Printf("[advisor] discarding superseded request %d", id)
			if c.OnStale != nil {
				c.OnStale(id)
			}
			return
		}
		if c.onResult != nil {
			c.onResult(Result{ID: id, Suggestion: s, Err: err})
		}
	}()
	return id
}

// Pending reports whether a request is in flight.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Close cancels any request in flight and waits for its goroutine.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.latest++
	c.mu.Unlock()
	c.wg.Wait()
}

// Wait blocks until every started request has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
