package link

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// Buffered sets the queue size. The default is 64.
func Buffered(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.size = size
		}
	}
}

// OnSent registers a hook called after each intent reaches the link.
func OnSent(fn func(ecu.Intent, error)) Option {
	return func(d *Dispatcher) { d.onSent = fn }
}

// OnDrop registers a hook called for each intent dropped on a full queue.
func OnDrop(fn func(ecu.Intent)) Option {
	return func(d *Dispatcher) { d.onDrop = fn }
}

// Dispatcher forwards simulator intents to a Link from its own goroutine.
// Dispatch never blocks: when the queue is full the intent is dropped.
type Dispatcher struct {
	link    Link
	size    int
	timeout time.Duration
	onSent  func(ecu.Intent, error)
	onDrop  func(ecu.Intent)

	queue   chan ecu.Intent
	dropped atomic.Int64
	once    sync.Once
	done    chan struct{}
}

// NewDispatcher creates a dispatcher. Call Run to start forwarding.
func NewDispatcher(l Link, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		link:    l,
		size:    64,
		timeout: 2 * time.Second,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan ecu.Intent, d.size)
	return d
}

// Dispatch queues intents. It returns false if any had to be dropped.
func (d *Dispatcher) Dispatch(intents ...ecu.Intent) bool {
	ok := true
	for _, in := range intents {
		select {
		case d.queue <- in:
		default:
			ok = false
			d.dropped.Add(1)
			if d.onDrop != nil {
				d.onDrop(in)
			}
		}
	}
	return ok
}

// Dropped returns how many intents were dropped so far.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Pending returns the number of queued intents.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Run forwards queued intents until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.once.Do(func() { close(d.done) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-d.queue:
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			_, err := d.link.SendCommand(sendCtx, in.Command)
			cancel()
			if err != nil {
				log.Printf("[link] intent %s (%q) failed: %v", in.Kind, in.Command, err)
			}
			if d.onSent != nil {
				d.onSent(in, err)
			}
		}
	}
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }
