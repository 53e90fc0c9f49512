package link

import (
	"context"
	"log"
	"sync"
	"time"
)

// Dialer opens a physical link.
type Dialer func(ctx context.Context) (Link, error)

// Manager is the Link the rest of the application holds. It answers through
// a Simulated link until Run manages to dial a physical adapter, and falls
// back to the simulated link whenever the physical one fails.
type Manager struct {
	sim  *Simulated
	dial Dialer

	minDelay    time.Duration
	maxDelay    time.Duration
	maxAttempts int

	mu   sync.RWMutex
	phys Link
	lost chan struct{}
}

// NewManager creates a manager. A nil dialer keeps it simulated forever.
func NewManager(sim *Simulated, dial Dialer) *Manager {
	if sim == nil {
		sim = NewSimulated()
	}
	return &Manager{
		sim:         sim,
		dial:        dial,
		minDelay:    1 * time.Second,
		maxDelay:    60 * time.Second,
		maxAttempts: 10,
		lost:        make(chan struct{}, 1),
	}
}

// SetBackoff changes the reconnect delays.
func (m *Manager) SetBackoff(min, max time.Duration) {
	m.minDelay, m.maxDelay = min, max
}

// Simulated returns the fallback link.
func (m *Manager) Simulated() *Simulated { return m.sim }

func (m *Manager) current() Link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.phys != nil {
		return m.phys
	}
	return m.sim
}

func (m *Manager) Name() string   { return m.current().Name() }
func (m *Manager) Status() Status { return m.current().Status() }

func (m *Manager) SendCommand(ctx context.Context, text string) (string, error) {
	l := m.current()
	resp, err := l.SendCommand(ctx, text)
	if err != nil {
		m.fail(l, err)
	}
	return resp, err
}

func (m *Manager) ReadFaultCodes(ctx context.Context) ([]FaultCode, error) {
	l := m.current()
	codes, err := l.ReadFaultCodes(ctx)
	if err != nil {
		m.fail(l, err)
	}
	return codes, err
}

func (m *Manager) ClearFaultCodes(ctx context.Context) (bool, error) {
	l := m.current()
	ok, err := l.ClearFaultCodes(ctx)
	if err != nil {
		m.fail(l, err)
	}
	return ok, err
}

// fail drops a physical link after a transport error. Adapter rejections of
// individual commands do not count as a lost link.
func (m *Manager) fail(l Link, err error) {
	if l == Link(m.sim) || isRejection(err) {
		return
	}
	m.mu.Lock()
	if m.phys != l {
		m.mu.Unlock()
		return
	}
	m.phys = nil
	m.mu.Unlock()

	log.Printf("[link] %s lost: %v (falling back to simulated link)", l.Name(), err)
	l.Close()
	select {
	case m.lost <- struct{}{}:
	default:
	}
}

// Run dials the physical link with exponential backoff and redials after it
// is lost. It returns when ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m.dial == nil {
		<-ctx.Done()
		return nil
	}
	for {
		l, ok := m.connectWithRetry(ctx)
		if !ok {
			return nil
		}
		m.mu.Lock()
		m.phys = l
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			m.mu.Lock()
			if m.phys == l {
				m.phys = nil
			}
			m.mu.Unlock()
			l.Close()
			return nil
		case <-m.lost:
		}
	}
}

// connectWithRetry starts at minDelay and doubles each attempt up to
// maxDelay, logging attempt counts up to maxAttempts and then continuing at
// the max interval indefinitely.
func (m *Manager) connectWithRetry(ctx context.Context) (Link, bool) {
	delay := m.minDelay
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		l, err := m.dial(ctx)
		if err == nil {
			log.Printf("[link] %s connected (attempt %d)", l.Name(), attempt+1)
			return l, true
		}

		attempt++
		if attempt <= m.maxAttempts {
			log.Printf("[link] connect attempt %d/%d failed: %v (retry in %v)", attempt, m.maxAttempts, err, delay)
		} else {
			log.Printf("[link] connect attempt %d failed: %v (retry in %v)", attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(delay):
		}
		delay *= 2
		if delay > m.maxDelay {
			delay = m.maxDelay
		}
	}
}

// Close closes both links.
func (m *Manager) Close() error {
	m.mu.Lock()
	phys := m.phys
	m.phys = nil
	m.mu.Unlock()
	if phys != nil {
		phys.Close()
	}
	return m.sim.Close()
}
