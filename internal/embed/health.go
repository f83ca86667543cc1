package embed

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor periodically probes provider availability so synchronous callers
// can consult Provider.Available without ever blocking on the backend.
type Monitor struct {
	provider Provider
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates an availability monitor for the given provider.
func NewMonitor(provider Provider, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Monitor{
		provider: provider,
		interval: interval,
		timeout:  timeout,
	}
}

// Start launches the probe loop. An immediate probe runs before the first
// tick so availability is known at startup. Safe to call once.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	ok := m.provider.CheckAvailability(probeCtx)
	slog.Debug("provider health probe",
		slog.String("provider", m.provider.Name()),
		slog.Bool("available", ok))
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	<-done
}
