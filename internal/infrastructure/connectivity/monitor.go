// Package connectivity watches reachability of the remote store and fans out
// online/offline transitions to subscribers. The sync engine never senses the
// network itself; it reacts to the signals published here.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/quotedesk/quotedesk/internal/application/ports"
	"github.com/quotedesk/quotedesk/internal/infrastructure/logging"
)

// Compile-time check that Monitor implements ConnectivityPort.
var _ ports.ConnectivityPort = (*Monitor)(nil)

// Prober answers whether the remote store currently responds. The remote
// store client satisfies this directly.
type Prober interface {
	IsReachable(ctx context.Context) bool
}

// DefaultProbeInterval is how often the monitor probes the remote store.
const DefaultProbeInterval = 15 * time.Second

// Monitor polls a Prober on a fixed interval and publishes transitions.
// SetOnline forces a state, which the UI uses for an explicit offline toggle
// and tests use to drive transitions without a network.
type Monitor struct {
	probe    Prober
	interval time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	online  bool
	subs    map[int]func(online bool)
	nextSub int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor over the given prober. The monitor starts
// offline; call Start to begin probing or SetOnline to force a state.
func NewMonitor(probe Prober, interval time.Duration, logger *logging.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger.With("component", "connectivity"),
		subs:     make(map[int]func(online bool)),
	}
}

// Start probes immediately and then on every interval tick until Stop is
// called. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop halts probing. Subscribers stay registered; the last known state is
// still served by Online.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a transition callback and returns its unsubscribe
// function. Callbacks run synchronously; a subscriber that blocks delays the
// others.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// SetOnline forces the connectivity state, notifying subscribers if it
// changed.
func (m *Monitor) SetOnline(online bool) {
	m.transition(context.Background(), online)
}

// ProbeNow performs a single synchronous reachability check and returns the
// resulting state. The status surface uses it for an up-to-date answer
// without waiting for the next tick.
func (m *Monitor) ProbeNow(ctx context.Context) bool {
	m.probeOnce(ctx)
	return m.Online()
}

// run is the probe loop.
func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	m.probeOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

// probeOnce performs a single reachability check.
func (m *Monitor) probeOnce(ctx context.Context) {
	m.transition(ctx, m.probe.IsReachable(ctx))
}

// transition records a new state and fans out the change. Subscribers are
// invoked outside the lock so a callback can query the monitor.
func (m *Monitor) transition(ctx context.Context, online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	logging.LogConnectivityChange(ctx, m.logger, online)

	for _, fn := range subs {
		fn(online)
	}
}
