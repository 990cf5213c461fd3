// Package connectivity tracks online/offline state for the running process.
//
// The Monitor is the single source of truth for connectivity. It is purely
// event-driven: transitions come from a pluggable Source (the platform
// collaborator), subscribers are notified on every transition, and an
// offline-to-online transition triggers the sync drain exactly once.
package connectivity

import (
	"context"
	"log"
	"os"
	"sync"
)

// Source delivers platform connectivity events. Implementations must only
// emit transitions, never steady-state repeats, though the Monitor also
// deduplicates defensively on its side.
type Source interface {
	// Events is the stream of online (true) / offline (false) events.
	// The channel closes when the source shuts down.
	Events() <-chan bool

	// Close stops the source and closes the event channel.
	Close() error
}

// Monitor is the process-wide connectivity state machine: two states,
// online and offline, driven exclusively by Source events.
type Monitor struct {
	source Source
	logger *log.Logger

	mu      sync.Mutex
	online  bool
	subs    map[int]func(bool)
	nextSub int
	drain   func(context.Context)

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a Monitor. initial is the platform-reported connectivity at
// construction time.
//
// If logger is nil, a default logger writing to stderr is used.
func New(source Source, initial bool, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	return &Monitor{
		source: source,
		logger: logger,
		online: initial,
		subs:   make(map[int]func(bool)),
	}
}

// SetDrain installs the sync trigger invoked once per offline-to-online
// transition. The trigger runs as a spawned task; the drainer's own
// mutual-exclusion guard collapses concurrent triggers.
func (m *Monitor) SetDrain(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drain = fn
}

// IsConnected returns the current state. Non-blocking, always available.
func (m *Monitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a listener invoked with the new state on every
// transition (not on steady state). The returned function unsubscribes and
// is safe to call more than once.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Start begins consuming source events. Call Stop to shut down.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop detaches from the source and waits for the event loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	if err := m.source.Close(); err != nil {
		m.logger.Printf("Error closing connectivity source: %v", err)
	}
	<-done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			return

		case online, ok := <-m.source.Events():
			if !ok {
				return
			}
			m.transition(ctx, online)
		}
	}
}

// transition applies one event: state update, listener notification, and
// (for reconnects) exactly one drain trigger per transition.
func (m *Monitor) transition(ctx context.Context, online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	wasOffline := !m.online
	m.online = online

	listeners := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		listeners = append(listeners, fn)
	}
	drain := m.drain
	m.mu.Unlock()

	if online {
		m.logger.Printf("Connectivity restored")
	} else {
		m.logger.Printf("Connectivity lost")
	}

	// Listeners run outside the lock so a subscriber may re-enter the
	// monitor (e.g. call IsConnected) without deadlocking.
	for _, fn := range listeners {
		fn(online)
	}

	if online && wasOffline && drain != nil {
		go drain(ctx)
	}
}
