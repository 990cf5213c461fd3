package connectivity

import (
	"net"
	"sync"
	"time"
)

// ChanSource is a Source fed by the caller. Platform integrations push
// their connectivity callbacks into it; tests drive transitions with Emit.
type ChanSource struct {
	ch        chan bool
	closeOnce sync.Once
}

// NewChanSource creates a buffered channel-backed source.
func NewChanSource() *ChanSource {
	return &ChanSource{ch: make(chan bool, 16)}
}

// Emit delivers one connectivity event. Events emitted after Close panic,
// matching the usual closed-channel contract.
func (s *ChanSource) Emit(online bool) {
	s.ch <- online
}

// Events implements Source.
func (s *ChanSource) Events() <-chan bool {
	return s.ch
}

// Close implements Source.
func (s *ChanSource) Close() error {
	s.closeOnce.Do(func() { close(s.ch) })
	return nil
}

// Probe is a reachability-based Source for environments with no native
// connectivity callback (the daemon). It dials a well-known address on an
// interval and emits an event only when reachability flips, so the Monitor
// still sees transitions, not polling noise.
type Probe struct {
	addr     string
	interval time.Duration
	timeout  time.Duration

	ch   chan bool
	stop chan struct{}
	once sync.Once
}

// NewProbe creates and starts a reachability probe against addr
// (host:port). interval defaults to 10s when zero.
func NewProbe(addr string, interval time.Duration) *Probe {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	p := &Probe{
		addr:     addr,
		interval: interval,
		timeout:  3 * time.Second,
		ch:       make(chan bool, 4),
		stop:     make(chan struct{}),
	}
	go p.loop()
	return p
}

// Check performs one synchronous reachability check. The composition root
// uses it for the Monitor's initial state.
func (p *Probe) Check() bool {
	conn, err := net.DialTimeout("tcp", p.addr, p.timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (p *Probe) loop() {
	defer close(p.ch)

	last := p.Check()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return

		case <-ticker.C:
			online := p.Check()
			if online == last {
				continue
			}
			last = online
			select {
			case p.ch <- online:
			case <-p.stop:
				return
			}
		}
	}
}

// Events implements Source.
func (p *Probe) Events() <-chan bool {
	return p.ch
}

// Close implements Source.
func (p *Probe) Close() error {
	p.once.Do(func() { close(p.stop) })
	return nil
}
