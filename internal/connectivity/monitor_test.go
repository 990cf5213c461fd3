package connectivity

import (
	"context"
	"io"
	"log"
	"testing"
	"time"
)

func newTestMonitor(t *testing.T, initial bool) (*Monitor, *ChanSource) {
	t.Helper()

	src := NewChanSource()
	quiet := log.New(io.Discard, "", 0)
	m := New(src, initial, quiet)
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m, src
}

func waitBool(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return false
	}
}

func TestTransitionsNotifySubscribers(t *testing.T) {
	m, src := newTestMonitor(t, true)

	events := make(chan bool, 8)
	unsub := m.Subscribe(func(online bool) { events <- online })
	defer unsub()

	if !m.IsConnected() {
		t.Fatal("initial state not online")
	}

	src.Emit(false)
	if got := waitBool(t, events); got {
		t.Error("expected offline notification")
	}
	if m.IsConnected() {
		t.Error("IsConnected still true after offline event")
	}

	src.Emit(true)
	if got := waitBool(t, events); !got {
		t.Error("expected online notification")
	}
	if !m.IsConnected() {
		t.Error("IsConnected still false after online event")
	}
}

func TestSteadyStateEventsDeduplicated(t *testing.T) {
	m, src := newTestMonitor(t, true)

	events := make(chan bool, 8)
	unsub := m.Subscribe(func(online bool) { events <- online })
	defer unsub()

	// Repeats of the current state must not notify; the next real
	// transition is the first thing subscribers see.
	src.Emit(true)
	src.Emit(true)
	src.Emit(false)

	if got := waitBool(t, events); got {
		t.Error("first notification should be the offline transition")
	}
	select {
	case extra := <-events:
		t.Errorf("unexpected extra notification: %v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDrainFiresOncePerReconnect(t *testing.T) {
	m, src := newTestMonitor(t, true)

	drains := make(chan struct{}, 8)
	m.SetDrain(func(ctx context.Context) { drains <- struct{}{} })

	events := make(chan bool, 8)
	unsub := m.Subscribe(func(online bool) { events <- online })
	defer unsub()

	// Going offline never drains.
	src.Emit(false)
	waitBool(t, events)
	select {
	case <-drains:
		t.Fatal("drain fired on offline transition")
	case <-time.After(50 * time.Millisecond):
	}

	// Reconnect drains exactly once, even with a duplicate online event.
	src.Emit(true)
	src.Emit(true)
	waitBool(t, events)
	select {
	case <-drains:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not fire on reconnect")
	}
	select {
	case <-drains:
		t.Error("duplicate online event triggered a second drain")
	case <-time.After(50 * time.Millisecond):
	}

	// Each full offline/online cycle drains again.
	src.Emit(false)
	waitBool(t, events)
	src.Emit(true)
	waitBool(t, events)
	select {
	case <-drains:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not fire on second reconnect")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	m, src := newTestMonitor(t, true)

	kept := make(chan bool, 8)
	dropped := make(chan bool, 8)
	unsubKept := m.Subscribe(func(online bool) { kept <- online })
	defer unsubKept()
	unsubDropped := m.Subscribe(func(online bool) { dropped <- online })

	unsubDropped()
	unsubDropped() // second call is a no-op

	src.Emit(false)
	waitBool(t, kept)
	select {
	case <-dropped:
		t.Error("unsubscribed listener was notified")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartAndStopLifecycle(t *testing.T) {
	src := NewChanSource()
	quiet := log.New(io.Discard, "", 0)
	m := New(src, false, quiet)

	ctx := context.Background()
	m.Start(ctx)
	m.Start(ctx) // second Start is a no-op

	events := make(chan bool, 8)
	unsub := m.Subscribe(func(online bool) { events <- online })
	defer unsub()

	src.Emit(true)
	waitBool(t, events)

	m.Stop()
	m.Stop() // second Stop is a no-op
	if !m.IsConnected() {
		t.Error("state lost across Stop")
	}
}
