package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeConn is a scripted connection: events are fed on a channel and
// the connection breaks when the channel is closed.
type fakeConn struct {
	events chan *Event
	closed atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan *Event, 16)}
}

func (c *fakeConn) ReadEvent() (*Event, error) {
	ev, ok := <-c.events
	if !ok {
		return nil, errors.New("connection lost")
	}
	return ev, nil
}

func (c *fakeConn) Ping() error { return nil }

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) push(typ string) {
	c.events <- &Event{Type: typ, Timestamp: time.Now()}
}

func (c *fakeConn) drop() {
	close(c.events)
}

// fakeDialer hands out scripted connections (nil = dial failure).
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
}

func (d *fakeDialer) dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls >= len(d.conns) || d.conns[d.calls] == nil {
		d.calls++
		return nil, errors.New("dial refused")
	}
	conn := d.conns[d.calls]
	d.calls++
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStreamDeliversAcrossReconnect(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn1, conn2}}

	s := NewStream("ws://test/ws/events",
		WithDialer(dialer.dial),
		WithBackoff(time.Millisecond, 5*time.Millisecond))

	var mu sync.Mutex
	var got []string
	s.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return s.State() == StateConnected }, "never connected")
	conn1.push(TypeTouch)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "first event not delivered")

	// Kill the transport. The stream must reconnect and keep
	// delivering to the same subscriber without re-registration.
	conn1.drop()
	waitFor(t, func() bool { return dialer.dialCount() >= 2 && s.State() == StateConnected },
		"never reconnected")

	conn2.push(TypeBattery)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, "event after reconnect not delivered")

	mu.Lock()
	defer mu.Unlock()
	if got[0] != TypeTouch || got[1] != TypeBattery {
		t.Errorf("got %v, want [touch battery]", got)
	}
}

func TestStreamGivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{} // every dial fails

	var states []State
	var stateMu sync.Mutex
	s := NewStream("ws://test/ws/events",
		WithDialer(dialer.dial),
		WithMaxAttempts(3),
		WithBackoff(time.Millisecond, 2*time.Millisecond),
		WithStateCallback(func(st State) {
			stateMu.Lock()
			states = append(states, st)
			stateMu.Unlock()
		}))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, func() bool { return s.State() == StateDisconnected && dialer.dialCount() >= 3 },
		"stream did not give up")

	if n := dialer.dialCount(); n != 3 {
		t.Errorf("dial attempts = %d, want 3", n)
	}

	// Give-up is terminal until an explicit restart.
	time.Sleep(20 * time.Millisecond)
	if n := dialer.dialCount(); n != 3 {
		t.Errorf("dialed after give-up: %d attempts", n)
	}

	stateMu.Lock()
	last := states[len(states)-1]
	stateMu.Unlock()
	if last != StateDisconnected {
		t.Errorf("final reported state = %v, want disconnected", last)
	}

	// Explicit restart is allowed.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	waitFor(t, func() bool { return dialer.dialCount() > 3 }, "restart did not dial")
	s.Stop()
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	s := NewStream("ws://unused", WithQueueSize(1))

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	var got []string
	s.Subscribe(func(ev Event) {
		entered <- struct{}{}
		<-release
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	// First event is picked up by the delivery goroutine, which then
	// blocks inside the callback.
	s.publish(Event{Type: "e1"})
	<-entered

	// Queue size is 1: e2 queues, e3 evicts e2, e4 evicts e3.
	s.publish(Event{Type: "e2"})
	s.publish(Event{Type: "e3"})
	s.publish(Event{Type: "e4"})

	if d := s.Dropped(); d != 2 {
		t.Errorf("dropped = %d, want 2", d)
	}

	close(release)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, "remaining events not delivered")

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "e1" || got[1] != "e4" {
		t.Errorf("got %v, want [e1 e4] (oldest dropped)", got)
	}
}

func TestSubscribeTypeFilter(t *testing.T) {
	s := NewStream("ws://unused")

	var mu sync.Mutex
	var got []string
	s.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	}, TypeBattery)

	s.publish(Event{Type: TypeTouch})
	s.publish(Event{Type: TypeBattery})
	s.publish(Event{Type: TypeSonar})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "filtered event not delivered")

	mu.Lock()
	defer mu.Unlock()
	if got[0] != TypeBattery {
		t.Errorf("got %v, want [battery]", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := NewStream("ws://unused")

	var count atomic.Int32
	id := s.Subscribe(func(ev Event) { count.Add(1) })

	s.publish(Event{Type: TypeTouch})
	waitFor(t, func() bool { return count.Load() == 1 }, "event not delivered")

	s.Unsubscribe(id)
	s.publish(Event{Type: TypeTouch})
	time.Sleep(20 * time.Millisecond)
	if count.Load() != 1 {
		t.Errorf("delivered after unsubscribe: %d", count.Load())
	}
}

func TestParseFrame(t *testing.T) {
	ev, err := parseFrame([]byte(`{"type":"battery","data":{"level":73},"timestamp":1700000000.5}`))
	if err != nil {
		t.Fatalf("parseFrame failed: %v", err)
	}
	if ev.Type != "battery" {
		t.Errorf("type = %q", ev.Type)
	}
	if lvl, ok := ev.Data["level"].(float64); !ok || lvl != 73 {
		t.Errorf("data = %v", ev.Data)
	}
	if ev.Timestamp.Unix() != 1700000000 {
		t.Errorf("timestamp = %v", ev.Timestamp)
	}

	if _, err := parseFrame([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid frame")
	}
	if _, err := parseFrame([]byte(`{"data":{}}`)); err == nil {
		t.Error("expected error for missing type")
	}
}
