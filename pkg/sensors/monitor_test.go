package sensors

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-pepper/pkg/events"
	"github.com/teslashibe/go-pepper/pkg/robot"
)

// fakeReader serves scripted sensor snapshots.
type fakeReader struct {
	mu    sync.Mutex
	snap  robot.SensorSnapshot
	err   error
	polls int32
}

func (f *fakeReader) Sensors(ctx context.Context) (*robot.SensorSnapshot, error) {
	atomic.AddInt32(&f.polls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	snap := f.snap
	return &snap, nil
}

func (f *fakeReader) TakePicture(ctx context.Context, camera int) (*robot.Photo, error) {
	return nil, nil
}

func TestStartPollsImmediately(t *testing.T) {
	reader := &fakeReader{snap: robot.SensorSnapshot{Battery: 72, Temperature: 31}}
	m := New(reader, WithPollInterval(time.Hour))
	m.Start(context.Background())
	defer m.Stop()

	snap := m.Snapshot()
	if snap.Battery != 72 || snap.Temperature != 31 {
		t.Errorf("snapshot = %+v", snap)
	}
	if atomic.LoadInt32(&reader.polls) != 1 {
		t.Errorf("polls = %d, want 1", reader.polls)
	}
}

func TestPushedBatteryOverwritesPolled(t *testing.T) {
	reader := &fakeReader{snap: robot.SensorSnapshot{Battery: 80}}
	m := New(reader, WithPollInterval(time.Hour))
	m.Start(context.Background())
	defer m.Stop()

	m.handleEvent(events.Event{
		Type:      events.TypeBattery,
		Data:      map[string]any{"level": 79.0},
		Timestamp: time.Now(),
	})
	if got := m.Snapshot().Battery; got != 79 {
		t.Errorf("battery = %v, want pushed 79", got)
	}
}

func TestTouchEventUpdatesMapAndCallback(t *testing.T) {
	reader := &fakeReader{}
	m := New(reader, WithPollInterval(time.Hour))

	var mu sync.Mutex
	var gotSensor string
	var gotTouched bool
	m.OnTouch(func(sensor string, touched bool) {
		mu.Lock()
		gotSensor, gotTouched = sensor, touched
		mu.Unlock()
	})
	m.Start(context.Background())
	defer m.Stop()

	m.handleEvent(events.Event{
		Type:      events.TypeTouch,
		Data:      map[string]any{"sensor": "head", "touched": true},
		Timestamp: time.Now(),
	})

	if !m.Snapshot().Touch["head"] {
		t.Error("touch map not updated")
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		done := gotSensor == "head" && gotTouched
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("touch callback never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPresenceGoesStale(t *testing.T) {
	reader := &fakeReader{}
	m := New(reader, WithPollInterval(time.Hour), WithPresenceTimeout(20*time.Millisecond))
	m.Start(context.Background())
	defer m.Stop()

	m.handleEvent(events.Event{
		Type:      events.TypePeople,
		Data:      map[string]any{"count": 2.0},
		Timestamp: time.Now(),
	})
	if got := m.Snapshot().People; got != 2 {
		t.Fatalf("people = %d, want 2", got)
	}

	time.Sleep(40 * time.Millisecond)
	if got := m.Snapshot().People; got != 0 {
		t.Errorf("stale people = %d, want 0", got)
	}
}

func TestSonarEventMergesReadings(t *testing.T) {
	reader := &fakeReader{snap: robot.SensorSnapshot{Sonar: map[string]float64{"front": 2.0, "back": 1.5}}}
	m := New(reader, WithPollInterval(time.Hour))
	m.Start(context.Background())
	defer m.Stop()

	m.handleEvent(events.Event{
		Type:      events.TypeSonar,
		Data:      map[string]any{"front": 0.4},
		Timestamp: time.Now(),
	})
	snap := m.Snapshot()
	if snap.Sonar["front"] != 0.4 {
		t.Errorf("front = %v, want pushed 0.4", snap.Sonar["front"])
	}
	if snap.Sonar["back"] != 1.5 {
		t.Errorf("back = %v, want polled 1.5 retained", snap.Sonar["back"])
	}
}

func TestSnapshotCopiesMaps(t *testing.T) {
	reader := &fakeReader{snap: robot.SensorSnapshot{Touch: map[string]bool{"head": true}}}
	m := New(reader, WithPollInterval(time.Hour))
	m.Start(context.Background())
	defer m.Stop()

	snap := m.Snapshot()
	snap.Touch["head"] = false
	if !m.Snapshot().Touch["head"] {
		t.Error("caller mutation leaked into the monitor")
	}
}
