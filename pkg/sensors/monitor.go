// Package sensors maintains a live view of the robot's sensor state.
//
// The monitor merges two sources: periodic polls of the bridge's
// sensors endpoint, and push events from the event stream when the
// bridge provides one. Push data overwrites polled data field by field,
// so a v1 bridge with no stream still yields a complete (if slower)
// picture.
package sensors

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-pepper/internal/log"
	"github.com/teslashibe/go-pepper/pkg/events"
	"github.com/teslashibe/go-pepper/pkg/robot"
)

const (
	// DefaultPollInterval between sensors-endpoint reads.
	DefaultPollInterval = 5 * time.Second

	// DefaultPresenceTimeout after which a people detection goes stale.
	DefaultPresenceTimeout = 10 * time.Second
)

// Snapshot is the monitor's current merged view.
type Snapshot struct {
	Battery     float64
	Temperature float64
	Touch       map[string]bool
	Sonar       map[string]float64

	// People is the last pushed people count, zero once stale.
	People int

	// UpdatedAt is when any field last changed.
	UpdatedAt time.Time
}

// TouchFunc receives touch transitions pushed by the bridge.
type TouchFunc func(sensor string, touched bool)

// Monitor polls and listens, caching the latest snapshot.
type Monitor struct {
	reader robot.SensorReader
	stream *events.Stream
	logger *slog.Logger

	interval        time.Duration
	presenceTimeout time.Duration

	mu         sync.RWMutex
	snap       Snapshot
	lastPeople time.Time
	onTouch    []TouchFunc

	cancel context.CancelFunc
	done   chan struct{}
	subID  int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithStream attaches a push-event stream. Without one the monitor is
// poll-only.
func WithStream(s *events.Stream) Option {
	return func(m *Monitor) { m.stream = s }
}

// WithPollInterval overrides the poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithPresenceTimeout overrides how long a people detection stays
// valid.
func WithPresenceTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.presenceTimeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a monitor over the given sensor reader.
func New(reader robot.SensorReader, opts ...Option) *Monitor {
	m := &Monitor{
		reader:          reader,
		logger:          log.Component("sensors"),
		interval:        DefaultPollInterval,
		presenceTimeout: DefaultPresenceTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnTouch registers a callback for pushed touch transitions. Register
// before Start.
func (m *Monitor) OnTouch(fn TouchFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTouch = append(m.onTouch, fn)
}

// Start begins polling and, when a stream is attached, event handling.
// It polls once synchronously so callers see data immediately.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	m.poll(ctx)

	if m.stream != nil {
		m.subID = m.stream.Subscribe(m.handleEvent,
			events.TypeBattery, events.TypeSonar, events.TypeTouch,
			events.TypePeople, events.TypePresence)
	}

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.poll(ctx)
			}
		}
	}()
}

// Stop halts polling and detaches from the stream.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	if m.stream != nil {
		m.stream.Unsubscribe(m.subID)
	}
}

// Snapshot returns the current merged view. Stale people detections
// read as zero.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snap
	snap.Touch = copyBoolMap(m.snap.Touch)
	snap.Sonar = copyFloatMap(m.snap.Sonar)
	if time.Since(m.lastPeople) > m.presenceTimeout {
		snap.People = 0
	}
	return snap
}

func (m *Monitor) poll(ctx context.Context) {
	reading, err := m.reader.Sensors(ctx)
	if err != nil {
		m.logger.Warn("sensor poll failed", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Battery = reading.Battery
	m.snap.Temperature = reading.Temperature
	if reading.Touch != nil {
		m.snap.Touch = copyBoolMap(reading.Touch)
	}
	if reading.Sonar != nil {
		m.snap.Sonar = copyFloatMap(reading.Sonar)
	}
	m.snap.UpdatedAt = time.Now()
}

func (m *Monitor) handleEvent(ev events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Type {
	case events.TypeBattery:
		if level, ok := numField(ev.Data, "level"); ok {
			m.snap.Battery = level
		}
	case events.TypeSonar:
		if m.snap.Sonar == nil {
			m.snap.Sonar = make(map[string]float64)
		}
		for k, v := range ev.Data {
			if f, ok := v.(float64); ok {
				m.snap.Sonar[k] = f
			}
		}
	case events.TypeTouch:
		sensor, _ := ev.Data["sensor"].(string)
		touched, _ := ev.Data["touched"].(bool)
		if sensor != "" {
			if m.snap.Touch == nil {
				m.snap.Touch = make(map[string]bool)
			}
			m.snap.Touch[sensor] = touched
			for _, fn := range m.onTouch {
				go fn(sensor, touched)
			}
		}
	case events.TypePeople, events.TypePresence:
		if count, ok := numField(ev.Data, "count"); ok {
			m.snap.People = int(count)
			m.lastPeople = ev.Timestamp
		}
	}
	m.snap.UpdatedAt = time.Now()
}

func numField(data map[string]any, key string) (float64, bool) {
	f, ok := data[key].(float64)
	return f, ok
}

func copyBoolMap(in map[string]bool) map[string]bool {
	if in == nil {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyFloatMap(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
