package events

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-pepper/internal/log"
)

// State is the stream's connection state.
type State int

// Stream states. Transitions:
// Disconnected -> Connecting -> Connected -> Reconnecting -> Connected,
// and Reconnecting -> Disconnected once the attempt budget is spent.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Default stream policy.
const (
	DefaultMaxAttempts  = 5
	DefaultBaseBackoff  = 500 * time.Millisecond
	DefaultMaxBackoff   = 10 * time.Second
	DefaultQueueSize    = 32
	DefaultPingInterval = 30 * time.Second
)

// ErrAlreadyStarted is returned when Start is called on a running stream.
var ErrAlreadyStarted = errors.New("events: stream already started")

// Stream maintains the push-event connection and fans events out to
// subscribers. Subscribers survive reconnects; only the transport is
// torn down and retried.
type Stream struct {
	url    string
	dial   Dialer
	logger *slog.Logger

	maxAttempts  int
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	queueSize    int
	pingInterval time.Duration

	onState func(State)

	mu      sync.Mutex
	state   State
	subs    map[int]*subscriber
	nextID  int
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	dropped atomic.Uint64
}

// subscriber is one registered callback with its bounded delivery queue.
type subscriber struct {
	ch    chan Event
	types map[string]bool // nil = all types
	quit  chan struct{}
}

// Option configures a Stream.
type Option func(*Stream)

// WithDialer injects the transport dialer. Tests use this to script
// connection behavior without real network timing.
func WithDialer(d Dialer) Option {
	return func(s *Stream) { s.dial = d }
}

// WithBackoff sets the reconnect backoff base and cap.
func WithBackoff(base, max time.Duration) Option {
	return func(s *Stream) {
		s.baseBackoff = base
		s.maxBackoff = max
	}
}

// WithMaxAttempts sets how many consecutive failed connection attempts
// are allowed before the stream gives up.
func WithMaxAttempts(n int) Option {
	return func(s *Stream) { s.maxAttempts = n }
}

// WithQueueSize sets the per-subscriber delivery queue length.
func WithQueueSize(n int) Option {
	return func(s *Stream) { s.queueSize = n }
}

// WithPingInterval sets the keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(s *Stream) { s.pingInterval = d }
}

// WithStateCallback registers a callback invoked on every state
// transition. The terminal Disconnected transition after give-up is how
// degraded event delivery is reported upward.
func WithStateCallback(fn func(State)) Option {
	return func(s *Stream) { s.onState = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) { s.logger = l }
}

// NewStream creates a stream for the given WebSocket URL. Call Start
// to begin receiving events.
func NewStream(url string, opts ...Option) *Stream {
	s := &Stream{
		url:          url,
		dial:         DialWebSocket,
		logger:       log.Component("events"),
		maxAttempts:  DefaultMaxAttempts,
		baseBackoff:  DefaultBaseBackoff,
		maxBackoff:   DefaultMaxBackoff,
		queueSize:    DefaultQueueSize,
		pingInterval: DefaultPingInterval,
		subs:         make(map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current connection state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dropped returns the total number of events dropped across all
// subscriber queues since the stream was created.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

// Subscribe registers a callback for the given event types (all types
// when none are named). The returned id is passed to Unsubscribe.
// Delivery is best-effort: each subscriber has a bounded queue and the
// oldest queued event is dropped on overflow.
func (s *Stream) Subscribe(fn func(Event), types ...string) int {
	sub := &subscriber{
		ch:   make(chan Event, s.queueSize),
		quit: make(chan struct{}),
	}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = sub
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.ch:
				fn(ev)
			case <-sub.quit:
				return
			}
		}
	}()
	return id
}

// Unsubscribe removes a subscriber and stops its delivery goroutine.
func (s *Stream) Unsubscribe(id int) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
	}
	s.mu.Unlock()
	if ok {
		close(sub.quit)
	}
}

// Start begins the connection loop in the background. After the stream
// has given up (terminal Disconnected), Start may be called again to
// request a fresh round of attempts.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(ctx)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	return nil
}

// Stop tears down the connection and halts reconnect attempts.
// Subscribers stay registered.
func (s *Stream) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// run is the connection state machine loop.
func (s *Stream) run(ctx context.Context) {
	defer s.setState(StateDisconnected)

	attempts := 0
	first := true

	for {
		if ctx.Err() != nil {
			return
		}
		if first {
			s.setState(StateConnecting)
		} else {
			s.setState(StateReconnecting)
		}

		conn, err := s.dial(ctx, s.url)
		if err != nil {
			attempts++
			s.logger.Warn("event stream connect failed",
				"attempt", attempts, "error", err)
			if attempts >= s.maxAttempts {
				// Degraded, not fatal: give up until restarted.
				s.logger.Error("event stream giving up",
					"attempts", attempts)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.backoff(attempts)):
			}
			continue
		}

		// Handshake success resets the attempt budget.
		attempts = 0
		first = false
		s.setState(StateConnected)
		s.logger.Info("event stream connected", "url", s.url)

		s.readLoop(ctx, conn)
		conn.Close()
	}
}

// readLoop pumps events from one connection until it breaks.
func (s *Stream) readLoop(ctx context.Context, conn Conn) {
	stopPing := make(chan struct{})
	defer close(stopPing)

	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				if err := conn.Ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("event stream read failed", "error", err)
			}
			return
		}
		s.publish(*ev)
	}
}

// publish fans an event out without blocking: if a subscriber's queue
// is full, the oldest queued event is dropped to make room.
func (s *Stream) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.types != nil && !sub.types[ev.Type] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
				s.dropped.Add(1)
			default:
			}
			select {
			case sub.ch <- ev:
			default:
				s.dropped.Add(1)
			}
		}
	}
}

// backoff returns the delay before the given attempt, exponential with
// a cap and half-window jitter to spread reconnect storms.
func (s *Stream) backoff(attempt int) time.Duration {
	d := s.baseBackoff << (attempt - 1)
	if d > s.maxBackoff || d <= 0 {
		d = s.maxBackoff
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// setState records a transition and notifies the state callback.
func (s *Stream) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	fn := s.onState
	s.mu.Unlock()
	if changed && fn != nil {
		fn(st)
	}
}
