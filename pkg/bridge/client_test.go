package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testBridge is a minimal fake bridge for client tests.
type testBridge struct {
	mu       sync.Mutex
	hits     map[string]int
	version  string
	paths    []string
	handlers map[string]http.HandlerFunc
}

func newTestBridge(version string, paths ...string) *testBridge {
	return &testBridge{
		hits:     make(map[string]int),
		version:  version,
		paths:    paths,
		handlers: make(map[string]http.HandlerFunc),
	}
}

func (b *testBridge) handle(path string, fn http.HandlerFunc) {
	b.handlers[path] = fn
}

func (b *testBridge) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

func (b *testBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.hits[r.URL.Path]++
	b.mu.Unlock()

	if fn, ok := b.handlers[r.URL.Path]; ok {
		fn(w, r)
		return
	}
	if r.URL.Path == "/health" {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":        true,
			"version":   b.version,
			"endpoints": b.paths,
			"streams":   map[string]string{"events": "ws://example/ws/events"},
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

func TestProbeParsesCapability(t *testing.T) {
	fake := newTestBridge("2.0.0", "/health", "/speak", "/move/forward")
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := New(srv.URL)
	cap, err := c.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if cap.Version != "2.0.0" {
		t.Errorf("version = %q, want 2.0.0", cap.Version)
	}
	if !cap.IsV2() {
		t.Error("expected IsV2 for version 2.0.0")
	}
	if !cap.Has("/speak") {
		t.Error("expected /speak in capability set")
	}
	if cap.EventStreamURL() != "ws://example/ws/events" {
		t.Errorf("event stream URL = %q", cap.EventStreamURL())
	}
}

func TestInvokeRetriesTransportFailures(t *testing.T) {
	var failures int32
	fake := newTestBridge("2.0.0", "/speak")
	fake.handle("/speak", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&failures, 1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "spoken": "hi"})
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := New(srv.URL, WithRetry(2, time.Millisecond))
	payload, err := c.Invoke(context.Background(), "speak", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Invoke failed after retries: %v", err)
	}
	if payload["spoken"] != "hi" {
		t.Errorf("payload = %v", payload)
	}
	if fake.count("/speak") != 3 {
		t.Errorf("expected 3 attempts, got %d", fake.count("/speak"))
	}
}

func TestInvokeDoesNotRetryExecutionErrors(t *testing.T) {
	fake := newTestBridge("2.0.0", "/speak")
	fake.handle("/speak", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "TTS busy"})
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := New(srv.URL, WithRetry(3, time.Millisecond))
	_, err := c.Invoke(context.Background(), "speak", map[string]any{"text": "hi"})
	if !IsExecution(err) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if fake.count("/speak") != 1 {
		t.Errorf("application errors must not be retried, got %d attempts", fake.count("/speak"))
	}
}

func TestMissingEnvelopeIsProtocolError(t *testing.T) {
	fake := newTestBridge("2.0.0", "/status")
	fake.handle("/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"battery": 80})
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Invoke(context.Background(), "status", nil)
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestLegacyFallbackResolvedOnce(t *testing.T) {
	// Bridge advertises neither /leds/eyes nor /led, but actually
	// serves the legacy /led path.
	fake := newTestBridge("1.4.0", "/health", "/speak")
	fake.handle("/led", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := New(srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.Invoke(context.Background(), "leds_eyes", map[string]any{"color": "blue"}); err != nil {
			t.Fatalf("invoke %d failed: %v", i, err)
		}
	}

	if fake.count("/leds/eyes") != 0 {
		t.Errorf("preferred path should never be hit when not advertised")
	}
	if fake.count("/led") != 3 {
		t.Errorf("legacy path hits = %d, want 3", fake.count("/led"))
	}
	if fake.count("/health") != 1 {
		t.Errorf("fallback must not re-probe, health hits = %d", fake.count("/health"))
	}
}

func TestCapabilityUnavailableFailsFast(t *testing.T) {
	fake := newTestBridge("1.0.0", "/health", "/speak")
	fake.handle("/led", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Invoke(context.Background(), "leds_eyes", map[string]any{"color": "red"})
	if !IsCapability(err) {
		t.Fatalf("expected CapabilityError, got %v", err)
	}

	// Second call must not go back on the wire for the alias.
	_, err = c.Invoke(context.Background(), "leds_eyes", map[string]any{"color": "red"})
	if !IsCapability(err) {
		t.Fatalf("expected cached CapabilityError, got %v", err)
	}
	if fake.count("/led") != 1 {
		t.Errorf("legacy trial must run exactly once, got %d", fake.count("/led"))
	}
}

func TestProbeFailuresMarkBridgeDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close() // connection refused from here on

	c := New(url,
		WithRetry(0, time.Millisecond),
		WithTimeout(200*time.Millisecond),
		WithProbeFailureLimit(3))

	for i := 0; i < 3; i++ {
		if _, err := c.Probe(context.Background()); err == nil {
			t.Fatal("expected probe failure")
		}
	}
	if !c.Down() {
		t.Fatal("bridge should be down after 3 consecutive probe failures")
	}

	// Down state short-circuits without touching the network.
	if _, err := c.Invoke(context.Background(), "speak", map[string]any{"text": "x"}); !errors.Is(err, ErrDown) {
		t.Fatalf("expected ErrDown, got %v", err)
	}

	c.Reset()
	if c.Down() {
		t.Error("Reset should clear the down state")
	}
}

func TestConcurrentProbesShareOneFlight(t *testing.T) {
	var health int32
	fake := newTestBridge("2.0.0", "/health")
	fake.handle("/health", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&health, 1)
		time.Sleep(50 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true, "version": "2.0.0", "endpoints": []string{"/health"},
		})
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := New(srv.URL)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Probe(context.Background()); err != nil {
				t.Errorf("probe failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&health); n != 1 {
		t.Errorf("expected a single in-flight probe, got %d", n)
	}
}

func TestUnknownEndpointName(t *testing.T) {
	c := New("http://127.0.0.1:1")
	_, err := c.Invoke(context.Background(), "fly", nil)
	if !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("expected ErrUnknownEndpoint, got %v", err)
	}
}
