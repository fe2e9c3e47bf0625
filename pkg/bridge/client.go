// Package bridge provides the HTTP client for the robot hardware bridge.
//
// All robot interaction flows through this client. It discovers what the
// connected bridge supports via a health probe, caches that capability
// set for the connection's lifetime, retries transport failures with
// bounded exponential backoff, and falls back once per connection to
// legacy endpoint aliases when a newer path is not advertised.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-pepper/internal/httpc"
	"github.com/teslashibe/go-pepper/internal/log"
)

// Default client policy.
const (
	DefaultMaxRetries       = 2
	DefaultRetryDelay       = 200 * time.Millisecond
	DefaultInvalidateAfter  = 3 // consecutive transport failures before re-probe
	DefaultMaxProbeFailures = 5 // consecutive probe failures before marking down
)

// Client talks to the hardware bridge over HTTP. Safe for concurrent
// use; capability reads are cached and re-probes use a single-writer
// discipline so concurrent callers share one in-flight probe.
type Client struct {
	baseURL string
	apiKey  string

	http       *http.Client
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration

	invalidateAfter  int
	maxProbeFailures int

	mu                sync.Mutex
	cap               *Capability
	resolved          map[string]string // endpoint name -> chosen path ("" = unavailable)
	transportFailures int
	probeFailures     int
	down              bool
	probing           *probeCall
}

// probeCall is a single in-flight health probe shared by concurrent callers.
type probeCall struct {
	done chan struct{}
	cap  *Capability
	err  error
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the X-API-Key header sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client. Used by tests to
// inject short timeouts.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the per-call HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = httpc.NewClient(d) }
}

// WithRetry configures transport-failure retry behavior.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithProbeFailureLimit sets how many consecutive probe failures mark
// the bridge down.
func WithProbeFailureLimit(n int) Option {
	return func(c *Client) { c.maxProbeFailures = n }
}

// WithInvalidateAfter sets how many consecutive transport failures
// invalidate the cached capability set.
func WithInvalidateAfter(n int) Option {
	return func(c *Client) { c.invalidateAfter = n }
}

// New creates a bridge client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		http:             httpc.Client,
		logger:           log.Component("bridge"),
		maxRetries:       DefaultMaxRetries,
		retryDelay:       DefaultRetryDelay,
		invalidateAfter:  DefaultInvalidateAfter,
		maxProbeFailures: DefaultMaxProbeFailures,
		resolved:         make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the bridge base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Down reports whether the bridge has been marked unreachable.
func (c *Client) Down() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.down
}

// Reset clears the down state and cached capability so the next call
// re-probes. This is the only way back from a down bridge.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = false
	c.cap = nil
	c.resolved = make(map[string]string)
	c.transportFailures = 0
	c.probeFailures = 0
}

// Capability returns the cached capability set, or nil if the bridge
// has not been probed yet on this connection.
func (c *Client) Capability() *Capability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cap
}

// Probe fetches /health and caches the advertised capability set.
// Concurrent callers share a single in-flight probe.
func (c *Client) Probe(ctx context.Context) (*Capability, error) {
	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		return nil, ErrDown
	}
	if pc := c.probing; pc != nil {
		c.mu.Unlock()
		select {
		case <-pc.done:
			return pc.cap, pc.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	pc := &probeCall{done: make(chan struct{})}
	c.probing = pc
	c.mu.Unlock()

	cap, err := c.doProbe(ctx)

	c.mu.Lock()
	c.probing = nil
	if err != nil {
		c.probeFailures++
		if c.probeFailures >= c.maxProbeFailures {
			c.down = true
			c.logger.Error("bridge marked down",
				"consecutive_failures", c.probeFailures)
		}
	} else {
		c.cap = cap
		c.resolved = make(map[string]string)
		c.probeFailures = 0
		c.transportFailures = 0
		c.logger.Info("bridge capability discovered",
			"version", cap.Version,
			"endpoints", len(cap.Endpoints))
	}
	c.mu.Unlock()

	pc.cap, pc.err = cap, err
	close(pc.done)
	return cap, err
}

// doProbe performs one /health round-trip.
func (c *Client) doProbe(ctx context.Context) (*Capability, error) {
	payload, err := c.do(ctx, "GET", "/health", "health", nil)
	if err != nil {
		return nil, err
	}

	cap := &Capability{
		Endpoints: make(map[string]bool),
		Streams:   make(map[string]string),
	}
	if v, ok := payload["version"].(string); ok {
		cap.Version = v
	}
	if list, ok := payload["endpoints"].([]any); ok {
		for _, e := range list {
			if path, ok := e.(string); ok {
				cap.Endpoints[path] = true
			}
		}
	}
	if streams, ok := payload["streams"].(map[string]any); ok {
		for name, addr := range streams {
			if s, ok := addr.(string); ok {
				cap.Streams[name] = s
			}
		}
	}
	return cap, nil
}

// Invoke calls a logical endpoint by name with the given arguments.
// GET endpoints receive args as query parameters, POST endpoints as a
// JSON body. The returned map is the success payload without the
// envelope fields.
func (c *Client) Invoke(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	def, ok := endpointTable[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEndpoint, name)
	}

	cap, err := c.ensureCapability(ctx)
	if err != nil {
		return nil, err
	}

	path, trial, err := c.resolvePath(name, def, cap)
	if err != nil {
		return nil, err
	}

	payload, err := c.do(ctx, def.method, path, name, args)
	if trial {
		c.recordTrial(name, path, cap, err)
		if isUnknownEndpoint(err) {
			return nil, &CapabilityError{Endpoint: name, Version: cap.Version}
		}
	}
	return payload, err
}

// ensureCapability returns the cached capability set, probing if needed.
func (c *Client) ensureCapability(ctx context.Context) (*Capability, error) {
	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		return nil, ErrDown
	}
	if c.cap != nil {
		cap := c.cap
		c.mu.Unlock()
		return cap, nil
	}
	c.mu.Unlock()
	return c.Probe(ctx)
}

// resolvePath picks the wire path for a logical endpoint. The decision
// is cached per capability set so the fallback is not re-evaluated on
// every call. trial=true means the legacy alias is being attempted for
// the first time and the outcome must be recorded.
func (c *Client) resolvePath(name string, def endpointDef, cap *Capability) (path string, trial bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.resolved[name]; ok {
		if p == "" {
			return "", false, &CapabilityError{Endpoint: name, Version: cap.Version}
		}
		return p, false, nil
	}

	switch {
	case cap.Has(def.preferred):
		c.resolved[name] = def.preferred
		return def.preferred, false, nil
	case def.legacy != "" && cap.Has(def.legacy):
		c.logger.Debug("using legacy endpoint", "endpoint", name, "path", def.legacy)
		c.resolved[name] = def.legacy
		return def.legacy, false, nil
	case len(cap.Endpoints) == 0:
		// Old bridges advertise nothing; assume the preferred path.
		c.resolved[name] = def.preferred
		return def.preferred, false, nil
	case def.legacy != "":
		// Not advertised under either name: try the legacy alias once.
		return def.legacy, true, nil
	default:
		c.resolved[name] = ""
		return "", false, &CapabilityError{Endpoint: name, Version: cap.Version}
	}
}

// recordTrial pins the fallback decision after a legacy-alias attempt.
func (c *Client) recordTrial(name, path string, cap *Capability, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Only record against the capability set the trial ran under.
	if c.cap != cap {
		return
	}
	if isUnknownEndpoint(err) {
		c.resolved[name] = ""
		c.logger.Warn("endpoint unavailable on this bridge",
			"endpoint", name, "version", cap.Version)
		return
	}
	if err == nil || IsExecution(err) {
		// The alias exists; an application error still proves that.
		c.resolved[name] = path
	}
}

// do performs one HTTP exchange with transport-failure retry. Only
// connection errors and timeouts are retried; application rejections
// are returned immediately.
func (c *Client) do(ctx context.Context, method, path, endpoint string, args map[string]any) (map[string]any, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			c.logger.Debug("retrying bridge call",
				"endpoint", endpoint, "attempt", attempt+1)
		}

		req, err := c.buildRequest(ctx, method, path, args)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &TransportError{Endpoint: endpoint, Err: err}
			continue
		}

		payload, err := c.parseEnvelope(resp, endpoint)
		if err == nil {
			c.noteSuccess()
			return payload, nil
		}
		if IsTransport(err) {
			lastErr = err
			continue
		}
		// Protocol and application errors are not retried, but a
		// successful round-trip still resets the failure counter.
		c.noteSuccess()
		return nil, err
	}

	c.noteTransportFailure()
	return nil, lastErr
}

// buildRequest constructs the HTTP request for one attempt.
func (c *Client) buildRequest(ctx context.Context, method, path string, args map[string]any) (*http.Request, error) {
	target := c.baseURL + path

	var body *bytes.Reader
	if method == "GET" {
		if len(args) > 0 {
			q := url.Values{}
			for k, v := range args {
				q.Set(k, fmt.Sprint(v))
			}
			target += "?" + q.Encode()
		}
		body = bytes.NewReader(nil)
	} else {
		if args == nil {
			args = map[string]any{}
		}
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("bridge: marshal args: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("bridge: build request: %w", err)
	}
	if method != "GET" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

// parseEnvelope decodes the {ok, ...} response envelope.
func (c *Client) parseEnvelope(resp *http.Response, endpoint string) (map[string]any, error) {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &ExecutionError{Endpoint: endpoint, Message: "unknown endpoint"}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &ExecutionError{Endpoint: endpoint, Message: "unauthorized - check BRIDGE_API_KEY"}
	}
	if resp.StatusCode >= 500 {
		return nil, &TransportError{Endpoint: endpoint,
			Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &ProtocolError{Endpoint: endpoint, Reason: "invalid JSON: " + err.Error()}
	}

	okVal, present := payload["ok"]
	if !present {
		return nil, &ProtocolError{Endpoint: endpoint, Reason: `missing "ok" field`}
	}
	okBool, isBool := okVal.(bool)
	if !isBool {
		return nil, &ProtocolError{Endpoint: endpoint, Reason: `non-boolean "ok" field`}
	}
	if !okBool {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if e, ok := payload["error"].(string); ok && e != "" {
			msg = e
		}
		return nil, &ExecutionError{Endpoint: endpoint, Message: msg}
	}

	delete(payload, "ok")
	return payload, nil
}

// noteSuccess resets the consecutive transport-failure counter.
func (c *Client) noteSuccess() {
	c.mu.Lock()
	c.transportFailures = 0
	c.mu.Unlock()
}

// noteTransportFailure counts a surfaced transport failure and
// invalidates the capability cache once the threshold is hit, forcing
// a re-probe on the next call.
func (c *Client) noteTransportFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transportFailures++
	if c.transportFailures >= c.invalidateAfter && c.cap != nil {
		c.cap = nil
		c.resolved = make(map[string]string)
		c.transportFailures = 0
		c.logger.Warn("capability cache invalidated after transport failures")
	}
}

// isUnknownEndpoint reports whether err means the path does not exist
// on the bridge (404 or an explicit unknown-endpoint rejection).
func isUnknownEndpoint(err error) bool {
	if err == nil {
		return false
	}
	if ee, ok := err.(*ExecutionError); ok {
		return strings.Contains(strings.ToLower(ee.Message), "unknown endpoint")
	}
	return false
}
