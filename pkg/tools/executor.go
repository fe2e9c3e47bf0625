package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/teslashibe/go-pepper/internal/log"
	"github.com/teslashibe/go-pepper/pkg/bridge"
	"github.com/teslashibe/go-pepper/pkg/inference"
)

// ErrorKind classifies why a tool call failed, so callers (and the
// model, via the result payload) can tell a bad argument from a dead
// bridge.
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindValidation  ErrorKind = "validation"
	KindCapability  ErrorKind = "capability_unavailable"
	KindTransport   ErrorKind = "transport"
	KindExecution   ErrorKind = "execution"
	KindProtocol    ErrorKind = "protocol"
	KindCanceled    ErrorKind = "canceled"
	KindUnknownTool ErrorKind = "unknown_tool"
)

// Result is the normalized outcome of one tool call. Execution never
// panics and never surfaces a raw error to the conversation loop: every
// failure mode becomes a Result the model can read.
type Result struct {
	CallID  string
	Tool    string
	Success bool
	Payload map[string]any
	Error   string
	Kind    ErrorKind

	// Interrupted reports that the caller canceled while the command
	// was on the wire. Commands are never cut off mid-flight, so the
	// command still ran; the conversation loop reads this to decide
	// whether the robot needs stopping.
	Interrupted bool
}

// Message renders the result as the tool-role message fed back to the
// provider, correlated by call ID.
func (r Result) Message() inference.Message {
	body := make(map[string]any, len(r.Payload)+2)
	body["success"] = r.Success
	if r.Error != "" {
		body["error"] = r.Error
	}
	for k, v := range r.Payload {
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		data = []byte(`{"success":false,"error":"unencodable result"}`)
	}
	return inference.NewToolMessage(r.CallID, string(data))
}

// Executor dispatches validated tool calls to the bridge. Calls within
// one AI turn are executed strictly in order; there is no parallelism,
// because two motion commands racing each other on a physical robot is
// never what the model meant.
type Executor struct {
	bridge *bridge.Client
	specs  map[string]*Spec
	logger *slog.Logger
}

// NewExecutor creates an executor over the given bridge client with the
// built-in tool set.
func NewExecutor(b *bridge.Client) *Executor {
	return &Executor{
		bridge: b,
		specs:  defaultSpecs(),
		logger: log.Component("tools"),
	}
}

// Register adds or replaces a tool spec.
func (e *Executor) Register(spec *Spec) {
	e.specs[spec.Name] = spec
}

// Schemas returns the provider-facing tool declarations, sorted by name
// so the list is stable across calls.
func (e *Executor) Schemas() []inference.Tool {
	names := make([]string, 0, len(e.specs))
	for name := range e.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]inference.Tool, 0, len(names))
	for _, name := range names {
		out = append(out, e.specs[name].Schema())
	}
	return out
}

// IsMotion reports whether the named tool physically moves the robot.
func (e *Executor) IsMotion(name string) bool {
	spec, ok := e.specs[name]
	return ok && spec.Motion
}

// Execute runs one tool call end to end: decode arguments, validate and
// clamp, dispatch over the bridge, normalize the outcome. Validation
// failures are decided locally and never touch the network.
//
// Cancellation takes effect only before dispatch. Once a command is on
// the wire it runs to completion on a context detached from the
// caller's cancel signal, bounded by the bridge client's per-call
// timeout; tearing down a half-sent motion command would leave the
// robot in an undefined pose. A command that completed after the caller
// canceled comes back with Interrupted set.
func (e *Executor) Execute(ctx context.Context, call inference.ToolCall) Result {
	res := Result{CallID: call.ID, Tool: call.Name}

	spec, ok := e.specs[call.Name]
	if !ok {
		res.Error = fmt.Sprintf("unknown tool %q", call.Name)
		res.Kind = KindUnknownTool
		return res
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			res.Error = fmt.Sprintf("malformed arguments: %v", err)
			res.Kind = KindValidation
			return res
		}
	}

	wireArgs, extras, err := spec.Prepare(args)
	if err != nil {
		verr := &ValidationError{Tool: call.Name, Reason: err.Error()}
		res.Error = verr.Error()
		res.Kind = KindValidation
		return res
	}

	if len(extras) > 0 {
		e.logger.Info("clamped tool arguments", "tool", call.Name, "values", extras)
	}

	if ctx.Err() != nil {
		res.Error = "canceled before execution"
		res.Kind = KindCanceled
		return res
	}

	payload, err := e.bridge.Invoke(context.WithoutCancel(ctx), spec.Endpoint, wireArgs)
	if ctx.Err() != nil {
		res.Interrupted = true
	}
	if err != nil {
		return e.normalizeError(res, err)
	}

	res.Success = true
	res.Payload = payload
	if len(extras) > 0 {
		if res.Payload == nil {
			res.Payload = make(map[string]any, len(extras))
		}
		for k, v := range extras {
			res.Payload[k] = v
		}
	}
	return res
}

// ExecuteAll runs the calls sequentially. Cancellation takes effect
// between calls: the in-flight call runs to completion and the
// remaining calls are reported as canceled, so the provider still
// receives one result per call.
func (e *Executor) ExecuteAll(ctx context.Context, calls []inference.ToolCall) []Result {
	results := make([]Result, 0, len(calls))
	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			for _, skipped := range calls[i:] {
				results = append(results, Result{
					CallID: skipped.ID,
					Tool:   skipped.Name,
					Error:  "canceled before execution",
					Kind:   KindCanceled,
				})
			}
			break
		}
		results = append(results, e.Execute(ctx, call))
	}
	return results
}

// normalizeError maps the bridge error taxonomy onto result kinds.
func (e *Executor) normalizeError(res Result, err error) Result {
	res.Success = false
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Error = "canceled"
		res.Kind = KindCanceled
	case bridge.IsCapability(err):
		res.Error = fmt.Sprintf("tool %q is not supported by this robot", res.Tool)
		res.Kind = KindCapability
	case bridge.IsExecution(err):
		res.Error = err.Error()
		res.Kind = KindExecution
	case bridge.IsTransport(err) || errors.Is(err, bridge.ErrDown):
		res.Error = "robot bridge unreachable, command not delivered"
		res.Kind = KindTransport
	default:
		res.Error = err.Error()
		res.Kind = KindProtocol
	}
	e.logger.Warn("tool call failed", "tool", res.Tool, "kind", string(res.Kind), "error", err)
	return res
}
