package conversation

import (
	"context"
	"sync"
	"testing"

	"github.com/teslashibe/go-pepper/pkg/inference"
	"github.com/teslashibe/go-pepper/pkg/tools"
)

// fakeRunner satisfies ToolRunner without a bridge. Results come from
// the resultFunc, defaulting to success.
type fakeRunner struct {
	mu         sync.Mutex
	executed   []inference.ToolCall
	resultFunc func(call inference.ToolCall) tools.Result
	motion     map[string]bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{motion: map[string]bool{"move_forward": true, "turn": true}}
}

func (f *fakeRunner) Schemas() []inference.Tool {
	return []inference.Tool{inference.NewTool("speak", "Say something", map[string]any{"type": "object"})}
}

func (f *fakeRunner) IsMotion(name string) bool { return f.motion[name] }

func (f *fakeRunner) Execute(ctx context.Context, call inference.ToolCall) tools.Result {
	f.mu.Lock()
	f.executed = append(f.executed, call)
	f.mu.Unlock()
	if f.resultFunc != nil {
		return f.resultFunc(call)
	}
	return tools.Result{CallID: call.ID, Tool: call.Name, Success: true, Payload: map[string]any{"result": "done"}}
}

func (f *fakeRunner) ExecuteAll(ctx context.Context, calls []inference.ToolCall) []tools.Result {
	out := make([]tools.Result, 0, len(calls))
	for _, c := range calls {
		out = append(out, f.Execute(ctx, c))
	}
	return out
}

func (f *fakeRunner) calls() []inference.ToolCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]inference.ToolCall, len(f.executed))
	copy(out, f.executed)
	return out
}

func toolCallResponse(calls ...inference.ToolCall) *inference.ChatResponse {
	return &inference.ChatResponse{
		Message:      inference.Message{Role: inference.RoleAssistant, ToolCalls: calls},
		FinishReason: "tool_calls",
		Model:        "test-model",
	}
}

func textResponse(text string) *inference.ChatResponse {
	return &inference.ChatResponse{
		Message:      inference.NewAssistantMessage(text),
		FinishReason: "stop",
		Model:        "test-model",
	}
}

func TestPlainTextReply(t *testing.T) {
	provider := inference.Scripted(textResponse("Hello!"))
	runner := newFakeRunner()
	o := New(provider, runner)

	reply, err := o.Process(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if reply.Text != "Hello!" {
		t.Errorf("text = %q", reply.Text)
	}
	if reply.Rounds != 1 || len(reply.ToolCalls) != 0 {
		t.Errorf("reply = %+v", reply)
	}
	if len(runner.calls()) != 0 {
		t.Error("no tools should have run")
	}

	hist := o.History()
	if len(hist) != 2 || hist[0].Role != inference.RoleUser || hist[1].Role != inference.RoleAssistant {
		t.Errorf("history = %+v", hist)
	}
}

func TestToolRoundThenText(t *testing.T) {
	provider := inference.Scripted(
		toolCallResponse(inference.ToolCall{ID: "c1", Name: "speak", Arguments: `{"text":"hi"}`}),
		textResponse("Said it."),
	)
	runner := newFakeRunner()
	o := New(provider, runner)

	reply, err := o.Process(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if reply.Text != "Said it." {
		t.Errorf("text = %q", reply.Text)
	}
	if reply.Rounds != 2 {
		t.Errorf("rounds = %d, want 2", reply.Rounds)
	}
	if len(reply.ToolCalls) != 1 || reply.ToolCalls[0].Name != "speak" {
		t.Fatalf("traces = %+v", reply.ToolCalls)
	}
	if !reply.ToolCalls[0].Result.Success {
		t.Error("trace result should be success")
	}

	// History interleaves: user, assistant(tool_calls), tool, assistant.
	hist := o.History()
	if len(hist) != 4 {
		t.Fatalf("history length = %d, want 4", len(hist))
	}
	if hist[2].Role != inference.RoleTool || hist[2].ToolCallID != "c1" {
		t.Errorf("tool message = %+v", hist[2])
	}
}

func TestRoundLimitSynthesizesReply(t *testing.T) {
	// Provider that always wants another tool call never terminates on
	// its own; the orchestrator must cut it off.
	provider := inference.Scripted(
		toolCallResponse(inference.ToolCall{ID: "loop", Name: "speak", Arguments: `{"text":"again"}`}),
	)
	runner := newFakeRunner()
	o := New(provider, runner, WithMaxToolRounds(3))

	reply, err := o.Process(context.Background(), "go wild")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if reply.Text != roundLimitReply {
		t.Errorf("text = %q, want round-limit reply", reply.Text)
	}
	if reply.Rounds != 3 {
		t.Errorf("rounds = %d, want 3", reply.Rounds)
	}
	if provider.CallCount("Chat") != 3 {
		t.Errorf("provider calls = %d, want 3", provider.CallCount("Chat"))
	}
	if len(runner.calls()) != 3 {
		t.Errorf("tool executions = %d, want 3", len(runner.calls()))
	}
	if o.Phase() != PhaseIdle {
		t.Errorf("phase = %v, want idle", o.Phase())
	}
}

func TestCancelIssuesEmergencyStopAfterInterruptedMotion(t *testing.T) {
	provider := inference.Scripted(
		toolCallResponse(inference.ToolCall{ID: "m1", Name: "move_forward", Arguments: `{"distance":1}`}),
	)
	runner := newFakeRunner()
	runner.resultFunc = func(call inference.ToolCall) tools.Result {
		if call.Name == "move_forward" {
			// Cancellation arrived while the command was on the wire;
			// the command still completed on the robot.
			return tools.Result{CallID: call.ID, Tool: call.Name, Success: true, Interrupted: true}
		}
		return tools.Result{CallID: call.ID, Tool: call.Name, Success: true}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(provider, runner)
	_, err := o.Process(ctx, "walk forward")
	if err == nil {
		t.Fatal("expected context error")
	}

	calls := runner.calls()
	if len(calls) != 2 {
		t.Fatalf("executions = %d, want motion + emergency stop", len(calls))
	}
	if calls[1].Name != "emergency_stop" {
		t.Errorf("followup call = %q, want emergency_stop", calls[1].Name)
	}
	if calls[1].ID == "" || calls[1].ID == calls[0].ID {
		t.Errorf("emergency stop needs its own call ID, got %q", calls[1].ID)
	}
}

func TestCancelWithoutMotionSkipsEmergencyStop(t *testing.T) {
	provider := inference.Scripted(
		toolCallResponse(inference.ToolCall{ID: "s1", Name: "speak", Arguments: `{"text":"hi"}`}),
	)
	runner := newFakeRunner()
	runner.resultFunc = func(call inference.ToolCall) tools.Result {
		return tools.Result{CallID: call.ID, Tool: call.Name, Success: true, Interrupted: true}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(provider, runner)
	_, err := o.Process(ctx, "say hi")
	if err == nil {
		t.Fatal("expected context error")
	}
	if n := len(runner.calls()); n != 1 {
		t.Errorf("executions = %d, want 1 (no emergency stop for speech)", n)
	}
}

func TestCancelSkippedMotionSkipsEmergencyStop(t *testing.T) {
	// A motion call skipped before dispatch never reached the robot,
	// so there is nothing to stop.
	provider := inference.Scripted(
		toolCallResponse(inference.ToolCall{ID: "m1", Name: "move_forward", Arguments: `{"distance":1}`}),
	)
	runner := newFakeRunner()
	runner.resultFunc = func(call inference.ToolCall) tools.Result {
		return tools.Result{CallID: call.ID, Tool: call.Name, Error: "canceled before execution", Kind: tools.KindCanceled}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(provider, runner)
	_, err := o.Process(ctx, "walk forward")
	if err == nil {
		t.Fatal("expected context error")
	}
	if n := len(runner.calls()); n != 1 {
		t.Errorf("executions = %d, want 1 (no emergency stop for a skipped motion)", n)
	}
}

func TestHistoryTrimsToContextWindow(t *testing.T) {
	provider := inference.Scripted(textResponse("ok"))
	o := New(provider, newFakeRunner(), WithContextWindow(2))

	for i := 0; i < 5; i++ {
		if _, err := o.Process(context.Background(), "ping"); err != nil {
			t.Fatalf("Process failed: %v", err)
		}
	}

	hist := o.History()
	if len(hist) != 4 {
		t.Fatalf("history length = %d, want 4", len(hist))
	}
	// Newest exchange must survive the trim.
	if hist[len(hist)-1].Content != "ok" {
		t.Errorf("last message = %+v", hist[len(hist)-1])
	}
}

func TestTrimNeverOrphansToolResults(t *testing.T) {
	// A tiny window forces the cut to land inside the tool round. A
	// tool message whose assistant tool_calls turn was evicted must go
	// too: providers reject a history opening with an orphan tool turn.
	provider := inference.Scripted(
		toolCallResponse(inference.ToolCall{ID: "c1", Name: "speak", Arguments: `{"text":"hi"}`}),
		textResponse("Said it."),
	)
	o := New(provider, newFakeRunner(), WithContextWindow(1))

	if _, err := o.Process(context.Background(), "say hi"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	hist := o.History()
	if len(hist) == 0 {
		t.Fatal("history is empty")
	}
	if hist[0].Role == inference.RoleTool {
		t.Errorf("history opens with an orphan tool message: %+v", hist[0])
	}
	if hist[len(hist)-1].Content != "Said it." {
		t.Errorf("last message = %+v", hist[len(hist)-1])
	}
	for i, msg := range hist {
		if msg.Role != inference.RoleTool {
			continue
		}
		if i == 0 || len(hist[i-1].ToolCalls) == 0 {
			t.Errorf("tool message at %d is not preceded by its tool_calls turn", i)
		}
	}
}

func TestRoundLimitPassesThroughResponding(t *testing.T) {
	provider := inference.Scripted(
		toolCallResponse(inference.ToolCall{ID: "loop", Name: "speak", Arguments: `{"text":"again"}`}),
	)
	var phases []Phase
	o := New(provider, newFakeRunner(),
		WithMaxToolRounds(2),
		WithPhaseCallback(func(p Phase) { phases = append(phases, p) }),
	)

	if _, err := o.Process(context.Background(), "go wild"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(phases) < 2 {
		t.Fatalf("phases = %v", phases)
	}
	if phases[len(phases)-2] != PhaseResponding || phases[len(phases)-1] != PhaseIdle {
		t.Errorf("final transitions = %v, want responding then idle", phases[len(phases)-2:])
	}
}

func TestResetStartsNewSession(t *testing.T) {
	provider := inference.Scripted(textResponse("ok"))
	o := New(provider, newFakeRunner())

	first := o.SessionID()
	if first == "" {
		t.Fatal("empty session ID")
	}
	if _, err := o.Process(context.Background(), "hi"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	o.Reset()
	if o.SessionID() == first {
		t.Error("Reset should mint a new session ID")
	}
	if len(o.History()) != 0 {
		t.Error("Reset should clear history")
	}
}

func TestProviderErrorPropagates(t *testing.T) {
	provider := inference.WithError(inference.ErrProviderUnavailable)
	o := New(provider, newFakeRunner())

	_, err := o.Process(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if o.Phase() != PhaseIdle {
		t.Errorf("phase = %v, want idle", o.Phase())
	}
}

// System turn is rebuilt per request with live state, outside history.
func TestSystemPromptCarriesState(t *testing.T) {
	var seen []inference.Message
	provider := &inference.Mock{
		ChatFunc: func(ctx context.Context, req *inference.ChatRequest) (*inference.ChatResponse, error) {
			seen = req.Messages
			return textResponse("ok"), nil
		},
	}
	o := New(provider, newFakeRunner(),
		WithSystemPrompt("You are a robot."),
		WithStateFunc(func() string { return "Current robot state: battery=80%" }),
	)

	if _, err := o.Process(context.Background(), "hi"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(seen) == 0 || seen[0].Role != inference.RoleSystem {
		t.Fatalf("first message = %+v", seen)
	}
	if seen[0].Content != "You are a robot.\n\nCurrent robot state: battery=80%" {
		t.Errorf("system prompt = %q", seen[0].Content)
	}
}
