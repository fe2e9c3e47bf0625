// Package conversation runs multi-turn tool-calling conversations
// between an AI provider and the robot.
//
// Each user input is sent to the provider together with the tool
// schemas. When the provider answers with tool calls, they are executed
// in order, their results fed back, and the loop continues until the
// provider produces a plain text reply or the round limit is hit. The
// round limit exists because a model that keeps chaining actions on a
// physical robot must be stopped, not indulged.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-pepper/internal/log"
	"github.com/teslashibe/go-pepper/pkg/inference"
	"github.com/teslashibe/go-pepper/pkg/tools"
)

const (
	// DefaultMaxToolRounds caps provider round-trips per user input.
	DefaultMaxToolRounds = 10

	// DefaultContextWindow is the number of exchanges kept in history.
	DefaultContextWindow = 20

	// roundLimitReply is spoken when the round limit cuts a turn short.
	roundLimitReply = "I got carried away with actions. Let me know if you need anything else."
)

// DefaultSystemPrompt is the base persona instruction. Callers usually
// extend it with live robot state via WithStateFunc.
const DefaultSystemPrompt = `You are Pepper, a friendly humanoid robot. You can speak, move, ` +
	`look around, change your eye color, and read your own sensors through the tools ` +
	`provided. Keep spoken replies short and warm. Use tools when the user asks you to ` +
	`act; answer directly when they only want information.`

// Phase is the orchestrator's position in the tool-calling loop.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingProvider
	PhaseExecutingTools
	PhaseResponding
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingProvider:
		return "awaiting_provider"
	case PhaseExecutingTools:
		return "executing_tools"
	case PhaseResponding:
		return "responding"
	default:
		return "unknown"
	}
}

// ToolRunner is the executor surface the orchestrator needs. It is
// satisfied by *tools.Executor.
type ToolRunner interface {
	Schemas() []inference.Tool
	IsMotion(name string) bool
	Execute(ctx context.Context, call inference.ToolCall) tools.Result
	ExecuteAll(ctx context.Context, calls []inference.ToolCall) []tools.Result
}

// ToolTrace records one executed tool call for the caller (UIs, logs).
type ToolTrace struct {
	Name      string
	Arguments string
	Result    tools.Result
}

// Reply is the outcome of one processed user input.
type Reply struct {
	// Text is the provider's final spoken reply. When the round limit
	// was hit it carries a fixed wrap-up message instead.
	Text string

	// ToolCalls lists every tool executed during the turn, in order.
	ToolCalls []ToolTrace

	// Rounds is how many provider round-trips the turn took.
	Rounds int

	// Model is the model that produced the final response.
	Model string
}

// Orchestrator drives the conversation loop for one session.
type Orchestrator struct {
	provider inference.Provider
	runner   ToolRunner
	logger   *slog.Logger

	maxRounds     int
	contextWindow int
	systemPrompt  string
	stateFunc     func() string
	onPhase       func(Phase)

	mu        sync.Mutex
	sessionID string
	history   []inference.Message
	phase     Phase
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSystemPrompt replaces the default persona instruction.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.systemPrompt = prompt }
}

// WithStateFunc supplies live robot state appended to the system prompt
// on every provider call.
func WithStateFunc(fn func() string) Option {
	return func(o *Orchestrator) { o.stateFunc = fn }
}

// WithMaxToolRounds overrides the per-turn round limit.
func WithMaxToolRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithContextWindow overrides how many exchanges history retains.
func WithContextWindow(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.contextWindow = n
		}
	}
}

// WithPhaseCallback registers a callback invoked on every phase
// transition. Useful for dashboards tracking where a turn is.
func WithPhaseCallback(fn func(Phase)) Option {
	return func(o *Orchestrator) { o.onPhase = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator with a fresh session ID.
func New(provider inference.Provider, runner ToolRunner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:      provider,
		runner:        runner,
		logger:        log.Component("conversation"),
		maxRounds:     DefaultMaxToolRounds,
		contextWindow: DefaultContextWindow,
		systemPrompt:  DefaultSystemPrompt,
		sessionID:     uuid.NewString(),
		phase:         PhaseIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SessionID returns the current session's identifier.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// Phase returns the orchestrator's current loop phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// History returns a copy of the conversation history, system turn
// excluded.
func (o *Orchestrator) History() []inference.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]inference.Message, len(o.history))
	copy(out, o.history)
	return out
}

// Reset clears the history and starts a new session.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = nil
	o.sessionID = uuid.NewString()
	o.phase = PhaseIdle
}

// Process runs one user input through the tool-calling loop. It blocks
// until the provider produces a final text reply, the round limit is
// hit, or ctx is canceled. Cancellation takes effect at the next safe
// point: an in-flight tool call always runs to completion, the rest of
// the batch is skipped, and if cancellation arrived while a motion
// command was on the wire the robot gets a best-effort emergency stop
// before Process returns.
func (o *Orchestrator) Process(ctx context.Context, userInput string) (*Reply, error) {
	o.appendMessage(inference.NewUserMessage(userInput))

	var traces []ToolTrace
	var lastModel string

	for round := 1; round <= o.maxRounds; round++ {
		o.setPhase(PhaseAwaitingProvider)

		resp, err := o.provider.Chat(ctx, &inference.ChatRequest{
			Messages: o.buildMessages(),
			Tools:    o.runner.Schemas(),
		})
		if err != nil {
			o.setPhase(PhaseIdle)
			return nil, err
		}
		lastModel = resp.Model

		if len(resp.Message.ToolCalls) == 0 {
			o.setPhase(PhaseResponding)
			if resp.Message.Content != "" {
				o.appendMessage(inference.NewAssistantMessage(resp.Message.Content))
			}
			o.setPhase(PhaseIdle)
			return &Reply{
				Text:      resp.Message.Content,
				ToolCalls: traces,
				Rounds:    round,
				Model:     resp.Model,
			}, nil
		}

		o.appendMessage(resp.Message)
		o.setPhase(PhaseExecutingTools)

		results := o.runner.ExecuteAll(ctx, resp.Message.ToolCalls)
		for i, res := range results {
			o.appendMessage(res.Message())
			traces = append(traces, ToolTrace{
				Name:      resp.Message.ToolCalls[i].Name,
				Arguments: resp.Message.ToolCalls[i].Arguments,
				Result:    res,
			})
		}

		if ctx.Err() != nil {
			o.stopInterruptedMotion(results)
			o.setPhase(PhaseIdle)
			return &Reply{ToolCalls: traces, Rounds: round, Model: lastModel}, ctx.Err()
		}
	}

	o.logger.Warn("tool round limit hit", "session", o.SessionID(), "rounds", o.maxRounds)
	o.setPhase(PhaseResponding)
	o.appendMessage(inference.NewAssistantMessage(roundLimitReply))
	o.setPhase(PhaseIdle)
	return &Reply{
		Text:      roundLimitReply,
		ToolCalls: traces,
		Rounds:    o.maxRounds,
		Model:     lastModel,
	}, nil
}

// stopInterruptedMotion issues an emergency stop when cancellation
// arrived while a motion command was on the wire. The command still ran
// to completion, so the robot may be mid-movement; motion calls skipped
// before dispatch never reached the robot and need no stop. Runs on its
// own context: the caller's is dead.
func (o *Orchestrator) stopInterruptedMotion(results []tools.Result) {
	interrupted := false
	for _, res := range results {
		if res.Interrupted && o.runner.IsMotion(res.Tool) {
			interrupted = true
			break
		}
	}
	if !interrupted {
		return
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := o.runner.Execute(stopCtx, inference.ToolCall{
		ID:   "estop-" + uuid.NewString(),
		Name: "emergency_stop",
	})
	if !res.Success {
		o.logger.Error("emergency stop after interrupted motion failed", "error", res.Error)
		return
	}
	o.logger.Warn("emergency stop issued after interrupted motion")
}

// buildMessages assembles the provider request: system turn first, then
// the retained history.
func (o *Orchestrator) buildMessages() []inference.Message {
	system := o.systemPrompt
	if o.stateFunc != nil {
		if state := o.stateFunc(); state != "" {
			system += "\n\n" + state
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := make([]inference.Message, 0, len(o.history)+1)
	msgs = append(msgs, inference.NewSystemMessage(system))
	msgs = append(msgs, o.history...)
	return msgs
}

// appendMessage adds to history and trims to the context window. The
// window counts exchanges, so up to 2*window messages survive; the
// system turn lives outside history and is never trimmed. A tool
// result is only valid after the assistant turn that requested it, so
// any tool messages the cut orphaned at the front are dropped too.
func (o *Orchestrator) appendMessage(msg inference.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, msg)
	limit := o.contextWindow * 2
	if len(o.history) <= limit {
		return
	}
	trimmed := o.history[len(o.history)-limit:]
	for len(trimmed) > 0 && trimmed[0].Role == inference.RoleTool {
		trimmed = trimmed[1:]
	}
	o.history = append(o.history[:0:0], trimmed...)
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	changed := o.phase != p
	o.phase = p
	fn := o.onPhase
	o.mu.Unlock()
	if changed && fn != nil {
		fn(p)
	}
}
