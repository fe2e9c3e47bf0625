// Command pepper is an interactive chat console for a Pepper robot.
// It connects to the robot's bridge, negotiates capabilities, attaches
// to the push-event stream when one is offered, and runs user input
// through an AI tool-calling loop that drives the robot.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"

	"github.com/teslashibe/go-pepper/internal/config"
	"github.com/teslashibe/go-pepper/internal/log"
	"github.com/teslashibe/go-pepper/pkg/bridge"
	"github.com/teslashibe/go-pepper/pkg/conversation"
	"github.com/teslashibe/go-pepper/pkg/events"
	"github.com/teslashibe/go-pepper/pkg/inference"
	"github.com/teslashibe/go-pepper/pkg/robot"
	"github.com/teslashibe/go-pepper/pkg/sensors"
	"github.com/teslashibe/go-pepper/pkg/tools"
	"github.com/teslashibe/go-pepper/pkg/web"
)

func main() {
	bridgeURL := flag.String("bridge", "", "Bridge base URL (or set BRIDGE_URL)")
	robotIP := flag.String("robot", "", "Robot IP, shorthand for -bridge http://IP:8888")
	model := flag.String("model", "", "Chat model (default gpt-4o-mini)")
	say := flag.String("say", "", "Process one input and exit instead of the REPL")
	dashboard := flag.String("dashboard", "", "Serve the web dashboard on this port")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	url := *bridgeURL
	if url == "" && *robotIP != "" {
		url = config.BridgeURLFromIP(*robotIP)
	}
	if url == "" {
		url = config.BridgeURL("")
	}
	if url == "" {
		fmt.Fprintln(os.Stderr, "Error: provide -bridge, -robot, or BRIDGE_URL")
		os.Exit(1)
	}

	apiKey := config.OpenAIKey()
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: OPENAI_API_KEY is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge connection and capability probe.
	client := bridge.New(url, bridge.WithAPIKey(config.BridgeAPIKey()))
	capability, err := client.Probe(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reach bridge at %s: %v\n", url, err)
		os.Exit(1)
	}
	fmt.Printf("🤖 Connected to bridge %s (v%s)\n", url, capability.Version)

	pepper := robot.New(client)

	// Event stream, when the bridge offers one.
	var stream *events.Stream
	if wsURL := capability.EventStreamURL(); wsURL != "" {
		stream = events.NewStream(wsURL)
		if err := stream.Start(ctx); err != nil {
			log.Warn("event stream unavailable", "error", err)
			stream = nil
		} else {
			fmt.Println("📡 Event stream connected")
			defer stream.Stop()
		}
	}

	// Sensor monitor feeds robot state into the system prompt and
	// surfaces touch events on the console.
	monitorOpts := []sensors.Option{}
	if stream != nil {
		monitorOpts = append(monitorOpts, sensors.WithStream(stream))
	}
	monitor := sensors.New(pepper, monitorOpts...)
	monitor.OnTouch(func(sensor string, touched bool) {
		if touched {
			fmt.Printf("✋ Touch: %s\n", sensor)
		}
	})
	monitor.Start(ctx)
	defer monitor.Stop()

	// AI provider and orchestrator.
	providerOpts := []inference.Option{inference.WithAPIKey(apiKey)}
	if *model != "" {
		providerOpts = append(providerOpts, inference.WithModel(*model))
	}
	provider, err := inference.NewClient(providerOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create AI provider: %v\n", err)
		os.Exit(1)
	}
	defer provider.Close()

	executor := tools.NewExecutor(client)

	// Optional web dashboard: live state, transcript, manual triggers.
	var dash *web.Server
	if *dashboard != "" {
		dash = web.NewServer(*dashboard)
		toolInfos := make([]web.ToolInfo, 0)
		for _, schema := range executor.Schemas() {
			toolInfos = append(toolInfos, web.ToolInfo{
				Name:        schema.Function.Name,
				Description: schema.Function.Description,
			})
		}
		dash.SetTools(toolInfos)
		dash.OnToolTrigger = func(name string, args map[string]interface{}) (string, error) {
			encoded, err := json.Marshal(args)
			if err != nil {
				return "", err
			}
			res := executor.Execute(ctx, inference.ToolCall{
				ID:        "manual-" + uuid.NewString(),
				Name:      name,
				Arguments: string(encoded),
			})
			if !res.Success {
				return "", fmt.Errorf("%s", res.Error)
			}
			return res.Message().Content, nil
		}
		dash.UpdateState(func(st *web.PepperState) {
			st.BridgeConnected = true
			st.BridgeVersion = capability.Version
			if stream != nil {
				st.StreamState = stream.State().String()
			}
		})
		dash.StartAsync()
		defer dash.Shutdown()
		fmt.Printf("🌐 Dashboard: http://localhost:%s\n", *dashboard)
	}

	orchestrator := conversation.New(provider, executor,
		conversation.WithStateFunc(func() string {
			snap := monitor.Snapshot()
			return fmt.Sprintf("Current robot state: battery=%.0f%%, temperature=%.0fC, people_nearby=%d",
				snap.Battery, snap.Temperature, snap.People)
		}),
	)

	// First Ctrl-C cancels the in-flight turn, second exits.
	var inTurn atomic.Bool
	turnCancel := make(chan struct{}, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sigChan {
			if inTurn.Load() {
				fmt.Println("\n⏹  Interrupting...")
				select {
				case turnCancel <- struct{}{}:
				default:
				}
				continue
			}
			fmt.Println("\n👋 Goodbye!")
			cancel()
			os.Exit(0)
		}
	}()

	process := func(input string) {
		turnCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			select {
			case <-turnCancel:
				stop()
			case <-done:
			}
		}()

		inTurn.Store(true)
		if dash != nil {
			snap := monitor.Snapshot()
			dash.AddConversation("user", input)
			dash.UpdateState(func(st *web.PepperState) {
				st.Busy = true
				st.LastUserMessage = input
				st.Battery = snap.Battery
				st.People = snap.People
			})
		}
		reply, err := orchestrator.Process(turnCtx, input)
		inTurn.Store(false)
		close(done)
		stop()

		if err != nil {
			fmt.Printf("⚠️  %v\n", err)
			if dash != nil {
				dash.AddLog("error", err.Error())
				dash.UpdateState(func(st *web.PepperState) { st.Busy = false })
			}
			return
		}
		for _, trace := range reply.ToolCalls {
			marker := "✅"
			if !trace.Result.Success {
				marker = "❌"
			}
			fmt.Printf("  %s %s %s\n", marker, trace.Name, trace.Arguments)
			if dash != nil {
				dash.AddLog("tool", trace.Name+" "+trace.Arguments)
			}
		}
		if reply.Text != "" {
			fmt.Printf("🤖 %s\n", reply.Text)
			if err := pepper.Speak(ctx, reply.Text); err != nil {
				log.Warn("speak failed", "error", err)
			}
		}
		if dash != nil {
			dash.AddConversation("pepper", reply.Text)
			dash.UpdateState(func(st *web.PepperState) {
				st.Busy = false
				st.LastReply = reply.Text
			})
		}
	}

	if *say != "" {
		process(*say)
		return
	}

	fmt.Println("💬 Chat with Pepper (Ctrl-C to interrupt, Ctrl-D to quit)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		process(input)
	}
	fmt.Println("👋 Goodbye!")
}
