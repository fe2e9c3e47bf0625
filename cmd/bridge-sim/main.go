// Command bridge-sim runs an in-memory robot bridge on localhost. It
// serves the full v2 wire surface (or the legacy v1 surface with
// -legacy) so the client stack can be developed without a robot.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-pepper/internal/log"
	"github.com/teslashibe/go-pepper/pkg/bridgesim"
)

func main() {
	port := flag.String("port", "8888", "Port to listen on")
	apiKey := flag.String("api-key", "", "Require this X-API-Key on requests")
	legacy := flag.Bool("legacy", false, "Serve the v1 surface (old paths, no event stream)")
	jitter := flag.Bool("jitter", false, "Emit random sonar/touch events")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	opts := []bridgesim.Option{bridgesim.WithAdvertisedHost("localhost:" + *port)}
	if *apiKey != "" {
		opts = append(opts, bridgesim.WithAPIKey(*apiKey))
	}
	if *legacy {
		opts = append(opts, bridgesim.WithVersion("1.2.0"))
	}

	sim := bridgesim.New(opts...)

	if *jitter && !*legacy {
		go emitJitter(sim)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n👋 Shutting down...")
		sim.Shutdown()
	}()

	fmt.Printf("🤖 Bridge simulator on http://localhost:%s (legacy=%v)\n", *port, *legacy)
	if err := sim.Listen(*port); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

// emitJitter pushes plausible sensor noise so stream consumers have
// something to chew on.
func emitJitter(sim *bridgesim.Server) {
	sensorNames := []string{"head", "left_hand", "right_hand"}
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		sim.Emit("sonar", map[string]any{
			"front": 0.5 + rand.Float64()*2.5,
			"back":  0.5 + rand.Float64()*2.5,
		})
		if rand.Intn(4) == 0 {
			sensor := sensorNames[rand.Intn(len(sensorNames))]
			sim.Emit("touch", map[string]any{"sensor": sensor, "touched": true})
			sim.Emit("touch", map[string]any{"sensor": sensor, "touched": false})
		}
		if rand.Intn(6) == 0 {
			sim.Emit("people", map[string]any{"count": rand.Intn(3)})
		}
	}
}
