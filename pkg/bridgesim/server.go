package bridgesim

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-pepper/internal/log"
	"github.com/teslashibe/go-pepper/pkg/hub"
)

// Server simulates one robot bridge.
type Server struct {
	app    *fiber.App
	logger *slog.Logger

	apiKey  string
	version string
	host    string

	state  *robotState
	events *hub.Hub

	stopBattery chan struct{}
}

// Option configures the simulator.
type Option func(*Server)

// WithAPIKey requires the given X-API-Key on every request.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithVersion sets the advertised bridge version. A version below 2
// serves the legacy v1 surface: old endpoint paths, no event stream.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithAdvertisedHost sets the host used in stream URLs, e.g.
// "10.0.100.100:8888". Defaults to localhost with the listen port.
func WithAdvertisedHost(host string) Option {
	return func(s *Server) { s.host = host }
}

// New creates a simulator. Call Listen to serve.
func New(opts ...Option) *Server {
	s := &Server{
		logger:      log.Component("bridgesim"),
		version:     "2.0.0",
		state:       newRobotState(),
		events:      hub.New("events"),
		stopBattery: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		AppName:               "pepper-bridge-sim",
		DisableStartupMessage: true,
	})

	app.Use(s.authMiddleware)

	app.Get("/health", s.handleHealth)
	app.Get("/status", s.handleStatus)
	app.Get("/sensors", s.handleSensors)
	app.Get("/picture", s.handlePicture)
	app.Post("/speak", s.handleSpeak)
	app.Post("/volume", s.handleVolume)
	app.Post("/stop", s.handleStop)
	app.Post("/posture", s.handlePosture)
	app.Post("/rest", s.handleRest)

	if s.legacy() {
		app.Post("/move_forward", s.handleMoveForward)
		app.Post("/turn", s.handleTurn)
		app.Post("/estop", s.handleEmergencyStop)
		app.Post("/wakeup", s.handleWakeUp)
		app.Post("/led", s.handleEyeLeds)
	} else {
		app.Post("/move/forward", s.handleMoveForward)
		app.Post("/move/turn", s.handleTurn)
		app.Post("/move/head", s.handleMoveHead)
		app.Post("/move/to", s.handleMoveTo)
		app.Post("/emergency_stop", s.handleEmergencyStop)
		app.Post("/wake_up", s.handleWakeUp)
		app.Post("/leds/eyes", s.handleEyeLeds)
		app.Post("/leds/chest", s.handleChestLeds)
		app.Get("/animations", s.handleAnimations)
		app.Post("/animation", s.handleAnimation)
		app.Post("/awareness", s.handleAwareness)
		app.Post("/tablet/text", s.handleTabletText)
		app.Post("/tablet/image", s.handleTabletImage)
		app.Post("/tablet/web", s.handleTabletWeb)
		app.Post("/tablet/hide", s.handleTabletHide)

		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/events", websocket.New(s.handleEventsWS))
	}

	// Unknown paths still answer in envelope form so clients can tell
	// a missing endpoint from a dead bridge.
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"ok": false, "error": "unknown endpoint",
		})
	})

	s.app = app
	return s
}

func (s *Server) legacy() bool {
	return !strings.HasPrefix(s.version, "2.")
}

// Listen serves on the given port and blocks.
func (s *Server) Listen(port string) error {
	if s.host == "" {
		s.host = "localhost:" + port
	}
	go s.events.Run()
	go s.batteryLoop()
	s.logger.Info("bridge simulator listening", "port", port, "version", s.version)
	return s.app.Listen(":" + port)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	close(s.stopBattery)
	return s.app.Shutdown()
}

// App exposes the fiber app for in-process tests.
func (s *Server) App() *fiber.App {
	if s.host == "" {
		s.host = "localhost:8888"
	}
	if !s.events.IsRunning() {
		go s.events.Run()
	}
	return s.app
}

// Emit broadcasts one push event to all stream subscribers.
func (s *Server) Emit(eventType string, data map[string]any) {
	s.events.BroadcastJSON(fiber.Map{
		"type":      eventType,
		"data":      data,
		"timestamp": float64(time.Now().UnixNano()) / 1e9,
	})
}

// batteryLoop publishes the draining battery level every 30s.
func (s *Server) batteryLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopBattery:
			return
		case <-ticker.C:
			s.Emit("battery", map[string]any{"level": s.state.drainBattery()})
		}
	}
}

func (s *Server) authMiddleware(c *fiber.Ctx) error {
	if s.apiKey != "" && c.Get("X-API-Key") != s.apiKey {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"ok": false, "error": "unauthorized",
		})
	}
	return c.Next()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"ok":        true,
		"version":   s.version,
		"robot":     "pepper-sim",
		"endpoints": s.advertisedEndpoints(),
	}
	if !s.legacy() {
		resp["streams"] = fiber.Map{
			"events": fmt.Sprintf("ws://%s/ws/events", s.host),
		}
	}
	return c.JSON(resp)
}

func (s *Server) advertisedEndpoints() []string {
	common := []string{
		"/health", "/status", "/sensors", "/picture",
		"/speak", "/volume", "/stop", "/posture", "/rest",
	}
	if s.legacy() {
		return append(common,
			"/move_forward", "/turn", "/estop", "/wakeup", "/led")
	}
	return append(common,
		"/move/forward", "/move/turn", "/move/head", "/move/to",
		"/emergency_stop", "/wake_up", "/leds/eyes", "/leds/chest",
		"/animations", "/animation", "/awareness",
		"/tablet/text", "/tablet/image", "/tablet/web", "/tablet/hide")
}

// handleEventsWS attaches a stream subscriber. Application-level pings
// are answered with pongs on the same connection.
func (s *Server) handleEventsWS(conn *websocket.Conn) {
	client := hub.NewClientWithHandler(s.events, conn, func(c *hub.Client, data []byte) {
		if strings.Contains(string(data), `"ping"`) {
			pong := fmt.Sprintf(`{"type":"pong","timestamp":%f}`,
				float64(time.Now().UnixNano())/1e9)
			c.Send(hub.NewJSONMessage([]byte(pong)))
		}
	})
	client.Run()
}
