// Package web provides a real-time dashboard for a Pepper session: live
// robot state, conversation transcript, and manual tool triggering.
package web

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-pepper/internal/log"
	"github.com/teslashibe/go-pepper/pkg/hub"
)

// PepperState is the session state shown on the dashboard.
type PepperState struct {
	BridgeConnected bool    `json:"bridge_connected"`
	BridgeVersion   string  `json:"bridge_version"`
	StreamState     string  `json:"stream_state"`
	Battery         float64 `json:"battery"`
	People          int     `json:"people"`
	Busy            bool    `json:"busy"`
	LastUserMessage string  `json:"last_user_message"`
	LastReply       string  `json:"last_reply"`
}

// LogEntry represents a log line for the dashboard
type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"` // info, tool, speech, error, event
	Message string `json:"message"`
}

// ConversationEntry represents a message in the conversation
type ConversationEntry struct {
	Time    string `json:"time"`
	Role    string `json:"role"` // user, pepper, tool
	Message string `json:"message"`
}

// ToolInfo describes one triggerable tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	// State
	state   PepperState
	stateMu sync.RWMutex

	// Log buffer (last 500 entries)
	logs   []LogEntry
	logsMu sync.RWMutex

	// Conversation buffer
	conversation   []ConversationEntry
	conversationMu sync.RWMutex

	// Tools exposed for manual triggering
	tools   []ToolInfo
	toolsMu sync.RWMutex

	// Hubs for websocket broadcast (thread-safe!)
	statusHub *hub.Hub
	logHub    *hub.Hub

	// Tool trigger callback
	OnToolTrigger func(name string, args map[string]interface{}) (string, error)
}

// NewServer creates a new web dashboard server
func NewServer(port string) *Server {
	s := &Server{
		port:         port,
		logger:       log.Component("web"),
		logs:         make([]LogEntry, 0, 500),
		conversation: make([]ConversationEntry, 0, 100),
		statusHub:    hub.New("status"),
		logHub:       hub.New("logs"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Pepper Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/tools", s.handleListTools)
	api.Post("/tools/:name", s.handleTriggerTool)
	api.Get("/logs", s.handleGetLogs)
	api.Get("/conversation", s.handleGetConversation)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// SetTools publishes the triggerable tool list.
func (s *Server) SetTools(tools []ToolInfo) {
	s.toolsMu.Lock()
	s.tools = tools
	s.toolsMu.Unlock()
}

// Start starts the web server
func (s *Server) Start() error {
	s.logger.Info("dashboard listening", "url", "http://localhost:"+s.port)

	// Start all hubs
	go s.statusHub.Run()
	go s.logHub.Run()

	return s.app.Listen(":" + s.port)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server error", "error", err)
		}
	}()
}

// UpdateState updates the session state and broadcasts to clients
func (s *Server) UpdateState(update func(*PepperState)) {
	s.stateMu.Lock()
	update(&s.state)
	state := s.state // Copy for broadcast
	s.stateMu.Unlock()

	// Broadcast via hub (thread-safe!)
	s.statusHub.BroadcastJSON(state)
}

// AddLog adds a log entry and broadcasts to clients
func (s *Server) AddLog(logType, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Type:    logType,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > 500 {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	// Broadcast via hub (thread-safe!)
	s.logHub.BroadcastJSON(entry)
}

// AddConversation adds a conversation entry
func (s *Server) AddConversation(role, message string) {
	entry := ConversationEntry{
		Time:    time.Now().Format("15:04:05"),
		Role:    role,
		Message: message,
	}

	s.conversationMu.Lock()
	s.conversation = append(s.conversation, entry)
	if len(s.conversation) > 100 {
		s.conversation = s.conversation[1:]
	}
	s.conversationMu.Unlock()
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
