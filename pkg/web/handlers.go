package web

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-pepper/pkg/hub"
)

// handleStatus returns the current session state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return c.JSON(s.state)
}

// handleListTools returns the triggerable tools
func (s *Server) handleListTools(c *fiber.Ctx) error {
	s.toolsMu.RLock()
	defer s.toolsMu.RUnlock()
	return c.JSON(s.tools)
}

// TriggerToolRequest is the request body for triggering a tool
type TriggerToolRequest struct {
	Args map[string]interface{} `json:"args"`
}

// handleTriggerTool triggers a tool manually
func (s *Server) handleTriggerTool(c *fiber.Ctx) error {
	name := c.Params("name")

	var req TriggerToolRequest
	if err := c.BodyParser(&req); err != nil {
		req.Args = make(map[string]interface{})
	}

	if s.OnToolTrigger == nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Tool trigger not configured",
		})
	}

	result, err := s.OnToolTrigger(name, req.Args)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	s.AddLog("tool", "Manual: "+name+" → "+result)

	return c.JSON(fiber.Map{
		"tool":   name,
		"result": result,
	})
}

// handleGetLogs returns recent log entries
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return c.JSON(s.logs)
}

// handleGetConversation returns recent conversation
func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	s.conversationMu.RLock()
	defer s.conversationMu.RUnlock()
	return c.JSON(s.conversation)
}

// handleLogsWS streams live log entries, replaying the buffer first
func (s *Server) handleLogsWS(c *websocket.Conn) {
	s.logsMu.RLock()
	backlog := make([]LogEntry, len(s.logs))
	copy(backlog, s.logs)
	s.logsMu.RUnlock()

	client := hub.NewClient(s.logHub, c)
	for _, entry := range backlog {
		if data, err := json.Marshal(entry); err == nil {
			client.Send(hub.NewJSONMessage(data))
		}
	}
	client.Run()
}

// handleStatusWS streams state updates, sending the current state first
func (s *Server) handleStatusWS(c *websocket.Conn) {
	s.stateMu.RLock()
	state := s.state
	s.stateMu.RUnlock()

	client := hub.NewClient(s.statusHub, c)
	if data, err := json.Marshal(state); err == nil {
		client.Send(hub.NewJSONMessage(data))
	}
	client.Run()
}
