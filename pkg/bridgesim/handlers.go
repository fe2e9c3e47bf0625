package bridgesim

import (
	"encoding/base64"
	"math"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ok wraps a success payload in the wire envelope.
func ok(c *fiber.Ctx, fields fiber.Map) error {
	resp := fiber.Map{"ok": true}
	for k, v := range fields {
		resp[k] = v
	}
	return c.JSON(resp)
}

// fail answers an application-level rejection. The HTTP status stays
// 200: the bridge was reached, the robot said no.
func fail(c *fiber.Ctx, reason string) error {
	return c.JSON(fiber.Map{"ok": false, "error": reason})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return ok(c, s.state.status())
}

func (s *Server) handleSensors(c *fiber.Ctx) error {
	return ok(c, s.state.snapshot())
}

// tinyJPEG is a 1x1 gray frame, enough for clients that only check
// decoding.
var tinyJPEG = []byte{
	0xff, 0xd8, 0xff, 0xdb, 0x00, 0x43, 0x00, 0x08, 0x06, 0x06,
	0x07, 0x06, 0x05, 0x08, 0x07, 0x07, 0x07, 0x09, 0x09, 0x08,
	0x0a, 0x0c, 0x14, 0x0d, 0x0c, 0x0b, 0x0b, 0x0c, 0x19, 0x12,
	0x13, 0x0f, 0xff, 0xd9,
}

func (s *Server) handlePicture(c *fiber.Ctx) error {
	return ok(c, fiber.Map{
		"image":  base64.StdEncoding.EncodeToString(tinyJPEG),
		"width":  1,
		"height": 1,
	})
}

func (s *Server) handleSpeak(c *fiber.Ctx) error {
	var body struct {
		Text     string `json:"text"`
		Animated bool   `json:"animated"`
	}
	if err := c.BodyParser(&body); err != nil || body.Text == "" {
		return fail(c, "text is required")
	}

	s.state.mu.Lock()
	s.state.lastSpoken = body.Text
	s.state.mu.Unlock()

	s.logger.Info("speak", "text", body.Text, "animated", body.Animated)
	return ok(c, fiber.Map{"id": uuid.NewString(), "spoken": body.Text})
}

func (s *Server) handleVolume(c *fiber.Ctx) error {
	var body struct {
		Level int `json:"level"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fail(c, "level is required")
	}
	if body.Level < 0 || body.Level > 100 {
		return fail(c, "level must be 0-100")
	}

	s.state.mu.Lock()
	s.state.volume = body.Level
	s.state.mu.Unlock()
	return ok(c, fiber.Map{"level": body.Level})
}

func (s *Server) handleMoveForward(c *fiber.Ctx) error {
	var body struct {
		Distance float64 `json:"distance"`
		Speed    float64 `json:"speed"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fail(c, "distance is required")
	}
	if math.Abs(body.Distance) > 2 {
		return fail(c, "distance out of range")
	}
	if body.Speed == 0 {
		body.Speed = 0.3
	}

	s.state.mu.Lock()
	if !s.state.awake {
		s.state.mu.Unlock()
		return fail(c, "robot is resting")
	}
	rad := s.state.heading * math.Pi / 180
	s.state.x += body.Distance * math.Cos(rad)
	s.state.y += body.Distance * math.Sin(rad)
	s.state.mu.Unlock()

	duration := math.Abs(body.Distance) / (body.Speed * 0.5)
	return ok(c, fiber.Map{"id": uuid.NewString(), "duration": duration})
}

func (s *Server) handleTurn(c *fiber.Ctx) error {
	var body struct {
		Angle float64 `json:"angle"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fail(c, "angle is required")
	}
	if math.Abs(body.Angle) > 180 {
		return fail(c, "angle out of range")
	}

	s.state.mu.Lock()
	if !s.state.awake {
		s.state.mu.Unlock()
		return fail(c, "robot is resting")
	}
	s.state.heading = math.Mod(s.state.heading+body.Angle, 360)
	heading := s.state.heading
	s.state.mu.Unlock()
	return ok(c, fiber.Map{"id": uuid.NewString(), "heading": heading})
}

func (s *Server) handleMoveHead(c *fiber.Ctx) error {
	var body struct {
		Yaw   float64 `json:"yaw"`
		Pitch float64 `json:"pitch"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fail(c, "yaw and pitch are required")
	}
	if body.Yaw < -119 || body.Yaw > 119 || body.Pitch < -40 || body.Pitch > 36 {
		return fail(c, "head angle out of range")
	}

	s.state.mu.Lock()
	s.state.headYaw = body.Yaw
	s.state.headPit = body.Pitch
	s.state.mu.Unlock()
	return ok(c, nil)
}

func (s *Server) handleMoveTo(c *fiber.Ctx) error {
	var body struct {
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
		Theta float64 `json:"theta"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fail(c, "x and y are required")
	}

	s.state.mu.Lock()
	if !s.state.awake {
		s.state.mu.Unlock()
		return fail(c, "robot is resting")
	}
	s.state.x = body.X
	s.state.y = body.Y
	s.state.heading = body.Theta * 180 / math.Pi
	s.state.mu.Unlock()
	return ok(c, fiber.Map{"id": uuid.NewString()})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	s.state.mu.Lock()
	s.state.moving = false
	s.state.mu.Unlock()
	return ok(c, nil)
}

func (s *Server) handleEmergencyStop(c *fiber.Ctx) error {
	s.state.mu.Lock()
	s.state.moving = false
	s.state.awake = false
	s.state.mu.Unlock()
	s.logger.Warn("emergency stop")
	return ok(c, fiber.Map{"stopped": true})
}

func (s *Server) handlePosture(c *fiber.Ctx) error {
	var body struct {
		Posture string  `json:"posture"`
		Speed   float64 `json:"speed"`
	}
	if err := c.BodyParser(&body); err != nil || body.Posture == "" {
		return fail(c, "posture is required")
	}
	switch body.Posture {
	case "Stand", "StandInit", "StandZero", "Crouch":
	default:
		return fail(c, "unknown posture")
	}

	s.state.mu.Lock()
	s.state.posture = body.Posture
	s.state.mu.Unlock()
	return ok(c, fiber.Map{"posture": body.Posture})
}

func (s *Server) handleWakeUp(c *fiber.Ctx) error {
	s.state.mu.Lock()
	s.state.awake = true
	s.state.posture = "Stand"
	s.state.mu.Unlock()
	return ok(c, nil)
}

func (s *Server) handleRest(c *fiber.Ctx) error {
	s.state.mu.Lock()
	s.state.awake = false
	s.state.posture = "Crouch"
	s.state.mu.Unlock()
	return ok(c, nil)
}

func (s *Server) handleEyeLeds(c *fiber.Ctx) error {
	var body struct {
		Color string `json:"color"`
	}
	if err := c.BodyParser(&body); err != nil || body.Color == "" {
		return fail(c, "color is required")
	}

	s.state.mu.Lock()
	s.state.eyeColor = body.Color
	s.state.mu.Unlock()
	return ok(c, fiber.Map{"color": body.Color})
}

func (s *Server) handleChestLeds(c *fiber.Ctx) error {
	var body struct {
		Color string `json:"color"`
	}
	if err := c.BodyParser(&body); err != nil || body.Color == "" {
		return fail(c, "color is required")
	}

	s.state.mu.Lock()
	s.state.chestColor = body.Color
	s.state.mu.Unlock()
	return ok(c, fiber.Map{"color": body.Color})
}

func (s *Server) handleAnimations(c *fiber.Ctx) error {
	return ok(c, fiber.Map{"animations": simAnimations})
}

func (s *Server) handleAnimation(c *fiber.Ctx) error {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&body); err != nil || body.Name == "" {
		return fail(c, "name is required")
	}
	if !validAnimation(body.Name) {
		return fail(c, "unknown animation")
	}
	return ok(c, fiber.Map{"id": uuid.NewString(), "animation": body.Name})
}

func (s *Server) handleAwareness(c *fiber.Ctx) error {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fail(c, "enabled is required")
	}

	s.state.mu.Lock()
	s.state.awareness = body.Enabled
	s.state.mu.Unlock()
	return ok(c, fiber.Map{"enabled": body.Enabled})
}

func (s *Server) handleTabletText(c *fiber.Ctx) error {
	var body struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&body); err != nil || body.Text == "" {
		return fail(c, "text is required")
	}

	s.state.mu.Lock()
	s.state.tablet = body.Text
	s.state.mu.Unlock()
	return ok(c, nil)
}

func (s *Server) handleTabletImage(c *fiber.Ctx) error {
	var body struct {
		URL string `json:"url"`
	}
	if err := c.BodyParser(&body); err != nil || body.URL == "" {
		return fail(c, "url is required")
	}

	s.state.mu.Lock()
	s.state.tablet = body.URL
	s.state.mu.Unlock()
	return ok(c, nil)
}

func (s *Server) handleTabletWeb(c *fiber.Ctx) error {
	var body struct {
		URL string `json:"url"`
	}
	if err := c.BodyParser(&body); err != nil || body.URL == "" {
		return fail(c, "url is required")
	}

	s.state.mu.Lock()
	s.state.tablet = body.URL
	s.state.mu.Unlock()
	return ok(c, nil)
}

func (s *Server) handleTabletHide(c *fiber.Ctx) error {
	s.state.mu.Lock()
	s.state.tablet = ""
	s.state.mu.Unlock()
	return ok(c, nil)
}
