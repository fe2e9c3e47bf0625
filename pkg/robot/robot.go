package robot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-pepper/internal/log"
	"github.com/teslashibe/go-pepper/pkg/bridge"
)

// SensorSnapshot is one read of the robot's sensor surface.
type SensorSnapshot struct {
	Battery     float64            `json:"battery"`
	Temperature float64            `json:"temperature"`
	Touch       map[string]bool    `json:"touch"`
	Sonar       map[string]float64 `json:"sonar"`
}

// Photo is a camera frame returned by the bridge.
type Photo struct {
	Width  int
	Height int
	Data   []byte
}

// Robot wraps a bridge client in typed, single-purpose methods. All
// clamping and capability negotiation happens underneath, in the bridge
// client; this layer only shapes arguments and results.
type Robot struct {
	bridge *bridge.Client
	logger *slog.Logger
}

// New creates a robot facade over the given bridge client.
func New(b *bridge.Client) *Robot {
	return &Robot{bridge: b, logger: log.Component("robot")}
}

// Bridge exposes the underlying client for callers that need raw
// endpoint access.
func (r *Robot) Bridge() *bridge.Client { return r.bridge }

// Speak says text without gestures.
func (r *Robot) Speak(ctx context.Context, text string) error {
	_, err := r.bridge.Invoke(ctx, "speak", map[string]any{"text": text, "animated": false})
	return err
}

// SpeakAnimated says text with accompanying gestures.
func (r *Robot) SpeakAnimated(ctx context.Context, text string) error {
	_, err := r.bridge.Invoke(ctx, "speak", map[string]any{"text": text, "animated": true})
	return err
}

// SetVolume sets speaker volume (0-100).
func (r *Robot) SetVolume(ctx context.Context, level int) error {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	_, err := r.bridge.Invoke(ctx, "volume", map[string]any{"level": level})
	return err
}

// MoveForward moves the base by distance meters at the given speed
// factor. Negative distance moves backward.
func (r *Robot) MoveForward(ctx context.Context, distance, speed float64) error {
	_, err := r.bridge.Invoke(ctx, "move_forward", map[string]any{
		"distance": distance, "speed": speed,
	})
	return err
}

// Turn rotates the base by angle degrees. Positive is counter-clockwise.
func (r *Robot) Turn(ctx context.Context, angle float64) error {
	_, err := r.bridge.Invoke(ctx, "turn", map[string]any{"angle": angle})
	return err
}

// MoveHead points the head at yaw/pitch degrees.
func (r *Robot) MoveHead(ctx context.Context, yaw, pitch float64) error {
	_, err := r.bridge.Invoke(ctx, "move_head", map[string]any{
		"yaw": yaw, "pitch": pitch,
	})
	return err
}

// MoveTo navigates to (x, y) meters in the robot frame, final heading
// theta radians.
func (r *Robot) MoveTo(ctx context.Context, x, y, theta float64) error {
	_, err := r.bridge.Invoke(ctx, "move_to", map[string]any{
		"x": x, "y": y, "theta": theta,
	})
	return err
}

// Stop halts current movement.
func (r *Robot) Stop(ctx context.Context) error {
	_, err := r.bridge.Invoke(ctx, "stop", nil)
	return err
}

// EmergencyStop halts all motion and cuts motor stiffness.
func (r *Robot) EmergencyStop(ctx context.Context) error {
	r.logger.Warn("emergency stop")
	_, err := r.bridge.Invoke(ctx, "emergency_stop", nil)
	return err
}

// SetPosture moves into a named posture at the given speed factor.
func (r *Robot) SetPosture(ctx context.Context, posture string, speed float64) error {
	_, err := r.bridge.Invoke(ctx, "posture", map[string]any{
		"posture": posture, "speed": speed,
	})
	return err
}

// WakeUp enables motor stiffness.
func (r *Robot) WakeUp(ctx context.Context) error {
	_, err := r.bridge.Invoke(ctx, "wake_up", nil)
	return err
}

// Rest relaxes into the resting posture and releases stiffness.
func (r *Robot) Rest(ctx context.Context) error {
	_, err := r.bridge.Invoke(ctx, "rest", nil)
	return err
}

// SetEyeColor sets the eye LEDs to a named color.
func (r *Robot) SetEyeColor(ctx context.Context, color string) error {
	_, err := r.bridge.Invoke(ctx, "leds_eyes", map[string]any{"color": color})
	return err
}

// SetChestColor sets the chest LED to a named color.
func (r *Robot) SetChestColor(ctx context.Context, color string) error {
	_, err := r.bridge.Invoke(ctx, "leds_chest", map[string]any{"color": color})
	return err
}

// PlayAnimation runs a named animation.
func (r *Robot) PlayAnimation(ctx context.Context, name string) error {
	_, err := r.bridge.Invoke(ctx, "animation", map[string]any{"name": name})
	return err
}

// Animations lists the animation names this robot supports.
func (r *Robot) Animations(ctx context.Context) ([]string, error) {
	payload, err := r.bridge.Invoke(ctx, "animations", nil)
	if err != nil {
		return nil, err
	}
	raw, ok := payload["animations"].([]any)
	if !ok {
		return nil, fmt.Errorf("robot: unexpected animations payload %T", payload["animations"])
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			names = append(names, s)
		}
	}
	return names, nil
}

// ShowTabletText displays text on the chest tablet.
func (r *Robot) ShowTabletText(ctx context.Context, text string) error {
	_, err := r.bridge.Invoke(ctx, "tablet_text", map[string]any{"text": text})
	return err
}

// ShowTabletImage displays an image URL on the chest tablet.
func (r *Robot) ShowTabletImage(ctx context.Context, url string) error {
	_, err := r.bridge.Invoke(ctx, "tablet_image", map[string]any{"url": url})
	return err
}

// ShowTabletWeb opens a web page on the chest tablet.
func (r *Robot) ShowTabletWeb(ctx context.Context, url string) error {
	_, err := r.bridge.Invoke(ctx, "tablet_web", map[string]any{"url": url})
	return err
}

// HideTablet clears the tablet display.
func (r *Robot) HideTablet(ctx context.Context) error {
	_, err := r.bridge.Invoke(ctx, "tablet_hide", nil)
	return err
}

// SetAwareness toggles basic awareness (head tracking of people).
func (r *Robot) SetAwareness(ctx context.Context, enabled bool) error {
	_, err := r.bridge.Invoke(ctx, "awareness", map[string]any{"enabled": enabled})
	return err
}

// Sensors reads the current sensor values.
func (r *Robot) Sensors(ctx context.Context) (*SensorSnapshot, error) {
	payload, err := r.bridge.Invoke(ctx, "sensors", nil)
	if err != nil {
		return nil, err
	}
	var snap SensorSnapshot
	if err := decodePayload(payload, &snap); err != nil {
		return nil, fmt.Errorf("robot: decode sensors: %w", err)
	}
	return &snap, nil
}

// TakePicture captures a frame from the given camera (0 = top,
// 1 = bottom).
func (r *Robot) TakePicture(ctx context.Context, camera int) (*Photo, error) {
	payload, err := r.bridge.Invoke(ctx, "picture", map[string]any{"camera": camera})
	if err != nil {
		return nil, err
	}

	var frame struct {
		Image  string `json:"image"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	}
	if err := decodePayload(payload, &frame); err != nil {
		return nil, fmt.Errorf("robot: decode picture: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("robot: decode picture data: %w", err)
	}
	return &Photo{Width: frame.Width, Height: frame.Height, Data: data}, nil
}

// Status returns the bridge's raw status payload.
func (r *Robot) Status(ctx context.Context) (map[string]any, error) {
	return r.bridge.Invoke(ctx, "status", nil)
}

// StateSummary renders a one-line state description suitable for a
// system prompt. Failures degrade to a shorter line rather than an
// error: prompt decoration must never block a conversation.
func (r *Robot) StateSummary(ctx context.Context) string {
	snap, err := r.Sensors(ctx)
	if err != nil {
		return "Current robot state: unknown (sensors unavailable)"
	}
	return fmt.Sprintf("Current robot state: battery=%.0f%%, temperature=%.0fC",
		snap.Battery, snap.Temperature)
}

// decodePayload maps a generic bridge payload onto a typed struct.
func decodePayload(payload map[string]any, v any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
