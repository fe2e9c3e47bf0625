// Package tools turns AI tool calls into validated bridge invocations.
//
// Every tool the model can request is declared here with its JSON
// schema, its target bridge endpoint, and a prepare step that validates
// argument shape and clamps safety-sensitive values. Clamping bounds are
// enforced regardless of what the model asked for, and every clamp is
// reported back in the result payload so the model can adapt.
package tools

import (
	"fmt"

	"github.com/teslashibe/go-pepper/pkg/inference"
)

// Safety bounds for motion commands. Values outside these ranges are
// clamped to the nearest bound, never rejected.
const (
	MaxMoveDistance = 2.0   // meters, forward or backward
	MaxTurnAngle    = 180.0 // degrees either way
	MinMoveSpeed    = 0.1
	MaxMoveSpeed    = 0.8
	MaxHeadYaw      = 119.0 // degrees
	MinHeadPitch    = -40.0 // degrees (up)
	MaxHeadPitch    = 36.0  // degrees (down)
)

// Spec declares one tool: its schema for the provider, the bridge
// endpoint it dispatches to, and how raw arguments become wire args.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any

	// Endpoint is the logical bridge endpoint name.
	Endpoint string

	// Motion marks commands that physically move the robot. An
	// aborted motion command triggers a best-effort emergency stop.
	Motion bool

	// Prepare validates and clamps arguments. It returns the bridge
	// args and extra fields to merge into the result payload (such as
	// clamped:true), or a validation error.
	Prepare func(args map[string]any) (map[string]any, map[string]any, error)
}

// ValidationError rejects a tool call before any network traffic.
type ValidationError struct {
	Tool   string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("tools [%s]: %s", e.Tool, e.Reason)
}

// clamp restricts v to [min, max] and reports whether it changed.
func clamp(v, min, max float64) (float64, bool) {
	if v < min {
		return min, true
	}
	if v > max {
		return max, true
	}
	return v, false
}

// numArg reads a numeric argument, tolerating JSON's float64 decoding
// and integer literals.
func numArg(args map[string]any, key string, def float64) (float64, bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, false, nil
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case int:
		return float64(n), true, nil
	default:
		return 0, false, fmt.Errorf("%s must be a number", key)
	}
}

// strArg reads a string argument.
func strArg(args map[string]any, key, def string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

// boolArg reads a boolean argument.
func boolArg(args map[string]any, key string, def bool) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}

// numberSchema is a shorthand for a JSON-schema number property.
func numberSchema(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

// defaultSpecs returns the built-in tool set, keyed by tool name.
func defaultSpecs() map[string]*Spec {
	specs := []*Spec{
		{
			Name:        "speak",
			Description: "Make the robot say something out loud. Use this whenever you want the robot to verbally communicate.",
			Endpoint:    "speak",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "The text for the robot to speak aloud.",
					},
					"animated": map[string]any{
						"type":        "boolean",
						"description": "Whether to use animated speech with gestures. Default false.",
					},
				},
				"required": []string{"text"},
			},
			Prepare: func(args map[string]any) (map[string]any, map[string]any, error) {
				text, err := strArg(args, "text", "")
				if err != nil {
					return nil, nil, err
				}
				if text == "" {
					return nil, nil, fmt.Errorf("text is required")
				}
				animated, err := boolArg(args, "animated", false)
				if err != nil {
					return nil, nil, err
				}
				return map[string]any{"text": text, "animated": animated}, nil, nil
			},
		},
		{
			Name:        "move_forward",
			Description: "Move the robot forward or backward by a distance in meters. Positive = forward, negative = backward. Max 2m per call.",
			Endpoint:    "move_forward",
			Motion:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"distance": numberSchema("Distance in meters (-2.0 to 2.0)."),
					"speed":    numberSchema("Speed factor (0.1 to 0.8). Default 0.3."),
				},
				"required": []string{"distance"},
			},
			Prepare: func(args map[string]any) (map[string]any, map[string]any, error) {
				distance, present, err := numArg(args, "distance", 0)
				if err != nil {
					return nil, nil, err
				}
				if !present {
					return nil, nil, fmt.Errorf("distance is required")
				}
				speed, _, err := numArg(args, "speed", 0.3)
				if err != nil {
					return nil, nil, err
				}
				distance, dc := clamp(distance, -MaxMoveDistance, MaxMoveDistance)
				speed, sc := clamp(speed, MinMoveSpeed, MaxMoveSpeed)
				var extras map[string]any
				if dc || sc {
					extras = map[string]any{"clamped": true, "distance": distance, "speed": speed}
				}
				return map[string]any{"distance": distance, "speed": speed}, extras, nil
			},
		},
		{
			Name:        "turn",
			Description: "Turn the robot left or right by an angle in degrees. Positive = counter-clockwise (left), negative = clockwise (right).",
			Endpoint:    "turn",
			Motion:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"angle": numberSchema("Angle in degrees (-180 to 180)."),
				},
				"required": []string{"angle"},
			},
			Prepare: func(args map[string]any) (map[string]any, map[string]any, error) {
				angle, present, err := numArg(args, "angle", 0)
				if err != nil {
					return nil, nil, err
				}
				if !present {
					return nil, nil, fmt.Errorf("angle is required")
				}
				angle, ac := clamp(angle, -MaxTurnAngle, MaxTurnAngle)
				var extras map[string]any
				if ac {
					extras = map[string]any{"clamped": true, "angle": angle}
				}
				return map[string]any{"angle": angle}, extras, nil
			},
		},
		{
			Name:        "move_head",
			Description: "Move the robot's head to look in a direction.",
			Endpoint:    "move_head",
			Motion:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"yaw":   numberSchema("Horizontal angle in degrees. Positive = left. Range: -119 to 119."),
					"pitch": numberSchema("Vertical angle in degrees. Positive = down. Range: -40 to 36."),
				},
			},
			Prepare: func(args map[string]any) (map[string]any, map[string]any, error) {
				yaw, _, err := numArg(args, "yaw", 0)
				if err != nil {
					return nil, nil, err
				}
				pitch, _, err := numArg(args, "pitch", 0)
				if err != nil {
					return nil, nil, err
				}
				yaw, yc := clamp(yaw, -MaxHeadYaw, MaxHeadYaw)
				pitch, pc := clamp(pitch, MinHeadPitch, MaxHeadPitch)
				var extras map[string]any
				if yc || pc {
					extras = map[string]any{"clamped": true, "yaw": yaw, "pitch": pitch}
				}
				return map[string]any{"yaw": yaw, "pitch": pitch}, extras, nil
			},
		},
		{
			Name:        "set_posture",
			Description: "Put the robot into a named posture.",
			Endpoint:    "posture",
			Motion:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"posture": map[string]any{
						"type":        "string",
						"enum":        []string{"Stand", "StandInit", "StandZero", "Crouch"},
						"description": "Target posture name.",
					},
					"speed": numberSchema("Transition speed factor (0.1 to 1.0). Default 0.5."),
				},
				"required": []string{"posture"},
			},
			Prepare: func(args map[string]any) (map[string]any, map[string]any, error) {
				posture, err := strArg(args, "posture", "")
				if err != nil {
					return nil, nil, err
				}
				switch posture {
				case "Stand", "StandInit", "StandZero", "Crouch":
				default:
					return nil, nil, fmt.Errorf("invalid posture %q, must be one of Stand, StandInit, StandZero, Crouch", posture)
				}
				speed, _, err := numArg(args, "speed", 0.5)
				if err != nil {
					return nil, nil, err
				}
				speed, sc := clamp(speed, 0.1, 1.0)
				var extras map[string]any
				if sc {
					extras = map[string]any{"clamped": true, "speed": speed}
				}
				return map[string]any{"posture": posture, "speed": speed}, extras, nil
			},
		},
		{
			Name:        "play_animation",
			Description: "Play a named animation on the robot.",
			Endpoint:    "animation",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "Animation name, as returned by the bridge's animation list.",
					},
				},
				"required": []string{"name"},
			},
			Prepare: func(args map[string]any) (map[string]any, map[string]any, error) {
				name, err := strArg(args, "name", "")
				if err != nil {
					return nil, nil, err
				}
				if name == "" {
					return nil, nil, fmt.Errorf("name is required")
				}
				return map[string]any{"name": name}, nil, nil
			},
		},
		{
			Name:        "set_eye_color",
			Description: "Change the robot's eye LED color.",
			Endpoint:    "leds_eyes",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"color": map[string]any{
						"type":        "string",
						"description": "Color name, e.g. white, blue, green, red.",
					},
				},
				"required": []string{"color"},
			},
			Prepare: func(args map[string]any) (map[string]any, map[string]any, error) {
				color, err := strArg(args, "color", "white")
				if err != nil {
					return nil, nil, err
				}
				return map[string]any{"color": color}, nil, nil
			},
		},
		{
			Name:        "set_volume",
			Description: "Set the robot's speaker volume (0-100).",
			Endpoint:    "volume",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"level": numberSchema("Volume level from 0 to 100."),
				},
				"required": []string{"level"},
			},
			Prepare: func(args map[string]any) (map[string]any, map[string]any, error) {
				level, present, err := numArg(args, "level", 0)
				if err != nil {
					return nil, nil, err
				}
				if !present {
					return nil, nil, fmt.Errorf("level is required")
				}
				level, lc := clamp(level, 0, 100)
				var extras map[string]any
				if lc {
					extras = map[string]any{"clamped": true, "level": level}
				}
				return map[string]any{"level": level}, extras, nil
			},
		},
		{
			Name:        "get_sensors",
			Description: "Read the robot's current sensor values: battery, sonar, touch, temperature.",
			Endpoint:    "sensors",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Prepare: func(args map[string]any) (map[string]any, map[string]any, error) {
				return nil, nil, nil
			},
		},
		{
			Name:        "take_photo",
			Description: "Take a photo with the robot's head camera and return it as base64 data.",
			Endpoint:    "picture",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"camera": numberSchema("Camera index: 0 = top, 1 = bottom. Default 0."),
				},
			},
			Prepare: func(args map[string]any) (map[string]any, map[string]any, error) {
				camera, present, err := numArg(args, "camera", 0)
				if err != nil {
					return nil, nil, err
				}
				if present && camera != 0 && camera != 1 {
					return nil, nil, fmt.Errorf("camera must be 0 or 1")
				}
				return map[string]any{"camera": int(camera)}, nil, nil
			},
		},
		{
			Name:        "show_tablet_text",
			Description: "Display a short text message on the robot's chest tablet.",
			Endpoint:    "tablet_text",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "Text to display.",
					},
				},
				"required": []string{"text"},
			},
			Prepare: func(args map[string]any) (map[string]any, map[string]any, error) {
				text, err := strArg(args, "text", "")
				if err != nil {
					return nil, nil, err
				}
				if text == "" {
					return nil, nil, fmt.Errorf("text is required")
				}
				return map[string]any{"text": text}, nil, nil
			},
		},
		{
			Name:        "stop",
			Description: "Stop the robot's current movement.",
			Endpoint:    "stop",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Prepare: func(args map[string]any) (map[string]any, map[string]any, error) {
				return nil, nil, nil
			},
		},
		{
			Name:        "emergency_stop",
			Description: "Immediately halt all robot motion and cut motor stiffness. Use only when something is wrong.",
			Endpoint:    "emergency_stop",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Prepare: func(args map[string]any) (map[string]any, map[string]any, error) {
				return nil, nil, nil
			},
		},
	}

	m := make(map[string]*Spec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return m
}

// Schema converts a Spec into the provider tool format.
func (s *Spec) Schema() inference.Tool {
	return inference.NewTool(s.Name, s.Description, s.Parameters)
}
