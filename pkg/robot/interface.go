// Package robot provides a typed facade over the bridge protocol.
//
// This package follows the Interface Segregation Principle (ISP) by
// defining small, focused interfaces that can be composed as needed.
// Consumers should depend only on the interfaces they actually use.
package robot

import "context"

// Speech provides text-to-speech control.
type Speech interface {
	Speak(ctx context.Context, text string) error
	SpeakAnimated(ctx context.Context, text string) error
	SetVolume(ctx context.Context, level int) error
}

// Mobility provides base and head movement control.
type Mobility interface {
	MoveForward(ctx context.Context, distance, speed float64) error
	Turn(ctx context.Context, angle float64) error
	MoveHead(ctx context.Context, yaw, pitch float64) error
	MoveTo(ctx context.Context, x, y, theta float64) error
	Stop(ctx context.Context) error
	EmergencyStop(ctx context.Context) error
}

// Posture provides stance control and motor power management.
type Posture interface {
	SetPosture(ctx context.Context, posture string, speed float64) error
	WakeUp(ctx context.Context) error
	Rest(ctx context.Context) error
}

// Appearance provides LED, animation, and tablet control.
type Appearance interface {
	SetEyeColor(ctx context.Context, color string) error
	SetChestColor(ctx context.Context, color string) error
	PlayAnimation(ctx context.Context, name string) error
	Animations(ctx context.Context) ([]string, error)
	ShowTabletText(ctx context.Context, text string) error
	ShowTabletImage(ctx context.Context, url string) error
	ShowTabletWeb(ctx context.Context, url string) error
	HideTablet(ctx context.Context) error
}

// SensorReader provides sensor and camera queries.
type SensorReader interface {
	Sensors(ctx context.Context) (*SensorSnapshot, error)
	TakePicture(ctx context.Context, camera int) (*Photo, error)
}

// Controller is the composite interface for full robot control.
type Controller interface {
	Speech
	Mobility
	Posture
	Appearance
	SensorReader
	SetAwareness(ctx context.Context, enabled bool) error
	Status(ctx context.Context) (map[string]any, error)
}

// Ensure Robot implements Controller.
var _ Controller = (*Robot)(nil)
