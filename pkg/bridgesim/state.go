// Package bridgesim is an in-memory robot bridge for development and
// testing. It speaks the same wire contract as a real bridge: the
// {ok,...} envelope, X-API-Key auth, a capability-advertising health
// endpoint, and the push-event stream. No hardware is touched; commands
// mutate a simulated robot state.
package bridgesim

import (
	"sync"
	"time"
)

// robotState is the simulated robot. All access goes through the mutex;
// fiber runs handlers concurrently.
type robotState struct {
	mu sync.Mutex

	awake      bool
	posture    string
	volume     int
	eyeColor   string
	chestColor string
	awareness  bool
	battery    float64
	tablet     string

	// Pose in a flat world frame: meters and degrees.
	x, y    float64
	heading float64
	headYaw float64
	headPit float64

	moving     bool
	lastSpoken string
}

func newRobotState() *robotState {
	return &robotState{
		posture:  "Stand",
		volume:   70,
		eyeColor: "white",
		battery:  100,
		awake:    true,
	}
}

// drainBattery ticks the simulated battery down, floored at 5%.
func (s *robotState) drainBattery() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.battery > 5 {
		s.battery -= 0.1
	}
	return s.battery
}

func (s *robotState) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"battery":     s.battery,
		"temperature": 32.0,
		"touch":       map[string]bool{"head": false, "left_hand": false, "right_hand": false},
		"sonar":       map[string]float64{"front": 2.5, "back": 2.5},
	}
}

func (s *robotState) status() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"awake":     s.awake,
		"posture":   s.posture,
		"volume":    s.volume,
		"eye_color": s.eyeColor,
		"awareness": s.awareness,
		"battery":   s.battery,
		"moving":    s.moving,
		"pose": map[string]float64{
			"x": s.x, "y": s.y, "theta": s.heading,
		},
		"uptime": time.Since(startTime).Seconds(),
	}
}

var startTime = time.Now()

// simAnimations are the canned animation names the simulator accepts.
var simAnimations = []string{"wave", "bow", "dance", "nod", "shake_head"}

func validAnimation(name string) bool {
	for _, a := range simAnimations {
		if a == name {
			return true
		}
	}
	return false
}
