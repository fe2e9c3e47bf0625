package bridge

import "strings"

// Capability describes what one connected bridge supports. It is
// discovered once per connection via the health probe and cached for
// the connection's lifetime.
type Capability struct {
	// Version is the bridge's version token, e.g. "2.0.0".
	Version string

	// Endpoints is the set of reachable HTTP paths the probe advertised.
	Endpoints map[string]bool

	// Streams maps push-stream names to their WebSocket addresses,
	// e.g. "events" -> "ws://10.0.100.100:8888/ws/events".
	Streams map[string]string
}

// Has reports whether the probe advertised the given path.
func (c *Capability) Has(path string) bool {
	if c == nil {
		return false
	}
	return c.Endpoints[path]
}

// EventStreamURL returns the push-event stream address, or "" if the
// bridge did not advertise one (v1 bridges).
func (c *Capability) EventStreamURL() string {
	if c == nil {
		return ""
	}
	return c.Streams["events"]
}

// IsV2 reports whether the bridge speaks the v2 surface (move-head,
// animations, tablet, renamed LED path, event stream).
func (c *Capability) IsV2() bool {
	return c != nil && strings.HasPrefix(c.Version, "2.")
}

// Endpoint definitions. Preferred is the path advertised by current
// bridges; legacy is the historical alias some deployments still run.
// The preferred path is always tried first; the legacy alias is
// attempted at most once per capability set (see resolve).
type endpointDef struct {
	method    string
	preferred string
	legacy    string
}

var endpointTable = map[string]endpointDef{
	"health":         {method: "GET", preferred: "/health"},
	"status":         {method: "GET", preferred: "/status"},
	"speak":          {method: "POST", preferred: "/speak"},
	"volume":         {method: "POST", preferred: "/volume"},
	"move_forward":   {method: "POST", preferred: "/move/forward", legacy: "/move_forward"},
	"turn":           {method: "POST", preferred: "/move/turn", legacy: "/turn"},
	"move_head":      {method: "POST", preferred: "/move/head"},
	"move_to":        {method: "POST", preferred: "/move/to"},
	"stop":           {method: "POST", preferred: "/stop"},
	"emergency_stop": {method: "POST", preferred: "/emergency_stop", legacy: "/estop"},
	"posture":        {method: "POST", preferred: "/posture"},
	"wake_up":        {method: "POST", preferred: "/wake_up", legacy: "/wakeup"},
	"rest":           {method: "POST", preferred: "/rest"},
	"sensors":        {method: "GET", preferred: "/sensors"},
	"picture":        {method: "GET", preferred: "/picture"},
	"leds_eyes":      {method: "POST", preferred: "/leds/eyes", legacy: "/led"},
	"leds_chest":     {method: "POST", preferred: "/leds/chest"},
	"animations":     {method: "GET", preferred: "/animations"},
	"animation":      {method: "POST", preferred: "/animation"},
	"tablet_image":   {method: "POST", preferred: "/tablet/image"},
	"tablet_web":     {method: "POST", preferred: "/tablet/web"},
	"tablet_text":    {method: "POST", preferred: "/tablet/text"},
	"tablet_hide":    {method: "POST", preferred: "/tablet/hide"},
	"awareness":      {method: "POST", preferred: "/awareness"},
	"audio_record":   {method: "POST", preferred: "/audio/record"},
}

// Endpoints returns the logical endpoint names the client knows about.
func Endpoints() []string {
	names := make([]string, 0, len(endpointTable))
	for name := range endpointTable {
		names = append(names, name)
	}
	return names
}
