package connector

import "time"

// LinkState is the supervisor's position in
// Idle → Connecting → Authenticating → Active → Closing → (Connecting | Stopped).
type LinkState int32

const (
	StateIdle LinkState = iota
	StateConnecting
	StateAuthenticating
	StateActive
	StateClosing
	StateStopped
)

var linkStateStrings = map[LinkState]string{
	StateIdle:           "idle",
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateActive:         "active",
	StateClosing:        "closing",
	StateStopped:        "stopped",
}

// String returns the string representation of LinkState.
func (s LinkState) String() string {
	if str, ok := linkStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes LinkState as a JSON string (e.g. "active").
func (s LinkState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// LinkStatus is a point-in-time snapshot of the supervisor.
type LinkStatus struct {
	State          LinkState `json:"state"`
	Remote         string    `json:"remote"`
	ConnectedSince time.Time `json:"connected_since,omitempty"`
	LastInbound    time.Time `json:"last_inbound,omitempty"`
	Reconnects     int64     `json:"reconnects"`
	LastError      string    `json:"last_error,omitempty"`
}
