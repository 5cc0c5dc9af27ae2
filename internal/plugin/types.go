// Package plugin discovers and runs outcome hook plugins.
//
// A plugin is a directory holding a plugin.json manifest and an executable.
// The executable receives one Request as JSON on stdin and must print one
// Response as JSON on stdout.
package plugin

import (
	"encoding/json"
	"time"
)

// Manifest describes a plugin's metadata and capabilities.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Executable   string          `json:"executable"`
	Actions      []string        `json:"actions"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// HasAction reports whether the manifest declares action.
func (m Manifest) HasAction(action string) bool {
	for _, a := range m.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Event is the authentication outcome a hook is fired for.
type Event struct {
	Room       string    `json:"room"`
	Outcome    string    `json:"outcome"`
	UserID     string    `json:"user_id,omitempty"`
	Similarity float64   `json:"similarity"`
	Failures   int       `json:"failures"`
	Timestamp  time.Time `json:"timestamp"`
}

// Request represents a request sent to a plugin for execution.
type Request struct {
	Action string          `json:"action"`
	Event  Event           `json:"event"`
	Config json.RawMessage `json:"config"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response represents the response from a plugin execution.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
