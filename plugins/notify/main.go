// Package main provides a notification plugin for macOS.
// It announces authentication outcomes and can lock the screen via AppleScript.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Request represents the input from the plugin executor.
type Request struct {
	Action string          `json:"action"`
	Event  Event           `json:"event"`
	Config json.RawMessage `json:"config"`
	Params json.RawMessage `json:"params"`
}

// Event is the subset of the outcome this plugin reads.
type Event struct {
	Room       string  `json:"room"`
	Outcome    string  `json:"outcome"`
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config customises the announcement.
type Config struct {
	Title string `json:"title"`
	Voice string `json:"voice"`
}

// actionHandler defines a function type for handling specific actions.
type actionHandler func(ev Event, cfg Config) error

var actionHandlers = map[string]actionHandler{
	"notify":      notify,
	"say":         say,
	"lock-screen": lockScreen,
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	handler, ok := actionHandlers[req.Action]
	if !ok {
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	cfg := Config{Title: "RoomGuard"}
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeErrorResponse(fmt.Sprintf("failed to parse config: %v", err))
			return
		}
	}

	if err := handler(req.Event, cfg); err != nil {
		writeErrorResponse(fmt.Sprintf("action %s failed: %v", req.Action, err))
		return
	}
	writeSuccessResponse()
}

// message renders the outcome as one human sentence.
func message(ev Event) string {
	switch ev.Outcome {
	case "accepted":
		return fmt.Sprintf("%s entered %s", ev.UserID, ev.Room)
	case "lost_after_accept":
		return fmt.Sprintf("%s left %s", ev.UserID, ev.Room)
	case "rejected":
		return fmt.Sprintf("Unrecognised face at %s", ev.Room)
	}
	return fmt.Sprintf("%s: %s", ev.Room, ev.Outcome)
}

func notify(ev Event, cfg Config) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message(ev), cfg.Title)
	return runAppleScript(script)
}

func say(ev Event, cfg Config) error {
	args := []string{}
	if cfg.Voice != "" {
		args = append(args, "-v", cfg.Voice)
	}
	args = append(args, message(ev))

	output, err := exec.Command("say", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// lockScreen puts the display to sleep, which locks a password protected session.
func lockScreen(Event, Config) error {
	output, err := exec.Command("pmset", "displaysleepnow").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func runAppleScript(script string) error {
	cmd := exec.Command("osascript", "-e", script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: errMsg})
}

func writeSuccessResponse() {
	json.NewEncoder(os.Stdout).Encode(Response{Success: true})
}
