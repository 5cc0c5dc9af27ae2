// Package main provides an access log plugin.
// It appends every authentication outcome it receives to a JSON lines file.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Request represents the input from the plugin executor.
type Request struct {
	Action string          `json:"action"`
	Event  json.RawMessage `json:"event"`
	Config json.RawMessage `json:"config"`
	Params json.RawMessage `json:"params"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config locates the log file. MaxBytes, when set, makes rotate a no-op
// until the file grows past it.
type Config struct {
	Path     string `json:"path"`
	MaxBytes int64  `json:"max_bytes"`
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	var cfg Config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeErrorResponse(fmt.Sprintf("failed to parse config: %v", err))
			return
		}
	}
	if cfg.Path == "" {
		writeErrorResponse("config.path is required")
		return
	}

	var err error
	switch req.Action {
	case "append":
		err = appendEvent(cfg.Path, req.Event)
	case "rotate":
		err = rotate(cfg.Path, cfg.MaxBytes)
	default:
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	if err != nil {
		writeErrorResponse(fmt.Sprintf("action %s failed: %v", req.Action, err))
		return
	}
	writeSuccessResponse()
}

// appendEvent writes event as a single line.
func appendEvent(path string, event json.RawMessage) error {
	if len(event) == 0 {
		return fmt.Errorf("event is required")
	}

	var compact map[string]any
	if err := json.Unmarshal(event, &compact); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	line, err := json.Marshal(compact)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

// rotate moves the log aside with a timestamp suffix.
func rotate(path string, maxBytes int64) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if maxBytes > 0 && info.Size() < maxBytes {
		return nil
	}
	return os.Rename(path, path+"."+time.Now().UTC().Format("20060102T150405"))
}

func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: errMsg})
}

func writeSuccessResponse() {
	json.NewEncoder(os.Stdout).Encode(Response{Success: true})
}
