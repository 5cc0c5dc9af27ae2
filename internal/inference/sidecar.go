// Package inference runs face models out of process.
//
// A model service is a long-lived child process. Each request is a 4-byte
// big-endian length followed by a JPEG; each reply is one line of JSON. The
// process is started on first use and shut down after a period of inactivity.
package inference

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// ErrModelFailure is returned when a model backend cannot produce a result.
var ErrModelFailure = errors.New("model failure")

// DefaultIdleTimeout is how long a service may sit unused before it is stopped.
const DefaultIdleTimeout = 30 * time.Second

// jpegQuality is used when encoding frames for the service.
const jpegQuality = 90

// Config describes how to launch a model service.
type Config struct {
	// Name identifies the service in log messages.
	Name string

	// Python is the interpreter. Empty means a venv python if one is found, else python3.
	Python string

	// Script is the service script path or file name under scripts/.
	Script string

	// Command, when set, replaces Python and Script entirely.
	Command []string

	// Env is appended to the parent environment.
	Env []string

	// IdleTimeout stops the process after this much inactivity. Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// Sidecar is a lazily started model service process.
type Sidecar struct {
	cfg  Config
	argv []string

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	started   bool
	idleTimer *time.Timer
}

// NewSidecar resolves the service command. The process itself is not started
// until the first Call.
func NewSidecar(cfg Config) (*Sidecar, error) {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "model service"
	}

	argv := cfg.Command
	if len(argv) == 0 {
		script := FindScript(cfg.Script)
		if script == "" {
			return nil, fmt.Errorf("%w: %s script %q not found", ErrModelFailure, cfg.Name, cfg.Script)
		}
		python := cfg.Python
		if python == "" {
			python = FindPython()
		}
		if python == "" {
			python = "python3"
		}
		argv = []string{python, script}
	}

	return &Sidecar{cfg: cfg, argv: argv}, nil
}

// Call sends img to the service and decodes its reply into v.
// A reply carrying a non-empty "error" field is reported as ErrModelFailure.
// Any transport failure stops the process so the next call starts afresh.
func (s *Sidecar) Call(img image.Image, v any) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("%w: encode frame: %v", ErrModelFailure, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureStarted(); err != nil {
		return err
	}

	if err := WriteRequest(s.stdin, buf.Bytes()); err != nil {
		s.shutdown()
		return fmt.Errorf("%w: %s: %v", ErrModelFailure, s.cfg.Name, err)
	}

	if err := ReadReply(s.stdout, v); err != nil {
		if !errors.Is(err, ErrModelFailure) {
			s.shutdown()
		}
		return fmt.Errorf("%s: %w", s.cfg.Name, err)
	}

	s.resetIdleTimer()
	return nil
}

// Running reports whether the service process is currently alive.
func (s *Sidecar) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Close stops the service process if it is running.
func (s *Sidecar) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown()
}

func (s *Sidecar) ensureStarted() error {
	if s.started {
		return nil
	}

	cmd := exec.Command(s.argv[0], s.argv[1:]...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: create stdin pipe: %v", ErrModelFailure, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: create stdout pipe: %v", ErrModelFailure, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", ErrModelFailure, s.cfg.Name, err)
	}
	log.Printf("Started %s (pid %d)", s.cfg.Name, cmd.Process.Pid)

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	s.started = true
	return nil
}

func (s *Sidecar) shutdown() error {
	if !s.started {
		return nil
	}

	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}

	s.stdin.Close()
	err := s.cmd.Wait()

	s.started = false
	s.cmd = nil
	s.stdin = nil
	s.stdout = nil

	return err
}

func (s *Sidecar) resetIdleTimer() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.started {
			log.Printf("Stopping idle %s", s.cfg.Name)
		}
		s.shutdown()
	})
}

// WriteRequest writes one length-prefixed payload.
func WriteRequest(w io.Writer, data []byte) error {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))

	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// ReadReply reads one JSON line from r into v.
func ReadReply(r *bufio.Reader, v any) error {
	line, err := r.ReadBytes('\n')
	if err != nil && (err != io.EOF || len(line) == 0) {
		return fmt.Errorf("read response: %w", err)
	}

	var status struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(line, &status); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrModelFailure, err)
	}
	if status.Error != "" {
		return fmt.Errorf("%w: %s", ErrModelFailure, status.Error)
	}

	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrModelFailure, err)
	}
	return nil
}

// FindScript locates a service script. Absolute or existing relative paths are
// returned as is; bare names are searched for under scripts/ next to the
// working directory, the executable and ~/.roomguard.
func FindScript(name string) string {
	if name == "" {
		return ""
	}
	if _, err := os.Stat(name); err == nil {
		if abs, err := filepath.Abs(name); err == nil {
			return abs
		}
		return name
	}

	var execDir string
	if execPath, err := os.Executable(); err == nil {
		execDir = filepath.Dir(execPath)
	}

	base := filepath.Base(name)
	return firstExisting(
		filepath.Join("scripts", base),
		filepath.Join("..", "scripts", base),
		filepath.Join(execDir, "scripts", base),
		filepath.Join(os.Getenv("HOME"), ".roomguard", "scripts", base),
	)
}

// FindPython looks for a virtual environment interpreter.
func FindPython() string {
	var execDir string
	if execPath, err := os.Executable(); err == nil {
		execDir = filepath.Dir(execPath)
	}

	return firstExisting(
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".roomguard/venv/bin/python"),
	)
}

func firstExisting(paths ...string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	return ""
}
