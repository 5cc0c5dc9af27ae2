// Package config loads roomguard settings from defaults, an optional YAML
// file and ROOMGUARD_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/roomguard/internal/detector"
	"github.com/ayusman/roomguard/internal/embedder"
	"github.com/ayusman/roomguard/internal/session"
)

// FileName is the config file looked up in the data directory.
const FileName = "config.yaml"

type Config struct {
	DataDir   string `yaml:"data_dir"`
	RoomsDir  string `yaml:"rooms_dir"`  // defaults to <data_dir>/rooms
	DBPath    string `yaml:"db_path"`    // defaults to <data_dir>/roomguard.db
	PluginDir string `yaml:"plugin_dir"` // defaults to <data_dir>/plugins
	StaticDir string `yaml:"static_dir"`
	Addr      string `yaml:"addr"`

	// DefaultRoom is the room the tray and `authenticate` use when none is given.
	DefaultRoom string `yaml:"default_room"`

	Camera   CameraConfig   `yaml:"camera"`
	Session  SessionConfig  `yaml:"session"`
	Detector DetectorConfig `yaml:"detector"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Hooks    HooksConfig    `yaml:"hooks"`
}

type CameraConfig struct {
	ID  int `yaml:"id"`
	FPS int `yaml:"fps"`
}

type SessionConfig struct {
	Threshold   float64       `yaml:"threshold"`
	MaxFailures int           `yaml:"max_failures"`
	LossWindow  time.Duration `yaml:"loss_window"`
	OffsetRatio float64       `yaml:"offset_ratio"`
}

type DetectorConfig struct {
	Backend       string  `yaml:"backend"` // sidecar, cascade or mock
	Python        string  `yaml:"python"`
	Script        string  `yaml:"script"`
	CascadePath   string  `yaml:"cascade_path"`
	MinFaceSize   int     `yaml:"min_face_size"`
	MinConfidence float64 `yaml:"min_confidence"`
}

type EmbedderConfig struct {
	Backend string `yaml:"backend"` // sidecar or mock
	Python  string `yaml:"python"`
	Script  string `yaml:"script"`
	Dim     int    `yaml:"dim"`
}

type HooksConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the built-in settings rooted at ~/.roomguard.
func Default() *Config {
	dataDir := ".roomguard"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".roomguard")
	}

	det := detector.DefaultConfig()
	emb := embedder.DefaultConfig()
	sess := session.DefaultConfig()

	return &Config{
		DataDir: dataDir,
		Addr:    ":8080",
		Camera:  CameraConfig{ID: 0, FPS: 5},
		Session: SessionConfig{
			Threshold:   sess.Threshold,
			MaxFailures: sess.MaxFailures,
			LossWindow:  sess.LossWindow,
			OffsetRatio: sess.OffsetRatio,
		},
		Detector: DetectorConfig{
			Backend:     detector.BackendSidecar,
			Script:      det.Script,
			CascadePath: det.CascadePath,
			MinFaceSize: det.MinFaceSize,
		},
		Embedder: EmbedderConfig{
			Backend: embedder.BackendSidecar,
			Script:  emb.Script,
			Dim:     emb.Dim,
		},
		Hooks: HooksConfig{Timeout: 5 * time.Second},
	}
}

// Load builds the effective configuration. An empty path means
// <data_dir>/config.yaml, which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if dir := os.Getenv("ROOMGUARD_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.DataDir, FileName)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, replacing path atomically.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0644)
}

// Path returns where Load looks for the config file by default.
func (c *Config) Path() string {
	return filepath.Join(c.DataDir, FileName)
}

// Validate rejects settings the session cannot run with.
func (c *Config) Validate() error {
	if c.Session.Threshold < -1 || c.Session.Threshold > 1 {
		return fmt.Errorf("session.threshold %v is outside [-1, 1]", c.Session.Threshold)
	}
	if c.Session.MaxFailures < 1 {
		return fmt.Errorf("session.max_failures must be at least 1, got %d", c.Session.MaxFailures)
	}
	if c.Session.LossWindow <= 0 {
		return fmt.Errorf("session.loss_window must be positive, got %s", c.Session.LossWindow)
	}
	if c.Session.OffsetRatio < 0 {
		return fmt.Errorf("session.offset_ratio must not be negative, got %v", c.Session.OffsetRatio)
	}
	if c.Embedder.Dim < 1 {
		return fmt.Errorf("embedder.dim must be positive, got %d", c.Embedder.Dim)
	}
	return nil
}

// SessionSettings converts the session section for session.New.
func (c *Config) SessionSettings() session.Config {
	cfg := session.DefaultConfig()
	cfg.Threshold = c.Session.Threshold
	cfg.MaxFailures = c.Session.MaxFailures
	cfg.LossWindow = c.Session.LossWindow
	cfg.OffsetRatio = c.Session.OffsetRatio
	return cfg
}

// DetectorSettings converts the detector section for detector.New.
func (c *Config) DetectorSettings() detector.Config {
	return detector.Config{
		Python:        c.Detector.Python,
		Script:        c.Detector.Script,
		CascadePath:   c.Detector.CascadePath,
		MinFaceSize:   c.Detector.MinFaceSize,
		MinConfidence: c.Detector.MinConfidence,
	}
}

// EmbedderSettings converts the embedder section for embedder.New.
func (c *Config) EmbedderSettings() embedder.Config {
	return embedder.Config{
		Python: c.Embedder.Python,
		Script: c.Embedder.Script,
		Dim:    c.Embedder.Dim,
	}
}

func (c *Config) resolvePaths() {
	if c.RoomsDir == "" {
		c.RoomsDir = filepath.Join(c.DataDir, "rooms")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "roomguard.db")
	}
	if c.PluginDir == "" {
		c.PluginDir = filepath.Join(c.DataDir, "plugins")
	}
}

func (c *Config) applyEnv() {
	envString("ROOMGUARD_ROOMS_DIR", &c.RoomsDir)
	envString("ROOMGUARD_DB_PATH", &c.DBPath)
	envString("ROOMGUARD_PLUGIN_DIR", &c.PluginDir)
	envString("ROOMGUARD_STATIC_DIR", &c.StaticDir)
	envString("ROOMGUARD_ADDR", &c.Addr)
	envString("ROOMGUARD_ROOM", &c.DefaultRoom)

	c.Camera.ID = envInt("ROOMGUARD_CAMERA", c.Camera.ID)
	c.Camera.FPS = envInt("ROOMGUARD_FPS", c.Camera.FPS)

	c.Session.Threshold = envFloat("ROOMGUARD_THRESHOLD", c.Session.Threshold)
	c.Session.MaxFailures = envInt("ROOMGUARD_MAX_FAILURES", c.Session.MaxFailures)
	c.Session.LossWindow = envDuration("ROOMGUARD_LOSS_WINDOW", c.Session.LossWindow)

	envString("ROOMGUARD_DETECTOR", &c.Detector.Backend)
	envString("ROOMGUARD_EMBEDDER", &c.Embedder.Backend)
	if py := os.Getenv("ROOMGUARD_PYTHON"); py != "" {
		c.Detector.Python = py
		c.Embedder.Python = py
	}

	c.Hooks.Timeout = envDuration("ROOMGUARD_HOOK_TIMEOUT", c.Hooks.Timeout)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt returns defaultVal when the variable is unset or not a number.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return defaultVal
}
