// Package app wires the camera, the face models, the rooms store and the
// live session together for the CLI, the HTTP server and the tray.
package app

import (
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ayusman/roomguard/internal/capture"
	"github.com/ayusman/roomguard/internal/detector"
	"github.com/ayusman/roomguard/internal/embedder"
	"github.com/ayusman/roomguard/internal/plugin"
	"github.com/ayusman/roomguard/internal/rooms"
	"github.com/ayusman/roomguard/internal/session"
	"github.com/ayusman/roomguard/internal/store"
)

var (
	// ErrSessionActive is returned when a live session already owns the camera.
	ErrSessionActive = errors.New("a session is already running")
	// ErrCameraBusy is returned when an enrollment is using the camera.
	ErrCameraBusy = errors.New("camera is busy")
	// ErrNoFace is returned when an enrollment or still image has no detectable face.
	ErrNoFace = errors.New("no face detected")
)

// EnrollAttempts is how many camera frames an enrollment reads looking for a face.
const EnrollAttempts = 30

// DefaultMaxReadFailures is how many consecutive camera read errors end a
// live session.
const DefaultMaxReadFailures = 25

// Config holds configuration options for the application.
type Config struct {
	Rooms *rooms.Store
	// Store keeps attempt history and hook bindings. It may be nil.
	Store *store.Store

	PluginDir   string
	HookTimeout time.Duration

	CameraID int
	FPS      int
	// MaxReadFailures is how many consecutive camera read errors end a live
	// session with OutcomeError. Zero means DefaultMaxReadFailures.
	MaxReadFailures int

	Session session.Config

	DetectorBackend string
	Detector        detector.Config
	EmbedderBackend string
	Embedder        embedder.Config
}

// App is the main application that runs live sessions and enrollments.
type App struct {
	config     Config
	pluginMgr  *plugin.Manager
	pluginExec *plugin.Executor
	clock      clock.Clock

	mu       sync.RWMutex
	camera   capture.Camera
	detector detector.Detector
	embedder embedder.Embedder

	leased  bool
	session *session.Session
	stopCh  chan struct{}
	doneCh  chan struct{}

	subMu       sync.Mutex
	subscribers map[int]chan session.Update
	nextSub     int
	lastOverlay image.Image
	lastStatus  session.Status

	hooks sync.WaitGroup
}

// New creates the application and its model backends. The sidecar backends
// start their processes on first use.
func New(config Config) (*App, error) {
	if config.Rooms == nil {
		return nil, errors.New("app: rooms store is required")
	}
	config.Session = config.Session.WithDefaults()
	if config.MaxReadFailures <= 0 {
		config.MaxReadFailures = DefaultMaxReadFailures
	}

	det, err := detector.New(config.DetectorBackend, config.Detector)
	if err != nil {
		return nil, fmt.Errorf("face detector: %w", err)
	}
	emb, err := embedder.New(config.EmbedderBackend, config.Embedder)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("face embedder: %w", err)
	}
	log.Printf("Using %s face detection and %s embeddings", backendName(config.DetectorBackend), backendName(config.EmbedderBackend))

	return &App{
		config:      config,
		camera:      capture.NewCamera(config.CameraID),
		detector:    det,
		embedder:    emb,
		pluginMgr:   plugin.NewManager(config.PluginDir),
		pluginExec:  plugin.NewExecutor(config.HookTimeout),
		clock:       clock.New(),
		subscribers: make(map[int]chan session.Update),
	}, nil
}

func backendName(b string) string {
	if b == "" {
		return "sidecar"
	}
	return b
}

// SetCamera replaces the camera. It has no effect on a running session.
func (a *App) SetCamera(c capture.Camera) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.camera = c
}

// SetDetector replaces the face detector, closing the previous one.
func (a *App) SetDetector(d detector.Detector) {
	a.mu.Lock()
	old := a.detector
	a.detector = d
	a.mu.Unlock()

	if old != nil && old != d {
		old.Close()
	}
}

// SetEmbedder replaces the face embedder, closing the previous one.
func (a *App) SetEmbedder(e embedder.Embedder) {
	a.mu.Lock()
	old := a.embedder
	a.embedder = e
	a.mu.Unlock()

	if old != nil && old != e {
		old.Close()
	}
}

// SetClock replaces the clock handed to new sessions.
func (a *App) SetClock(c clock.Clock) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clock = c
}

// DiscoverPlugins scans the plugin directory for outcome hooks.
func (a *App) DiscoverPlugins() error {
	return a.pluginMgr.Discover()
}

// Rooms returns the rooms store.
func (a *App) Rooms() *rooms.Store { return a.config.Rooms }

// Store returns the history store, which may be nil.
func (a *App) Store() *store.Store { return a.config.Store }

// PluginManager returns the plugin manager.
func (a *App) PluginManager() *plugin.Manager { return a.pluginMgr }

// SessionConfig returns the settings new sessions are created with.
func (a *App) SessionConfig() session.Config { return a.config.Session }

// Camera returns the camera instance.
func (a *App) Camera() capture.Camera {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.camera
}

// Detector returns the face detector.
func (a *App) Detector() detector.Detector {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.detector
}

// Embedder returns the face embedder.
func (a *App) Embedder() embedder.Embedder {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.embedder
}

// leaseCamera opens the camera for exclusive use. Callers must hold a.mu.
func (a *App) leaseCamera() (capture.Camera, error) {
	if a.session != nil {
		return nil, ErrSessionActive
	}
	if a.leased {
		return nil, ErrCameraBusy
	}

	if err := a.camera.Open(); err != nil {
		return nil, fmt.Errorf("open camera: %w", err)
	}
	if a.config.FPS > 0 {
		a.camera.SetFPS(a.config.FPS)
	}
	a.leased = true
	return a.camera, nil
}

func (a *App) releaseCamera(cam capture.Camera) {
	if err := cam.Close(); err != nil {
		log.Printf("Error closing camera: %v", err)
	}

	a.mu.Lock()
	a.leased = false
	a.mu.Unlock()
}

// StartSession opens the camera and starts authenticating faces against room.
func (a *App) StartSession(room string) error {
	if !a.config.Rooms.RoomExists(room) {
		return fmt.Errorf("%w: %s", rooms.ErrRoomNotFound, room)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cam, err := a.leaseCamera()
	if err != nil {
		return err
	}

	sess := session.New(a.config.Session, a.detector, a.embedder, a.config.Rooms, session.WithClock(a.clock))
	if err := sess.Start(room); err != nil {
		cam.Close()
		a.leased = false
		return err
	}

	a.session = sess
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.runPipeline(sess, cam, a.stopCh, a.doneCh)

	if a.config.Store != nil {
		if err := a.config.Store.Settings().Set(store.SettingLastRoom, room); err != nil {
			log.Printf("Failed to remember room %s: %v", room, err)
		}
	}

	log.Printf("Session started in room %s", room)
	return nil
}

// StopSession ends the running session and waits for its frame loop to
// release the camera. It is a no-op when nothing is running.
func (a *App) StopSession() {
	a.mu.Lock()
	stopCh, doneCh := a.stopCh, a.doneCh
	if stopCh != nil {
		close(stopCh)
		a.stopCh = nil
	}
	a.mu.Unlock()

	if doneCh != nil {
		<-doneCh
	}
}

// Wait blocks until the running session, if any, has ended.
func (a *App) Wait() {
	a.mu.RLock()
	doneCh := a.doneCh
	a.mu.RUnlock()

	if doneCh != nil {
		<-doneCh
	}
}

// SessionStatus reports the running session, or the last one when idle.
func (a *App) SessionStatus() session.Status {
	a.mu.RLock()
	sess := a.session
	a.mu.RUnlock()

	if sess != nil {
		return sess.Status()
	}

	a.subMu.Lock()
	defer a.subMu.Unlock()
	if a.lastStatus.State == "" {
		return session.Status{State: session.StateIdle}
	}
	return a.lastStatus
}

// LastOverlay returns the most recent annotated frame, or nil.
func (a *App) LastOverlay() image.Image {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	return a.lastOverlay
}

// Subscribe returns a channel of per-frame updates and a function that
// cancels the subscription. Slow subscribers miss updates.
func (a *App) Subscribe() (<-chan session.Update, func()) {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	id := a.nextSub
	a.nextSub++
	ch := make(chan session.Update, 8)
	a.subscribers[id] = ch

	return ch, func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		if c, ok := a.subscribers[id]; ok {
			delete(a.subscribers, id)
			close(c)
		}
	}
}

func (a *App) publish(u session.Update) {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	if u.Overlay != nil {
		a.lastOverlay = u.Overlay
	}
	for _, ch := range a.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}

// Close stops any session, waits for running hooks and shuts the models down.
func (a *App) Close() error {
	a.StopSession()
	a.hooks.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.detector != nil {
		errs = append(errs, a.detector.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	return errors.Join(errs...)
}
