// Package session runs multi-frame face authentication for one room.
//
// A Session is fed camera frames one at a time. While running it detects,
// embeds and matches each face until either someone is accepted or too many
// frames have been rejected. After an acceptance it keeps watching for the
// face and gives up once it has been gone for the loss window.
package session

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ayusman/roomguard/internal/detector"
	"github.com/ayusman/roomguard/internal/embedder"
	"github.com/ayusman/roomguard/internal/frame"
	"github.com/ayusman/roomguard/internal/matcher"
)

// ErrNotRunning is returned by Feed before Start or after Stop.
var ErrNotRunning = errors.New("session not running")

// State is the phase of a session.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateAccepted State = "accepted"
	StateRejected State = "rejected"
	StateLost     State = "lost_after_accept"
)

// Decided reports whether the session has reached a decision.
func (s State) Decided() bool {
	return s == StateAccepted || s == StateRejected || s == StateLost
}

// Authorizer matches an embedding against a room's enrolled users.
type Authorizer interface {
	Authorize(room string, probe []float32, threshold float64) (matcher.Result, error)
}

// Config tunes a session.
type Config struct {
	Threshold    float64
	MaxFailures  int
	LossWindow   time.Duration
	OffsetRatio  float64
	SuccessColor color.Color
	FailureColor color.Color
}

// DefaultConfig returns the standard session settings.
func DefaultConfig() Config {
	return Config{
		Threshold:    matcher.DefaultThreshold,
		MaxFailures:  10,
		LossWindow:   2 * time.Second,
		OffsetRatio:  detector.DefaultOffsetRatio,
		SuccessColor: frame.ColorSuccess,
		FailureColor: frame.ColorFailure,
	}
}

// WithDefaults fills fields that have no usable zero value from
// DefaultConfig. Threshold and OffsetRatio are kept as given: zero accepts any
// positive similarity and crops without a margin.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	if c.LossWindow <= 0 {
		c.LossWindow = d.LossWindow
	}
	if c.SuccessColor == nil {
		c.SuccessColor = d.SuccessColor
	}
	if c.FailureColor == nil {
		c.FailureColor = d.FailureColor
	}
	return c
}

// Update describes what happened to one frame.
//
// Overlay is the frame with the face box drawn on it. Face is true when a face
// was detected in this frame. Matched is true when an embedding was compared,
// and Result is only meaningful then. StopAcquisition asks the caller to stop
// feeding frames. Fault is a model failure on this frame: the frame was
// skipped and the session is still usable.
type Update struct {
	State           State          `json:"state"`
	Overlay         image.Image    `json:"-"`
	Face            bool           `json:"face"`
	Matched         bool           `json:"matched"`
	Result          matcher.Result `json:"result"`
	Failures        int            `json:"failures"`
	StopAcquisition bool           `json:"stop_acquisition"`
	Fault           error          `json:"-"`
}

// Status is a snapshot of a session.
type Status struct {
	Room       string    `json:"room"`
	State      State     `json:"state"`
	Active     bool      `json:"active"`
	Failures   int       `json:"failures"`
	UserID     string    `json:"user_id,omitempty"`
	Similarity float64   `json:"similarity"`
	StartedAt  time.Time `json:"started_at"`
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock used for the loss window.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// Session is a live authentication attempt. It is safe for concurrent use,
// but frames are processed strictly one after another.
type Session struct {
	cfg   Config
	det   detector.Detector
	emb   embedder.Embedder
	auth  Authorizer
	clock clock.Clock

	mu         sync.Mutex
	active     bool
	room       string
	state      State
	failures   int
	userID     string
	similarity float64
	lastRegion *frame.Rect
	lastSeen   time.Time
	startedAt  time.Time
}

// New creates an idle session.
func New(cfg Config, det detector.Detector, emb embedder.Embedder, auth Authorizer, opts ...Option) *Session {
	s := &Session{
		cfg:   cfg.WithDefaults(),
		det:   det,
		emb:   emb,
		auth:  auth,
		clock: clock.New(),
		state: StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Session) Config() Config { return s.cfg }

// Start begins a fresh attempt in room, discarding any previous outcome.
func (s *Session) Start(room string) error {
	if room == "" {
		return fmt.Errorf("start session: room is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = true
	s.room = room
	s.state = StateRunning
	s.failures = 0
	s.userID = ""
	s.similarity = 0
	s.lastRegion = nil
	s.lastSeen = time.Time{}
	s.startedAt = s.clock.Now()
	return nil
}

// Stop ends the attempt. The last outcome remains visible through Status.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		Room:       s.room,
		State:      s.state,
		Active:     s.active,
		Failures:   s.failures,
		UserID:     s.userID,
		Similarity: s.similarity,
		StartedAt:  s.startedAt,
	}
}

// Feed processes one frame.
func (s *Session) Feed(img image.Image) (Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return Update{}, ErrNotRunning
	}

	f, err := frame.New(img)
	if err != nil {
		return Update{}, fmt.Errorf("feed: %w", err)
	}

	switch s.state {
	case StateRunning:
		return s.feedRunning(f)
	case StateAccepted:
		return s.feedAccepted(f), nil
	default:
		return s.feedFinished(f), nil
	}
}

func (s *Session) feedRunning(f frame.Frame) (Update, error) {
	u := Update{State: s.state, Failures: s.failures}

	located, ok, err := detector.Locate(s.det, f, s.cfg.OffsetRatio)
	if err != nil {
		u.Fault = err
		u.Overlay = f.RenderOverlay(s.cfg.FailureColor, "")
		return u, nil
	}
	u.Face = ok
	if !ok {
		u.Overlay = f.RenderOverlay(s.cfg.FailureColor, "")
		return u, nil
	}

	crop, err := located.CropFace()
	if err != nil {
		u.Fault = err
		u.Overlay = located.RenderOverlay(s.cfg.FailureColor, "")
		return u, nil
	}

	probe, err := s.emb.Embed(crop)
	if err != nil {
		u.Fault = err
		u.Overlay = located.RenderOverlay(s.cfg.FailureColor, "")
		return u, nil
	}

	res, err := s.auth.Authorize(s.room, probe, s.cfg.Threshold)
	if err != nil {
		return Update{}, fmt.Errorf("authorize in room %s: %w", s.room, err)
	}

	region, _ := located.FaceRegion()
	s.lastRegion = &region
	s.similarity = res.Similarity
	u.Matched = true
	u.Result = res

	if res.Accepted {
		s.state = StateAccepted
		s.userID = res.UserID
		s.lastSeen = s.clock.Now()
		log.Printf("Session %s: accepted %s (similarity %.3f)", s.room, res.UserID, res.Similarity)

		u.State = s.state
		u.Overlay = located.RenderOverlay(s.cfg.SuccessColor, res.UserID)
		return u, nil
	}

	s.failures++
	u.Failures = s.failures
	u.Overlay = located.RenderOverlay(s.cfg.FailureColor, "")

	if s.failures >= s.cfg.MaxFailures {
		s.state = StateRejected
		log.Printf("Session %s: rejected after %d failed frames", s.room, s.failures)
		u.State = s.state
		u.StopAcquisition = true
	}
	return u, nil
}

// feedAccepted only tracks whether the accepted face is still in view.
func (s *Session) feedAccepted(f frame.Frame) Update {
	u := Update{State: s.state, Failures: s.failures}

	located, ok, err := detector.Locate(s.det, f, s.cfg.OffsetRatio)
	switch {
	case err != nil:
		u.Fault = err
	case ok:
		region, _ := located.FaceRegion()
		s.lastRegion = &region
		s.lastSeen = s.clock.Now()
		u.Face = true
	}

	// A failing detector cannot confirm presence either.
	if !u.Face && s.clock.Since(s.lastSeen) >= s.cfg.LossWindow {
		s.state = StateLost
		log.Printf("Session %s: lost %s after %s without a face", s.room, s.userID, s.cfg.LossWindow)
		u.State = s.state
		u.StopAcquisition = true
	}

	u.Overlay = s.renderLast(f, s.cfg.SuccessColor, s.userID)
	return u
}

func (s *Session) feedFinished(f frame.Frame) Update {
	c, label := s.cfg.FailureColor, ""
	if s.state == StateLost {
		c, label = s.cfg.SuccessColor, s.userID
	}

	return Update{
		State:           s.state,
		Failures:        s.failures,
		StopAcquisition: true,
		Overlay:         s.renderLast(f, c, label),
	}
}

func (s *Session) renderLast(f frame.Frame, c color.Color, label string) image.Image {
	if s.lastRegion != nil {
		f = f.WithFaceRegion(*s.lastRegion)
	}
	return f.RenderOverlay(c, label)
}
