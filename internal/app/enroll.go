package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/ayusman/roomguard/internal/capture"
	"github.com/ayusman/roomguard/internal/detector"
	"github.com/ayusman/roomguard/internal/frame"
	"github.com/ayusman/roomguard/internal/matcher"
	"github.com/ayusman/roomguard/internal/plugin"
	"github.com/ayusman/roomguard/internal/rooms"
	"github.com/ayusman/roomguard/internal/store"
)

// StillResult is the outcome of authorizing a single image.
type StillResult struct {
	matcher.Result
	Face    bool        `json:"face"`
	Region  *frame.Rect `json:"region,omitempty"`
	Overlay image.Image `json:"-"`
}

// Embed locates the face in img and returns its embedding together with the
// frame carrying the expanded face region. ErrNoFace means nothing was found.
func (a *App) Embed(img image.Image) ([]float32, frame.Frame, error) {
	f, err := frame.New(img)
	if err != nil {
		return nil, frame.Frame{}, err
	}

	a.mu.RLock()
	det, emb := a.detector, a.embedder
	a.mu.RUnlock()

	located, ok, err := detector.Locate(det, f, a.config.Session.OffsetRatio)
	if err != nil {
		return nil, f, err
	}
	if !ok {
		return nil, located, ErrNoFace
	}

	crop, err := located.CropFace()
	if err != nil {
		return nil, located, err
	}
	probe, err := emb.Embed(crop)
	if err != nil {
		return nil, located, err
	}
	return probe, located, nil
}

// EnrollEmbedding stores a precomputed embedding for user in room.
func (a *App) EnrollEmbedding(room, user string, embedding []float32) error {
	if err := a.config.Rooms.AddUser(room, user, embedding); err != nil {
		return err
	}
	log.Printf("Enrolled %s in room %s", user, room)
	return nil
}

// EnrollImage enrolls the face found in img.
func (a *App) EnrollImage(room, user string, img image.Image) error {
	emb, _, err := a.Embed(img)
	if err != nil {
		return fmt.Errorf("enroll %s: %w", user, err)
	}
	return a.EnrollEmbedding(room, user, emb)
}

// EnrollFromCamera reads camera frames until one holds a face and enrolls it.
// It fails with ErrSessionActive or ErrCameraBusy when the camera is taken.
func (a *App) EnrollFromCamera(ctx context.Context, room, user string) error {
	a.mu.Lock()
	cam, err := a.leaseCamera()
	a.mu.Unlock()
	if err != nil {
		return err
	}
	defer a.releaseCamera(cam)

	interval := time.Second / time.Duration(max(cam.FPS(), 1))
	var lastErr error = ErrNoFace
	for i := 0; i < EnrollAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		img, err := cam.ReadFrame()
		if err != nil {
			if errors.Is(err, capture.ErrCameraNotOpen) {
				return err
			}
			lastErr = err
		} else {
			emb, _, err := a.Embed(img)
			if err == nil {
				return a.EnrollEmbedding(room, user, emb)
			}
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("enroll %s from camera after %d frames: %w", user, EnrollAttempts, lastErr)
}

// AuthorizeImage runs a one-shot authorization of img against room and
// records it as a still attempt. A missing face is a result, not an error.
func (a *App) AuthorizeImage(room string, img image.Image) (StillResult, error) {
	if !a.config.Rooms.RoomExists(room) {
		return StillResult{}, fmt.Errorf("%w: %s", rooms.ErrRoomNotFound, room)
	}

	started := time.Now()
	probe, located, err := a.Embed(img)
	if errors.Is(err, ErrNoFace) {
		res := StillResult{Overlay: located.RenderOverlay(a.config.Session.FailureColor, "")}
		a.recordStill(room, OutcomeNoFace, res, started)
		return res, nil
	}
	if err != nil {
		return StillResult{}, err
	}

	m, err := a.config.Rooms.Authorize(room, probe, a.config.Session.Threshold)
	if err != nil {
		return StillResult{}, err
	}

	region, _ := located.FaceRegion()
	res := StillResult{Result: m, Face: true, Region: &region}

	outcome := "rejected"
	if m.Accepted {
		outcome = "accepted"
		res.Overlay = located.RenderOverlay(a.config.Session.SuccessColor, m.UserID)
	} else {
		res.Overlay = located.RenderOverlay(a.config.Session.FailureColor, "")
	}
	a.recordStill(room, outcome, res, started)
	return res, nil
}

func (a *App) recordStill(room, outcome string, res StillResult, started time.Time) {
	a.recordAttempt(&store.Attempt{
		RoomID:     room,
		Source:     store.SourceStill,
		Outcome:    outcome,
		UserID:     res.UserID,
		Similarity: res.Similarity,
		Frames:     1,
		StartedAt:  started,
	})
	a.fireHooks(plugin.Event{
		Room:       room,
		Outcome:    outcome,
		UserID:     res.UserID,
		Similarity: res.Similarity,
		Timestamp:  time.Now(),
	})
}
