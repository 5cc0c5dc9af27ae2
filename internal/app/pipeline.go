package app

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/roomguard/internal/capture"
	"github.com/ayusman/roomguard/internal/plugin"
	"github.com/ayusman/roomguard/internal/session"
	"github.com/ayusman/roomguard/internal/store"
)

// Outcomes recorded for attempts that end without a decision.
const (
	OutcomeStopped = "stopped"
	OutcomeError   = "error"
	OutcomeNoFace  = "no_face"
)

// runPipeline feeds camera frames to sess until the session asks to stop
// acquiring, an authorization error occurs, the camera keeps failing, or
// stopCh is closed.
//
// The camera is released and the attempt recorded however the loop ends.
// Hooks fire on the transition into accepted and on the final outcome.
func (a *App) runPipeline(sess *session.Session, cam capture.Camera, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	outcome := OutcomeStopped
	frames := 0
	defer func() {
		st := sess.Status()
		sess.Stop()
		a.endSession(sess, cam, stopCh)

		if outcome == OutcomeStopped && st.State.Decided() {
			outcome = string(st.State)
		}
		a.finishAttempt(st, outcome, frames)
	}()

	fps := cam.FPS()
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	prev := session.StateRunning
	readFailures := 0
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			img, err := cam.ReadFrame()
			if err != nil {
				readFailures++
				if readFailures >= a.config.MaxReadFailures {
					log.Printf("Session stopped after %d failed camera reads: %v", readFailures, err)
					outcome = OutcomeError
					return
				}
				if readFailures == 1 {
					log.Printf("Error reading frame: %v", err)
				}
				continue
			}
			readFailures = 0

			u, err := sess.Feed(img)
			if err != nil {
				log.Printf("Session stopped: %v", err)
				outcome = OutcomeError
				return
			}
			frames++

			if u.Fault != nil {
				log.Printf("Skipping frame %d: %v", frames, u.Fault)
			}
			a.publish(u)

			if u.State == session.StateAccepted && prev != session.StateAccepted {
				st := sess.Status()
				a.fireHooks(plugin.Event{
					Room:       st.Room,
					Outcome:    string(session.StateAccepted),
					UserID:     st.UserID,
					Similarity: st.Similarity,
					Failures:   st.Failures,
					Timestamp:  time.Now(),
				})
			}
			prev = u.State

			if u.StopAcquisition {
				outcome = string(u.State)
				return
			}
		}
	}
}

// endSession releases the camera and clears the running session.
func (a *App) endSession(sess *session.Session, cam capture.Camera, stopCh chan struct{}) {
	if err := cam.Close(); err != nil {
		log.Printf("Error closing camera: %v", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.leased = false
	if a.session == sess {
		a.session = nil
	}
	if a.stopCh == stopCh {
		a.stopCh = nil
	}

	a.subMu.Lock()
	a.lastStatus = sess.Status()
	a.subMu.Unlock()
}

// finishAttempt records the attempt and fires hooks for its outcome. The
// accepted outcome already fired when it was reached.
func (a *App) finishAttempt(st session.Status, outcome string, frames int) {
	now := time.Now()
	log.Printf("Session in room %s ended: %s after %d frames", st.Room, outcome, frames)

	a.recordAttempt(&store.Attempt{
		RoomID:     st.Room,
		Source:     store.SourceLive,
		Outcome:    outcome,
		UserID:     st.UserID,
		Similarity: st.Similarity,
		Failures:   st.Failures,
		Frames:     frames,
		StartedAt:  st.StartedAt,
		FinishedAt: now,
	})

	if outcome == string(session.StateAccepted) {
		return
	}
	a.fireHooks(plugin.Event{
		Room:       st.Room,
		Outcome:    outcome,
		UserID:     st.UserID,
		Similarity: st.Similarity,
		Failures:   st.Failures,
		Timestamp:  now,
	})
}

func (a *App) recordAttempt(at *store.Attempt) {
	if a.config.Store == nil {
		return
	}
	if at.ID == "" {
		at.ID = uuid.New().String()
	}
	if err := a.config.Store.Attempts().Create(at); err != nil {
		log.Printf("Failed to record attempt in room %s: %v", at.RoomID, err)
	}
}
