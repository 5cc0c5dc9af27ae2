package capture

import (
	"errors"
	"testing"

	"github.com/ayusman/roomguard/internal/frame"
)

var (
	_ Camera = (*cameraImpl)(nil)
	_ Camera = (*MockCamera)(nil)
)

func TestCamera_Settings(t *testing.T) {
	cam := NewCamera(2)

	if cam.IsOpen() {
		t.Fatal("new camera reports open")
	}
	if got := cam.FPS(); got != DefaultFPS {
		t.Fatalf("FPS() = %d, want %d", got, DefaultFPS)
	}

	// Non-positive rates are ignored, so the last valid rate sticks.
	for _, step := range []struct{ set, want int }{
		{set: 12, want: 12},
		{set: 0, want: 12},
		{set: -1, want: 12},
		{set: 1, want: 1},
	} {
		cam.SetFPS(step.set)
		if got := cam.FPS(); got != step.want {
			t.Errorf("SetFPS(%d): FPS() = %d, want %d", step.set, got, step.want)
		}
	}
}

func TestCamera_Closed(t *testing.T) {
	cam := NewCamera(0)

	img, err := cam.ReadFrame()
	if !errors.Is(err, ErrCameraNotOpen) || img != nil {
		t.Errorf("ReadFrame() = (%v, %v), want nil image and ErrCameraNotOpen", img, err)
	}
	if err := cam.Close(); err != nil {
		t.Errorf("Close() before Open() = %v, want nil", err)
	}
	if err := cam.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

// Needs a real device; skipped when none is attached.
func TestCamera_FramesFeedSessions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping camera test in short mode")
	}

	cam := NewCamera(0)
	if err := cam.Open(); err != nil {
		t.Skipf("no camera available: %v", err)
	}
	defer cam.Close()

	if err := cam.Open(); err != nil {
		t.Errorf("Open() on an open camera = %v, want nil", err)
	}

	first, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	second, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if first == second {
		t.Error("consecutive frames share one image; callers must own what they get")
	}

	f, err := frame.New(first)
	if err != nil {
		t.Fatalf("frame.New() on a camera image: %v", err)
	}
	if f.Width() <= 0 || f.Height() <= 0 {
		t.Errorf("frame size = %dx%d", f.Width(), f.Height())
	}

	if err := cam.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("ReadFrame() after Close() = %v, want ErrCameraNotOpen", err)
	}
}
