package server

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/roomguard/internal/app"
	"github.com/ayusman/roomguard/internal/capture"
	"github.com/ayusman/roomguard/internal/detector"
	"github.com/ayusman/roomguard/internal/embedder"
	"github.com/ayusman/roomguard/internal/frame"
	"github.com/ayusman/roomguard/internal/frame/frametest"
	"github.com/ayusman/roomguard/internal/rooms"
	"github.com/ayusman/roomguard/internal/session"
	"github.com/ayusman/roomguard/internal/store"
)

// newTestApp builds an App on mock models: every frame holds a face and
// embeds to the first unit vector.
func newTestApp(t *testing.T) *app.App {
	t.Helper()

	dir := t.TempDir()
	rs, err := rooms.Open(filepath.Join(dir, "rooms"))
	if err != nil {
		t.Fatalf("rooms.Open() error = %v", err)
	}
	st, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sess := session.DefaultConfig()
	sess.MaxFailures = 3
	sess.LossWindow = time.Second

	a, err := app.New(app.Config{
		Rooms:           rs,
		Store:           st,
		PluginDir:       filepath.Join(dir, "plugins"),
		FPS:             50,
		Session:         sess,
		DetectorBackend: detector.BackendMock,
		EmbedderBackend: embedder.BackendMock,
		Embedder:        embedder.Config{Dim: 4},
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })

	det := detector.NewMockDetector()
	det.SetFace(frame.Rect{X1: 200, Y1: 120, X2: 440, Y2: 360})
	a.SetDetector(det)
	a.SetEmbedder(embedder.NewMockEmbedder(4))
	a.SetCamera(capture.NewMockCamera(frametest.Sequence(frametest.Gradient(640, 480), 2), true))
	return a
}

func TestServer_Health(t *testing.T) {
	s := New(Config{})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}
		if _, exists := response["uptime"]; !exists {
			t.Error("expected 'uptime' field in response")
		}
		if _, exists := response["session"]; exists {
			t.Error("unexpected 'session' field without an app")
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_HealthWithApp(t *testing.T) {
	s := New(Config{App: newTestApp(t)})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var response struct {
		Status  string         `json:"status"`
		Session session.Status `json:"session"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Session.State != session.StateIdle {
		t.Errorf("session state = %s, want idle", response.Session.State)
	}
}

func TestServer_Routes(t *testing.T) {
	without := New(Config{})
	with := New(Config{App: newTestApp(t)})

	for _, path := range []string{"/api/rooms", "/api/bindings", "/api/session"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)

		rec := httptest.NewRecorder()
		without.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s without app: status %d, want %d", path, rec.Code, http.StatusNotFound)
		}

		rec = httptest.NewRecorder()
		with.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s with app: status %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestServer_StaticFiles(t *testing.T) {
	tmpDir := t.TempDir()

	testContent := "<html><body>RoomGuard</body></html>"
	if err := os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte(testContent), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	s := New(Config{StaticDir: tmpDir})

	t.Run("serves index.html at root path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if rec.Body.String() != testContent {
			t.Errorf("expected body %q, got %q", testContent, rec.Body.String())
		}
	})

	t.Run("returns 404 for non-existent static files", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nonexistent.html", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestServer_NoStaticDir(t *testing.T) {
	s := New(Config{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

type fixedOverlay struct{ img image.Image }

func (f fixedOverlay) LastOverlay() image.Image { return f.img }

func TestStreamHandler(t *testing.T) {
	img := frametest.Solid(64, 48, color.RGBA{R: 200, A: 255})
	h := NewStreamHandler(fixedOverlay{img: img})
	h.interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if n := strings.Count(body, "--frame"); n != 1 {
		t.Errorf("frames = %d, want 1 for an unchanged overlay", n)
	}
	if !strings.Contains(body, "Content-Type: image/jpeg") {
		t.Error("missing JPEG part header")
	}
}

func TestStreamHandler_NoOverlay(t *testing.T) {
	h := NewStreamHandler(fixedOverlay{})
	h.interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if strings.Contains(rec.Body.String(), "--frame") {
		t.Error("wrote a frame without an overlay")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stream", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestServer_Run(t *testing.T) {
	s := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
