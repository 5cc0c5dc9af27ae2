package server

import (
	"fmt"
	"image"
	"net/http"
	"time"

	"gocv.io/x/gocv"
)

// DefaultStreamInterval paces the MJPEG stream (~15 FPS).
const DefaultStreamInterval = 66 * time.Millisecond

// OverlaySource provides the most recent annotated frame.
type OverlaySource interface {
	LastOverlay() image.Image
}

// StreamHandler serves the session overlay as MJPEG.
type StreamHandler struct {
	source   OverlaySource
	interval time.Duration
}

// NewStreamHandler creates a new StreamHandler reading from source.
func NewStreamHandler(source OverlaySource) *StreamHandler {
	return &StreamHandler{source: source, interval: DefaultStreamInterval}
}

// ServeHTTP streams overlay frames until the client goes away. A frame is
// only written when the overlay changed since the last one.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last image.Image
	for {
		if img := h.source.LastOverlay(); img != nil && img != last {
			if err := writeJPEGPart(w, img); err != nil {
				return
			}
			last = img
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJPEGPart(w http.ResponseWriter, img image.Image) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return err
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return err
	}
	defer buf.Close()

	fmt.Fprintf(w, "--frame\r\n")
	fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
	fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", buf.Len())
	if _, err := w.Write(buf.GetBytes()); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "\r\n")
	return err
}
