// Package opencv implements camera.FrameSource on a gocv VideoCapture.
package opencv

import (
	"errors"
	"fmt"
	"sync"

	"github.com/teslashibe/go-neurobridge/pkg/camera"
	"gocv.io/x/gocv"
)

var errNotOpen = errors.New("opencv: device not open")

// Source reads JPEG frames from a local video device.
type Source struct {
	mu      sync.Mutex
	cap     *gocv.VideoCapture
	mat     gocv.Mat
	quality int
}

// New creates a closed source.
func New() *Source {
	return &Source{}
}

// Open opens cfg.DeviceID and applies the requested resolution and rate.
func (s *Source) Open(cfg camera.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cap != nil {
		return nil
	}
	vc, err := gocv.OpenVideoCapture(cfg.DeviceID)
	if err != nil {
		return fmt.Errorf("open video capture: %w", err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("device %d not available", cfg.DeviceID)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))

	s.cap = vc
	s.mat = gocv.NewMat()
	s.quality = cfg.Quality
	return nil
}

// Read grabs one frame and encodes it as JPEG.
func (s *Source) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cap == nil {
		return nil, errNotOpen
	}
	if ok := s.cap.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, errors.New("opencv: empty frame")
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, s.mat, []int{int(gocv.IMWriteJpegQuality), s.quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	// NativeByteBuffer memory is freed on Close.
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Close releases the device.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cap == nil {
		return nil
	}
	err := s.cap.Close()
	s.mat.Close()
	s.cap = nil
	return err
}
