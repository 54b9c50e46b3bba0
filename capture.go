package main

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
)

const (
	defaultCaptureWidth  = 640
	defaultCaptureHeight = 480
	firstFrameTimeout    = 5 * time.Second
)

// Frame sources accepted by NewCapturer.
const (
	sourceAuto     = "auto"
	sourceGoCV     = "gocv"
	sourcePipeWire = "pipewire"
	sourceV4L2     = "v4l2"
	sourceScreen   = "screen"
	sourceFile     = "file"
)

// Capturer delivers decoded BGR24 frames.
type Capturer interface {
	// Capture returns the latest frame, or ErrEmptyFrame if none is
	// available yet. The returned frame is owned by the caller.
	Capture() (Frame, error)
	Close() error
}

// CaptureConfig selects and sizes a frame source.
type CaptureConfig struct {
	Source string `json:"source"`
	Device string `json:"device"`
	File   string `json:"file,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// DefaultCaptureConfig returns auto-detection at 640x480 on the first camera.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Source: sourceAuto,
		Device: "/dev/video0",
		Width:  defaultCaptureWidth,
		Height: defaultCaptureHeight,
	}
}

type capturerFactory func(CaptureConfig) (Capturer, string, error)

// NewCapturer opens the configured source. In auto mode it tries gocv →
// PipeWire → FFmpeg/V4L2 → X11 screen and returns the first that works,
// along with a human-readable name of the method.
func NewCapturer(cfg CaptureConfig, logger *zap.Logger) (Capturer, string, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("invalid capture size %dx%d", cfg.Width, cfg.Height)
	}

	switch cfg.Source {
	case sourceGoCV:
		return newGoCVCapturer(cfg)
	case sourcePipeWire:
		return newPipeWireCapturer(cfg)
	case sourceV4L2:
		return newFFmpegCapturer(cfg)
	case sourceScreen:
		return newScreenCapturer(cfg)
	case sourceFile:
		return newFileCapturer(cfg)
	case sourceAuto, "":
	default:
		return nil, "", fmt.Errorf("unknown capture source %q", cfg.Source)
	}

	var errs []error
	for _, open := range []capturerFactory{
		newGoCVCapturer,
		newPipeWireCapturer,
		newFFmpegCapturer,
		newScreenCapturer,
	} {
		c, method, err := open(cfg)
		if err == nil {
			return c, method, nil
		}
		logger.Debug("capture source unavailable", zap.Error(err))
		errs = append(errs, err)
	}
	return nil, "", fmt.Errorf("no capture source available: %w", errors.Join(errs...))
}

// frameStream keeps the most recent raw frame read from a child process.
type frameStream struct {
	width  int
	height int
	done   chan struct{}
	ready  chan struct{} // closed when first frame is available

	mu    sync.Mutex
	frame []byte
}

func newFrameStream(w, h int) *frameStream {
	return &frameStream{
		width:  w,
		height: h,
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
}

func (s *frameStream) frameSize() int {
	return s.width * s.height * 3
}

// readFrames copies fixed-size BGR24 frames from r until it fails.
func (s *frameStream) readFrames(r io.Reader) {
	defer close(s.done)
	buf := make([]byte, s.frameSize())
	first := true
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		s.mu.Lock()
		if s.frame == nil {
			s.frame = make([]byte, s.frameSize())
		}
		copy(s.frame, buf)
		s.mu.Unlock()
		if first {
			close(s.ready)
			first = false
		}
	}
}

// waitFirst blocks until a frame has arrived, the reader stops, or the
// timeout elapses.
func (s *frameStream) waitFirst(timeout time.Duration) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return fmt.Errorf("stream ended before first frame")
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for first frame")
	}
}

// latest returns a copy of the newest frame.
func (s *frameStream) latest() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return Frame{}, ErrEmptyFrame
	}
	f := Frame{Pix: make([]byte, len(s.frame)), Width: s.width, Height: s.height}
	copy(f.Pix, s.frame)
	return f, nil
}

// scaleImage resizes img to w×h unless it already has that size.
func scaleImage(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// hasExecutable reports whether the named program is on PATH.
func hasExecutable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
