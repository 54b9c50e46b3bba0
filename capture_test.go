package main

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeCapturer returns ErrEmptyFrame for the first empty calls, then err if
// set, otherwise a copy of frame.
type fakeCapturer struct {
	mu     sync.Mutex
	frame  Frame
	err    error
	empty  int
	calls  int
	closed bool
}

func (c *fakeCapturer) Capture() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.empty {
		return Frame{}, ErrEmptyFrame
	}
	if c.err != nil {
		return Frame{}, c.err
	}
	return c.frame.Clone(), nil
}

func (c *fakeCapturer) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func TestFrameStream_KeepsLatestFrame(t *testing.T) {
	s := newFrameStream(2, 1)
	data := []byte{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
		13, 14, // trailing partial frame is dropped
	}
	s.readFrames(bytes.NewReader(data))

	select {
	case <-s.ready:
	default:
		t.Fatal("expected ready to be closed")
	}
	select {
	case <-s.done:
	default:
		t.Fatal("expected done to be closed")
	}

	f, err := s.latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if f.Width != 2 || f.Height != 1 || !bytes.Equal(f.Pix, data[6:12]) {
		t.Errorf("expected second frame, got %dx%d %v", f.Width, f.Height, f.Pix)
	}
}

func TestFrameStream_LatestIsACopy(t *testing.T) {
	s := newFrameStream(1, 1)
	s.readFrames(bytes.NewReader([]byte{9, 9, 9}))

	f, _ := s.latest()
	f.Pix[0] = 0
	g, _ := s.latest()
	if g.Pix[0] != 9 {
		t.Errorf("caller mutation leaked into the stream buffer")
	}
}

func TestFrameStream_EmptyBeforeFirstFrame(t *testing.T) {
	s := newFrameStream(4, 4)
	if _, err := s.latest(); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestFrameStream_WaitFirst(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		s := newFrameStream(1, 1)
		go s.readFrames(bytes.NewReader([]byte{1, 2, 3}))
		if err := s.waitFirst(time.Second); err != nil {
			t.Errorf("expected first frame, got %v", err)
		}
	})

	t.Run("stream ended", func(t *testing.T) {
		s := newFrameStream(1, 1)
		go s.readFrames(bytes.NewReader(nil))
		err := s.waitFirst(time.Second)
		if err == nil || !strings.Contains(err.Error(), "ended") {
			t.Errorf("expected stream ended error, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		r, w := io.Pipe()
		defer w.Close()
		s := newFrameStream(1, 1)
		go s.readFrames(r)
		err := s.waitFirst(20 * time.Millisecond)
		if err == nil || !strings.Contains(err.Error(), "timed out") {
			t.Errorf("expected timeout, got %v", err)
		}
	})
}

func TestNewCapturer_RejectsBadConfig(t *testing.T) {
	log := zap.NewNop()

	cfg := DefaultCaptureConfig()
	cfg.Width = 0
	if _, _, err := NewCapturer(cfg, log); err == nil {
		t.Error("expected error for zero width")
	}

	cfg = DefaultCaptureConfig()
	cfg.Source = "carrier-pigeon"
	if _, _, err := NewCapturer(cfg, log); err == nil || !strings.Contains(err.Error(), "unknown capture source") {
		t.Errorf("expected unknown source error, got %v", err)
	}
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "still.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileCapturer(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			c := color.RGBA{R: 255, A: 255}
			if x >= 2 {
				c = color.RGBA{B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}

	cfg := CaptureConfig{Source: sourceFile, File: writePNG(t, img), Width: 4, Height: 2}
	c, method, err := NewCapturer(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCapturer: %v", err)
	}
	defer c.Close()
	if method != "File (png)" {
		t.Errorf("expected method %q, got %q", "File (png)", method)
	}

	f, err := c.Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if f.Width != 4 || f.Height != 2 {
		t.Fatalf("expected 4x2 frame, got %dx%d", f.Width, f.Height)
	}
	// BGR order: left pixel red, right pixel blue.
	if got := f.Pix[0:3]; !bytes.Equal(got, []byte{0, 0, 255}) {
		t.Errorf("expected red pixel as BGR 0,0,255, got %v", got)
	}
	if got := f.Pix[9:12]; !bytes.Equal(got, []byte{255, 0, 0}) {
		t.Errorf("expected blue pixel as BGR 255,0,0, got %v", got)
	}

	f.Pix[0] = 42
	g, _ := c.Capture()
	if g.Pix[0] != 0 {
		t.Error("frames returned by the file source must be independent")
	}
}

func TestFileCapturer_ScalesToCaptureSize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	cfg := CaptureConfig{Source: sourceFile, File: writePNG(t, img), Width: 12, Height: 6}
	c, _, err := NewCapturer(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCapturer: %v", err)
	}
	f, _ := c.Capture()
	if f.Width != 12 || f.Height != 6 || len(f.Pix) != 12*6*3 {
		t.Fatalf("expected 12x6 frame, got %dx%d (%d bytes)", f.Width, f.Height, len(f.Pix))
	}
	for i, v := range f.Pix {
		if v < 199 || v > 201 {
			t.Fatalf("byte %d: expected about 200 after scaling a solid image, got %d", i, v)
		}
	}
}

func TestFileCapturer_Errors(t *testing.T) {
	if _, _, err := newFileCapturer(CaptureConfig{Width: 4, Height: 4}); err == nil {
		t.Error("expected error without a file")
	}
	cfg := CaptureConfig{File: filepath.Join(t.TempDir(), "missing.png"), Width: 4, Height: 4}
	if _, _, err := newFileCapturer(cfg); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}

	bogus := filepath.Join(t.TempDir(), "bogus.png")
	if err := os.WriteFile(bogus, []byte("not an image"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg.File = bogus
	if _, _, err := newFileCapturer(cfg); err == nil {
		t.Error("expected decode error")
	}
}

func TestScaleImage_SameSizeUnchanged(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 5, 5))
	if got := scaleImage(img, 5, 5); got != image.Image(img) {
		t.Error("expected the same image back")
	}
	if got := scaleImage(img, 10, 2).Bounds(); got != image.Rect(0, 0, 10, 2) {
		t.Errorf("expected 10x2 bounds, got %v", got)
	}
}
