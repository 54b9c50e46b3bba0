package main

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// fileCapturer serves the same still image on every call.
type fileCapturer struct {
	frame Frame
}

func newFileCapturer(cfg CaptureConfig) (Capturer, string, error) {
	if cfg.File == "" {
		return nil, "", fmt.Errorf("no image file configured")
	}
	f, err := os.Open(cfg.File)
	if err != nil {
		return nil, "", fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decoding %s: %w", cfg.File, err)
	}

	frame := FrameFromImage(scaleImage(img, cfg.Width, cfg.Height))
	return fileCapturer{frame: frame}, "File (" + format + ")", nil
}

func (c fileCapturer) Capture() (Frame, error) {
	return c.frame.Clone(), nil
}

func (fileCapturer) Close() error { return nil }
