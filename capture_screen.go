package main

import (
	"fmt"

	"github.com/kbinani/screenshot"
)

// screenCapturer grabs display 0 on every call, for inspecting colors shown
// by another application.
type screenCapturer struct {
	width  int
	height int
}

func newScreenCapturer(cfg CaptureConfig) (Capturer, string, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return nil, "", fmt.Errorf("no active displays found")
	}
	return screenCapturer{width: cfg.Width, height: cfg.Height}, "X11", nil
}

func (c screenCapturer) Capture() (Frame, error) {
	bounds := screenshot.GetDisplayBounds(0)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return Frame{}, fmt.Errorf("capturing screen: %w", err)
	}
	return FrameFromImage(scaleImage(img, c.width, c.height)), nil
}

func (screenCapturer) Close() error { return nil }
