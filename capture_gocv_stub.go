//go:build !gocv

package main

import "fmt"

// newGoCVCapturer returns an error when built without OpenCV support.
func newGoCVCapturer(cfg CaptureConfig) (Capturer, string, error) {
	return nil, "", fmt.Errorf("OpenCV support not built in (use -tags gocv)")
}
