//go:build gocv

package main

import (
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// gocvCapturer reads a camera through OpenCV. Frames arrive as BGR Mats,
// which is exactly the Frame layout.
type gocvCapturer struct {
	mu     sync.Mutex // protects cam and mat
	cam    *gocv.VideoCapture
	mat    gocv.Mat
	width  int
	height int
}

func newGoCVCapturer(cfg CaptureConfig) (Capturer, string, error) {
	var device interface{} = cfg.Device
	if n, err := strconv.Atoi(cfg.Device); err == nil {
		device = n
	}

	cam, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, "", fmt.Errorf("opening camera %s: %w", cfg.Device, err)
	}
	if !cam.IsOpened() {
		cam.Close()
		return nil, "", fmt.Errorf("camera %s did not open", cfg.Device)
	}
	cam.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	cam.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))

	return &gocvCapturer{
		cam:    cam,
		mat:    gocv.NewMat(),
		width:  cfg.Width,
		height: cfg.Height,
	}, "OpenCV " + gocv.Version(), nil
}

func (c *gocvCapturer) Capture() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ok := c.cam.Read(&c.mat); !ok || c.mat.Empty() {
		return Frame{}, ErrEmptyFrame
	}
	if c.mat.Type() != gocv.MatTypeCV8UC3 {
		return Frame{}, fmt.Errorf("unexpected mat type %v", c.mat.Type())
	}

	if c.mat.Cols() == c.width && c.mat.Rows() == c.height {
		return Frame{Pix: c.mat.ToBytes(), Width: c.width, Height: c.height}, nil
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return Frame{}, fmt.Errorf("converting mat: %w", err)
	}
	return FrameFromImage(scaleImage(img, c.width, c.height)), nil
}

func (c *gocvCapturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mat.Close()
	return c.cam.Close()
}
