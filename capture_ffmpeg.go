package main

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ffmpegCapturer reads a V4L2 camera through ffmpeg as raw BGR24.
type ffmpegCapturer struct {
	cancel context.CancelFunc
	cmd    *exec.Cmd
	stream *frameStream
}

func newFFmpegCapturer(cfg CaptureConfig) (Capturer, string, error) {
	if !hasExecutable("ffmpeg") {
		return nil, "", fmt.Errorf("ffmpeg not found")
	}
	if cfg.Device == "" {
		return nil, "", fmt.Errorf("ffmpeg: no camera device configured")
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := ffmpegCameraStream(cfg)
	s.Context = ctx
	cmd := s.Compile()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, "", fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, "", fmt.Errorf("starting ffmpeg: %w", err)
	}

	c := &ffmpegCapturer{
		cancel: cancel,
		cmd:    cmd,
		stream: newFrameStream(cfg.Width, cfg.Height),
	}

	go c.stream.readFrames(stdout)

	// Wait for the first frame so Capture is immediately usable.
	if err := c.stream.waitFirst(firstFrameTimeout); err != nil {
		c.cancel()
		<-c.stream.done
		_ = c.cmd.Wait()
		return nil, "", fmt.Errorf("ffmpeg: %w", err)
	}

	return c, "FFmpeg (" + cfg.Device + ")", nil
}

// ffmpegCameraStream builds the V4L2 → rawvideo bgr24 pipeline.
func ffmpegCameraStream(cfg CaptureConfig) *ffmpeg.Stream {
	size := strconv.Itoa(cfg.Width) + "x" + strconv.Itoa(cfg.Height)
	return ffmpeg.Input(cfg.Device, ffmpeg.KwArgs{
		"f":         "v4l2",
		"framerate": "30",
	}).Output("pipe:1", ffmpeg.KwArgs{
		"f":       "rawvideo",
		"pix_fmt": "bgr24",
		"s":       size,
	}).GlobalArgs("-nostdin", "-loglevel", "error")
}

func (c *ffmpegCapturer) Capture() (Frame, error) {
	return c.stream.latest()
}

func (c *ffmpegCapturer) Close() error {
	c.cancel()
	<-c.stream.done
	return c.cmd.Wait()
}
