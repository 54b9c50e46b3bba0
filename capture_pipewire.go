package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	portalDest   = "org.freedesktop.portal.Desktop"
	portalPath   = "/org/freedesktop/portal/desktop"
	cameraIface  = "org.freedesktop.portal.Camera"
	requestIface = "org.freedesktop.portal.Request"

	portalTimeout = 120 * time.Second // user may need to grant camera access
)

// pipeWireCapturer reads the camera granted by the XDG Camera portal through
// a GStreamer pipeline.
type pipeWireCapturer struct {
	cancel context.CancelFunc
	cmd    *exec.Cmd
	dbConn *dbus.Conn // kept alive to hold camera access
	pwFile *os.File   // PipeWire remote fd from the portal
	stream *frameStream
}

func newPipeWireCapturer(cfg CaptureConfig) (Capturer, string, error) {
	if !hasExecutable("gst-launch-1.0") {
		return nil, "", fmt.Errorf("gst-launch-1.0 not found")
	}

	dbConn, pwFile, err := acquireCameraRemote()
	if err != nil {
		return nil, "", fmt.Errorf("camera portal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// ExtraFiles[0] becomes fd 3 in the child.
	cmd := exec.CommandContext(ctx, "gst-launch-1.0", "-q",
		"pipewiresrc", "fd=3",
		"!", "videoconvert",
		"!", "videoscale",
		"!", fmt.Sprintf("video/x-raw,format=BGR,width=%d,height=%d", cfg.Width, cfg.Height),
		"!", "fdsink", "fd=1",
	)
	cmd.ExtraFiles = []*os.File{pwFile}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		pwFile.Close()
		dbConn.Close()
		return nil, "", fmt.Errorf("gstreamer stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		pwFile.Close()
		dbConn.Close()
		return nil, "", fmt.Errorf("starting gstreamer: %w", err)
	}

	c := &pipeWireCapturer{
		cancel: cancel,
		cmd:    cmd,
		dbConn: dbConn,
		pwFile: pwFile,
		stream: newFrameStream(cfg.Width, cfg.Height),
	}

	go c.stream.readFrames(stdout)

	if err := c.stream.waitFirst(firstFrameTimeout); err != nil {
		c.cancel()
		<-c.stream.done
		_ = c.cmd.Wait()
		pwFile.Close()
		dbConn.Close()
		return nil, "", fmt.Errorf("gstreamer: %w", err)
	}

	return c, "PipeWire", nil
}

func (c *pipeWireCapturer) Capture() (Frame, error) {
	return c.stream.latest()
}

func (c *pipeWireCapturer) Close() error {
	c.cancel()
	<-c.stream.done
	err := c.cmd.Wait()
	c.pwFile.Close()
	c.dbConn.Close()
	return err
}

// acquireCameraRemote asks the XDG Desktop Portal for camera access and
// returns the D-Bus connection (must stay open) and a PipeWire remote file
// descriptor for GStreamer.
func acquireCameraRemote() (*dbus.Conn, *os.File, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	if !conn.SupportsUnixFDs() {
		conn.Close()
		return nil, nil, fmt.Errorf("D-Bus connection does not support Unix FD passing")
	}

	portal := conn.Object(portalDest, dbus.ObjectPath(portalPath))

	present, err := portal.GetProperty(cameraIface + ".IsCameraPresent")
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("IsCameraPresent: %w", err)
	}
	if ok, _ := present.Value().(bool); !ok {
		conn.Close()
		return nil, nil, fmt.Errorf("no camera present")
	}

	sender := senderToToken(conn.Names()[0])
	reqToken := "colormatch_req_camera"
	reqPath := dbus.ObjectPath(fmt.Sprintf("/org/freedesktop/portal/desktop/request/%s/%s", sender, reqToken))

	sigCh := subscribeSignal(conn, reqPath)
	defer conn.RemoveSignal(sigCh)

	call := portal.Call(cameraIface+".AccessCamera", 0, map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(reqToken),
	})
	if call.Err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("AccessCamera: %w", call.Err)
	}

	if _, err := waitForResponse(sigCh, portalTimeout); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("AccessCamera response: %w", err)
	}

	var pwFd dbus.UnixFD
	err = portal.Call(cameraIface+".OpenPipeWireRemote", 0, map[string]dbus.Variant{}).Store(&pwFd)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("OpenPipeWireRemote: %w", err)
	}

	pwFile := os.NewFile(uintptr(pwFd), "pipewire-remote")
	if pwFile == nil {
		conn.Close()
		return nil, nil, fmt.Errorf("invalid PipeWire fd")
	}

	return conn, pwFile, nil
}

// subscribeSignal registers a D-Bus signal match for the portal Response signal
// at the given path and returns a channel that receives matching signals.
func subscribeSignal(conn *dbus.Conn, path dbus.ObjectPath) chan *dbus.Signal {
	ch := make(chan *dbus.Signal, 1)
	conn.Signal(ch)
	conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0,
		fmt.Sprintf("type='signal',interface='%s',member='Response',path='%s'", requestIface, path))
	return ch
}

// waitForResponse waits for a portal Response signal and returns the results map.
// A non-zero response code means the user denied access or the request failed.
func waitForResponse(ch chan *dbus.Signal, timeout time.Duration) (map[string]dbus.Variant, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		select {
		case sig := <-ch:
			if sig == nil {
				return nil, fmt.Errorf("signal channel closed")
			}
			if sig.Name != requestIface+".Response" {
				continue
			}
			return parseResponse(sig)
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for portal response")
		}
	}
}

// parseResponse decodes the (u, a{sv}) body of a portal Response signal.
func parseResponse(sig *dbus.Signal) (map[string]dbus.Variant, error) {
	if len(sig.Body) < 2 {
		return nil, fmt.Errorf("short response body")
	}
	code, ok := sig.Body[0].(uint32)
	if !ok {
		return nil, fmt.Errorf("unexpected response code type %T", sig.Body[0])
	}
	if code != 0 {
		return nil, fmt.Errorf("portal request denied (code %d)", code)
	}
	results, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("unexpected response type")
	}
	return results, nil
}

// senderToToken converts a D-Bus sender name like ":1.42" to "1_42" for use
// in request object paths.
func senderToToken(sender string) string {
	s := strings.TrimPrefix(sender, ":")
	return strings.ReplaceAll(s, ".", "_")
}
