package utils

import (
	"fmt"
	"os/exec"
	"runtime"

	"go.uber.org/zap"
)

// CameraCapture grabs a single frame from a locally attached camera, for
// kiosk deployments where the injury photo is taken at the device rather
// than uploaded by a browser. Uses ffmpeg so no cgo bindings are needed.
type CameraCapture struct {
	DeviceID int
}

func NewCameraCapture() *CameraCapture {
	return &CameraCapture{DeviceID: 0}
}

// CaptureFrame returns one JPEG frame from the camera. The bytes go
// through the same normalization path as an uploaded image.
func (c *CameraCapture) CaptureFrame() ([]byte, error) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("ffmpeg",
			"-f", "avfoundation",
			"-video_size", "1280x720",
			"-framerate", "30",
			"-i", fmt.Sprintf("%d", c.DeviceID),
			"-vframes", "1",
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-q:v", "2",
			"-")
	case "linux":
		cmd = exec.Command("ffmpeg",
			"-f", "v4l2",
			"-video_size", "1280x720",
			"-i", fmt.Sprintf("/dev/video%d", c.DeviceID),
			"-vframes", "1",
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-q:v", "2",
			"-")
	default:
		return nil, fmt.Errorf("camera capture not supported on %s", runtime.GOOS)
	}

	output, err := cmd.Output()
	if err != nil {
		zap.L().Error("Failed to capture frame from camera", zap.Error(err))
		return nil, fmt.Errorf("failed to capture frame: %w", err)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("no frame data captured")
	}

	zap.L().Debug("Captured camera frame", zap.Int("size", len(output)))
	return output, nil
}
