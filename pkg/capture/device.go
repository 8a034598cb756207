package capture

import (
	"os/exec"

	"github.com/sirupsen/logrus"

	"visage-pipeline/pkg/errors"
)

// Position selects which camera to open.
type Position string

const (
	PositionFront Position = "front"
	PositionBack  Position = "back"
)

// PreviewHandle identifies the live preview source the UI layer can attach
// to. The core never renders it.
type PreviewHandle struct {
	// Source is the device node or file the preview reads from
	Source string
}

// Device is one physical (or simulated) video source. A device records into
// exactly one file at a time; BeginRecording while recording is an error.
type Device interface {
	// BeginRecording starts capturing into the file at path
	BeginRecording(path string) error

	// EndRecording stops the active capture and finalizes the file
	EndRecording() error

	// Preview returns the live preview handle
	Preview() PreviewHandle

	// Release frees the underlying source. The device is unusable afterwards.
	Release() error
}

// DeviceConfig holds capture-device settings.
type DeviceConfig struct {
	Position Position

	// Node overrides the video device node (default /dev/video0)
	Node string

	// FFmpegPath overrides the ffmpeg binary location
	FFmpegPath string

	// FrameRate and Size are passed through to the capture command
	FrameRate int
	Size      string
}

// Open acquires the camera at the requested position. Setup failure is a
// typed error the session controller must handle, never a silent degraded
// device.
func Open(logger *logrus.Logger, config DeviceConfig) (Device, error) {
	if config.Node == "" {
		// Front/back is advisory on non-mobile hardware; default node wins.
		config.Node = "/dev/video0"
	}
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.FrameRate <= 0 {
		config.FrameRate = 30
	}
	if config.Size == "" {
		config.Size = "1280x720"
	}

	ffmpeg, err := exec.LookPath(config.FFmpegPath)
	if err != nil {
		return nil, errors.NewDeviceUnavailable("ffmpeg not found", map[string]interface{}{
			"ffmpeg_path": config.FFmpegPath,
		})
	}

	logger.WithFields(logrus.Fields{
		"position": config.Position,
		"node":     config.Node,
	}).Info("Capture device opened")

	return &ffmpegCamera{
		logger: logger,
		config: config,
		ffmpeg: ffmpeg,
	}, nil
}
