package capture

import (
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"visage-pipeline/pkg/errors"
)

// ffmpegCamera captures from a video device node by driving an ffmpeg child
// process per recording window.
type ffmpegCamera struct {
	logger *logrus.Logger
	config DeviceConfig
	ffmpeg string

	mu       sync.Mutex
	cmd      *exec.Cmd
	released bool
}

func (c *ffmpegCamera) BeginRecording(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return errors.NewDeviceUnavailable("device already released")
	}
	if c.cmd != nil {
		return errors.Wrap(errors.ErrSessionActive, "device is already recording")
	}

	cmd := exec.Command(c.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-framerate", strconv.Itoa(c.config.FrameRate),
		"-video_size", c.config.Size,
		"-i", c.config.Node,
		"-c:v", "libx264", "-preset", "ultrafast",
		"-movflags", "+faststart",
		"-y", path,
	)

	if err := cmd.Start(); err != nil {
		return errors.NewDeviceUnavailable("failed to start capture process", map[string]interface{}{
			"node":  c.config.Node,
			"error": err.Error(),
		})
	}

	c.cmd = cmd
	c.logger.WithFields(logrus.Fields{
		"path": path,
		"pid":  cmd.Process.Pid,
	}).Debug("Recording started")

	return nil
}

func (c *ffmpegCamera) EndRecording() error {
	c.mu.Lock()
	cmd := c.cmd
	c.cmd = nil
	c.mu.Unlock()

	if cmd == nil {
		return nil
	}

	// SIGINT lets ffmpeg flush the moov atom; SIGKILL would truncate the file.
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return errors.Wrap(err, "failed to signal capture process")
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		c.logger.Warn("Capture process did not exit after SIGINT, killing")
		cmd.Process.Kill()
		<-done
	}

	c.logger.Debug("Recording stopped")
	return nil
}

func (c *ffmpegCamera) Preview() PreviewHandle {
	return PreviewHandle{Source: c.config.Node}
}

func (c *ffmpegCamera) Release() error {
	if err := c.EndRecording(); err != nil {
		c.logger.WithError(err).Warn("Error stopping recording during release")
	}

	c.mu.Lock()
	c.released = true
	c.mu.Unlock()

	c.logger.Info("Capture device released")
	return nil
}
