package capture

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"visage-pipeline/pkg/errors"
)

// FileSource simulates a camera by replaying a canned clip into each
// recording window. It backs tests and headless runs where no video device
// is attached.
type FileSource struct {
	logger *logrus.Logger

	// ClipPath is the canned video replayed into every segment. When empty,
	// each recording produces an empty file, which downstream validation
	// must drop.
	ClipPath string

	mu        sync.Mutex
	recording string
	released  bool
}

// NewFileSource creates a file-backed capture device.
func NewFileSource(logger *logrus.Logger, clipPath string) *FileSource {
	return &FileSource{logger: logger, ClipPath: clipPath}
}

func (f *FileSource) BeginRecording(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.released {
		return errors.NewDeviceUnavailable("device already released")
	}
	if f.recording != "" {
		return errors.Wrap(errors.ErrSessionActive, "device is already recording")
	}

	fd, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create recording file")
	}
	fd.Close()

	f.recording = path
	return nil
}

func (f *FileSource) EndRecording() error {
	f.mu.Lock()
	path := f.recording
	f.recording = ""
	clip := f.ClipPath
	f.mu.Unlock()

	if path == "" || clip == "" {
		return nil
	}

	data, err := os.ReadFile(clip)
	if err != nil {
		return errors.Wrap(err, "failed to read source clip", map[string]interface{}{
			"clip": clip,
		})
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to finalize recording file")
	}

	return nil
}

func (f *FileSource) Preview() PreviewHandle {
	return PreviewHandle{Source: f.ClipPath}
}

func (f *FileSource) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.recording = ""
	f.released = true
	return nil
}
