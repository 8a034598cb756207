package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"visage-pipeline/pkg/capture"
	"visage-pipeline/pkg/errors"
	"visage-pipeline/pkg/metrics"
)

// RecorderConfig holds the segment recorder's tunables.
type RecorderConfig struct {
	// Dir is where segment files are written
	Dir string

	// Duration is the fixed recording window per segment
	Duration time.Duration

	// SettleDelay is how long to wait after stopping the device before
	// validating the file, so the container finishes flushing
	SettleDelay time.Duration
}

// Recorder drives the capture device through fixed-length recording windows,
// one at a time, and hands completed segment files to the sink. Segment
// creation order is strict; there is never more than one active recording.
type Recorder struct {
	logger *logrus.Logger
	device capture.Device
	sink   Sink
	config RecorderConfig

	mu          sync.Mutex
	active      bool
	index       int
	currentPath string
	timer       *time.Timer
	windowStart time.Time
}

// NewRecorder creates a recorder bound to one device and one sink.
func NewRecorder(logger *logrus.Logger, device capture.Device, sink Sink, config RecorderConfig) *Recorder {
	if config.Duration <= 0 {
		config.Duration = 5 * time.Second
	}
	if config.SettleDelay <= 0 {
		config.SettleDelay = 100 * time.Millisecond
	}

	return &Recorder{
		logger: logger,
		device: device,
		sink:   sink,
		config: config,
	}
}

// StartSession begins the first segment. The recorder then re-arms itself on
// every window boundary until StopSession.
func (r *Recorder) StartSession() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return errors.Wrap(errors.ErrSessionActive, "recorder already running")
	}

	r.active = true
	r.index = 0

	if err := r.beginSegmentLocked(); err != nil {
		r.active = false
		return err
	}
	return nil
}

// StopSession cancels the pending window timer, stops any active recording,
// and forces a final hand-off of the last segment when one exists. It
// returns the last segment's path so the caller can submit the recording
// tail through other surfaces.
func (r *Recorder) StopSession() (string, error) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return "", nil
	}

	r.active = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	lastPath := r.currentPath
	r.currentPath = ""
	r.mu.Unlock()

	if err := r.device.EndRecording(); err != nil {
		r.logger.WithError(err).Warn("Failed to stop capture during session stop")
	}

	if lastPath == "" {
		return "", nil
	}

	time.Sleep(r.config.SettleDelay)
	r.finishSegment(lastPath)
	return lastPath, nil
}

// SegmentIndex returns the index the next segment would get.
func (r *Recorder) SegmentIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

// beginSegmentLocked opens the next segment file and arms the window timer.
// Caller holds r.mu.
func (r *Recorder) beginSegmentLocked() error {
	path := filepath.Join(r.config.Dir, fmt.Sprintf("segment_%04d.mp4", r.index))

	if err := r.device.BeginRecording(path); err != nil {
		return errors.Wrap(err, "failed to begin segment recording", map[string]interface{}{
			"segment_index": r.index,
		})
	}

	r.currentPath = path
	r.windowStart = time.Now()
	r.timer = time.AfterFunc(r.config.Duration, r.rotate)

	r.logger.WithFields(logrus.Fields{
		"segment_index": r.index,
		"path":          path,
	}).Debug("Segment recording started")

	return nil
}

// rotate fires on the window timer: close out the current segment and
// immediately start the next one. Invalid segments are logged and skipped;
// the loop never halts on them.
func (r *Recorder) rotate() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	path := r.currentPath
	r.currentPath = ""
	elapsed := time.Since(r.windowStart)
	r.mu.Unlock()

	if err := r.device.EndRecording(); err != nil {
		r.logger.WithError(err).Error("Failed to stop capture at segment boundary")
	}

	time.Sleep(r.config.SettleDelay)

	if path != "" {
		if r.finishSegment(path) {
			metrics.ObserveSegmentRecorded(elapsed.Seconds())
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Index advances whether or not the segment validated.
	r.index++

	if !r.active {
		return
	}
	if err := r.beginSegmentLocked(); err != nil {
		// One bad re-arm must not kill the loop; retry at the next window.
		r.logger.WithError(err).Error("Failed to re-arm segment recording")
		r.timer = time.AfterFunc(r.config.Duration, r.rotate)
	}
}

// finishSegment validates the recorded file and hands it downstream.
// Returns whether the segment was valid and submitted.
func (r *Recorder) finishSegment(path string) bool {
	r.mu.Lock()
	index := r.index
	r.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		r.logger.WithFields(logrus.Fields{
			"segment_index": index,
			"path":          path,
		}).Warn("Dropping invalid segment")
		metrics.ObserveSegmentDrop("empty_file")
		return false
	}

	seg := Segment{
		Index:     index,
		FilePath:  path,
		CreatedAt: time.Now().UTC(),
	}

	if err := r.sink.Submit(seg); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"segment_index": index,
			"path":          path,
		}).Error("Segment hand-off rejected")
		metrics.ObserveSegmentDrop("sink_rejected")
		return false
	}

	return true
}
