package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"visage-pipeline/pkg/aggregate"
	"visage-pipeline/pkg/analysis"
	"visage-pipeline/pkg/capture"
	"visage-pipeline/pkg/errors"
	"visage-pipeline/pkg/metrics"
	"visage-pipeline/pkg/segment"
	"visage-pipeline/pkg/upload"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
)

// DeviceOpener acquires the capture device for one session.
type DeviceOpener func() (capture.Device, error)

// Narrator turns a session summary into report prose.
type Narrator interface {
	Narrate(ctx context.Context, input string) (string, error)
}

// Archiver persists the final recording outside the pipeline.
type Archiver interface {
	Archive(ctx context.Context, localPath string) (string, error)
}

// Config holds the per-session recorder settings.
type Config struct {
	SegmentDir      string
	SegmentDuration time.Duration
	SettleDelay     time.Duration
}

// Controller owns the session lifecycle: it acquires the device, drives the
// segment recorder, and exposes the aggregated state to the report/UI
// collaborators. One controller handles one stream; the device belongs to it
// for the whole session.
type Controller struct {
	logger      *logrus.Logger
	openDevice  DeviceOpener
	coordinator *upload.Coordinator
	aggregator  *aggregate.Aggregator
	analyzer    analysis.Analyzer
	narrator    Narrator
	archiver    Archiver
	config      Config

	mu        sync.Mutex
	state     State
	device    capture.Device
	recorder  *segment.Recorder
	sessionID uuid.UUID
}

// NewController wires a controller from its collaborators. narrator and
// archiver may be nil when those surfaces are disabled.
func NewController(
	logger *logrus.Logger,
	openDevice DeviceOpener,
	coordinator *upload.Coordinator,
	aggregator *aggregate.Aggregator,
	analyzer analysis.Analyzer,
	config Config,
) *Controller {
	return &Controller{
		logger:      logger,
		openDevice:  openDevice,
		coordinator: coordinator,
		aggregator:  aggregator,
		analyzer:    analyzer,
		config:      config,
		state:       StateIdle,
	}
}

// SetNarrator attaches the optional narrative surface.
func (c *Controller) SetNarrator(narrator Narrator) { c.narrator = narrator }

// SetArchiver attaches the optional recording archiver.
func (c *Controller) SetArchiver(archiver Archiver) { c.archiver = archiver }

// StartRecording transitions Idle → Recording: acquire the device, reset
// aggregated state, and begin the first segment. A device-setup failure is
// returned to the caller, never swallowed into a silently degraded session.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return errors.Wrap(errors.ErrSessionActive, "session is not idle", map[string]interface{}{
			"state": string(c.state),
		})
	}

	device, err := c.openDevice()
	if err != nil {
		return errors.Wrap(err, "failed to acquire capture device")
	}

	c.sessionID = uuid.New()
	c.device = device
	c.aggregator.Reset()
	c.recorder = segment.NewRecorder(c.logger, device, c.coordinator, segment.RecorderConfig{
		Dir:         c.config.SegmentDir,
		Duration:    c.config.SegmentDuration,
		SettleDelay: c.config.SettleDelay,
	})

	if err := c.recorder.StartSession(); err != nil {
		device.Release()
		c.device = nil
		c.recorder = nil
		return errors.Wrap(err, "failed to start segment recording")
	}

	c.state = StateRecording
	metrics.ObserveSessionStart()

	c.logger.WithFields(logrus.Fields{
		"session_id":       c.sessionID,
		"segment_duration": c.config.SegmentDuration,
	}).Info("Recording session started")

	return nil
}

// StopRecording transitions Recording → Stopping → Idle: cancel the window
// timer, stop capture, flush the last segment, release the device. Uploads
// already dispatched keep running and still land in session state after the
// controller is idle again. Stopping an idle controller is a no-op.
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	recorder := c.recorder
	device := c.device
	sessionID := c.sessionID
	c.mu.Unlock()

	lastPath, err := recorder.StopSession()
	if err != nil {
		c.logger.WithError(err).Warn("Error flushing final segment")
	}

	if releaseErr := device.Release(); releaseErr != nil {
		c.logger.WithError(releaseErr).Warn("Error releasing capture device")
	}

	c.mu.Lock()
	c.state = StateIdle
	c.device = nil
	c.recorder = nil
	c.mu.Unlock()

	metrics.ObserveSessionStop()

	c.logger.WithFields(logrus.Fields{
		"session_id":   sessionID,
		"last_segment": lastPath,
		"in_flight":    c.coordinator.InFlight(),
	}).Info("Recording session stopped")

	return nil
}

// IsRecording reports whether a session is active.
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateRecording
}

// SessionState returns the controller state label.
func (c *Controller) SessionState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the current (or most recent) session id.
func (c *Controller) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SegmentIndex returns the index the recorder will assign next, 0 when idle.
func (c *Controller) SegmentIndex() int {
	c.mu.Lock()
	recorder := c.recorder
	c.mu.Unlock()

	if recorder == nil {
		return 0
	}
	return recorder.SegmentIndex()
}

// DominantEmotions returns the emotion timeline in segment order.
func (c *Controller) DominantEmotions() []string {
	return c.aggregator.Timeline()
}

// DetectedFaces returns the latest face snapshot.
func (c *Controller) DetectedFaces() []analysis.FaceObservation {
	return c.aggregator.DetectedFaces()
}

// VideoMetadata returns the latest stream metadata snapshot.
func (c *Controller) VideoMetadata() *analysis.VideoMetadata {
	return c.aggregator.VideoMetadata()
}

// UploadVideo submits a full recording outside the per-segment flow, merges
// its snapshots into session state, and archives it when an archiver is
// configured. Used once at session end by the report collaborator.
func (c *Controller) UploadVideo(ctx context.Context, path string) (*analysis.AnalysisResponse, error) {
	response, err := c.analyzer.Upload(ctx, path)
	if err != nil {
		return nil, errors.Wrap(err, "final recording upload failed", map[string]interface{}{
			"path": path,
		})
	}

	c.aggregator.ApplySnapshot(response)

	if c.archiver != nil {
		location, archiveErr := c.archiver.Archive(ctx, path)
		if archiveErr != nil {
			// Archival is best effort; the analysis result already landed.
			c.logger.WithError(archiveErr).Warn("Failed to archive final recording")
		} else {
			c.logger.WithField("location", location).Info("Final recording archived")
		}
	}

	return response, nil
}

// Narrative asks the narrator to summarize the session's timeline as report
// prose.
func (c *Controller) Narrative(ctx context.Context) (string, error) {
	if c.narrator == nil {
		return "", errors.Wrap(errors.ErrUnavailable, "narrative surface is disabled")
	}

	timeline := c.aggregator.Timeline()
	if len(timeline) == 0 {
		return "", errors.Wrap(errors.ErrInvalidInput, "no timeline entries to narrate")
	}

	prompt := "Summarize the emotional arc of a recorded session whose per-segment dominant emotions were: " +
		strings.Join(timeline, ", ")
	return c.narrator.Narrate(ctx, prompt)
}
