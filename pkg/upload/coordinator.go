package upload

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"visage-pipeline/pkg/aggregate"
	"visage-pipeline/pkg/analysis"
	"visage-pipeline/pkg/errors"
	"visage-pipeline/pkg/metrics"
	"visage-pipeline/pkg/segment"
)

// JobStatus is the lifecycle state of one upload job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusInFlight  JobStatus = "in-flight"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Job is one upload attempt for one segment.
type Job struct {
	ID       uuid.UUID
	Segment  segment.Segment
	Status   JobStatus
	TempPath string
}

// Config holds the coordinator's tunables.
type Config struct {
	// TempDir is where private segment copies live while in flight
	TempDir string

	// Workers caps concurrent uploads
	Workers int

	// QueueSize bounds the backlog of accepted but not yet dispatched jobs
	QueueSize int

	// MaxBytes rejects segments larger than the service accepts; 0 disables
	MaxBytes int64

	// AllowedFormats lists uploadable file extensions; empty allows all
	AllowedFormats []string
}

// Coordinator copies finished segments, submits them to the analyzer through
// a bounded worker pool, tracks in-flight jobs, and routes responses to the
// aggregator. Stopping a session never cancels dispatched jobs; they run to
// completion under the coordinator's own context.
type Coordinator struct {
	logger     *logrus.Logger
	analyzer   analysis.Analyzer
	aggregator *aggregate.Aggregator
	config     Config

	ctx    context.Context
	cancel context.CancelFunc

	queue chan *Job
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[uuid.UUID]*Job
	closed   bool
}

// NewCoordinator creates a coordinator and starts its workers.
func NewCoordinator(logger *logrus.Logger, analyzer analysis.Analyzer, aggregator *aggregate.Aggregator, config Config) *Coordinator {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 32
	}
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		logger:     logger,
		analyzer:   analyzer,
		aggregator: aggregator,
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
		queue:      make(chan *Job, config.QueueSize),
		inFlight:   make(map[uuid.UUID]*Job),
	}

	for i := 0; i < config.Workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}

	return c
}

// Submit accepts a finished segment: validate, make a private copy, register
// the job, and enqueue it. The original file is free for reuse as soon as
// Submit returns. Failures are absorbed per segment; no retry beyond what
// the analyzer itself does.
func (c *Coordinator) Submit(seg segment.Segment) error {
	if err := c.validate(seg); err != nil {
		return err
	}

	id := uuid.New()
	tempPath := filepath.Join(c.config.TempDir, id.String()+filepath.Ext(seg.FilePath))

	if err := copyFile(seg.FilePath, tempPath); err != nil {
		return errors.Wrap(errors.ErrSegmentCopy, err.Error(), map[string]interface{}{
			"segment_index": seg.Index,
		})
	}

	job := &Job{
		ID:       id,
		Segment:  seg,
		Status:   StatusPending,
		TempPath: tempPath,
	}

	// Insert before dispatch so the in-flight set never under-counts.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		os.Remove(tempPath)
		return errors.Wrap(errors.ErrUploadRejected, "coordinator is shut down")
	}
	c.inFlight[id] = job
	inFlight := len(c.inFlight)
	c.mu.Unlock()
	metrics.SetUploadsInFlight(inFlight)

	select {
	case c.queue <- job:
	default:
		// Bounded backpressure: a full queue drops the segment rather than
		// growing without limit under sustained recording.
		c.remove(id)
		os.Remove(tempPath)
		metrics.ObserveQueueFull()
		return errors.Wrap(errors.ErrUploadRejected, "upload queue is full", map[string]interface{}{
			"segment_index": seg.Index,
		})
	}

	c.logger.WithFields(logrus.Fields{
		"job_id":        id,
		"segment_index": seg.Index,
	}).Debug("Segment queued for upload")

	return nil
}

// InFlight returns the number of jobs accepted but not yet terminal.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// Drain blocks until every outstanding job reaches a terminal state or the
// context expires.
func (c *Coordinator) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.InFlight() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "drain timed out", map[string]interface{}{
				"remaining": c.InFlight(),
			})
		case <-ticker.C:
		}
	}
}

// Shutdown stops accepting work, lets queued jobs finish, and releases the
// workers.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Drain(ctx)

	close(c.queue)
	c.wg.Wait()
	c.cancel()
	return err
}

func (c *Coordinator) worker() {
	defer c.wg.Done()

	for job := range c.queue {
		c.process(job)
	}
}

func (c *Coordinator) process(job *Job) {
	job.Status = StatusInFlight
	start := time.Now()

	response, err := c.analyzer.Upload(c.ctx, job.TempPath)
	elapsed := time.Since(start)

	if err != nil {
		job.Status = StatusFailed
		c.remove(job.ID)
		metrics.ObserveUpload("failure", elapsed.Seconds())
		metrics.ObserveAnalysisFailure(failureKind(err))

		// Logged, not retried; the temp copy is abandoned with the failure.
		c.logger.WithError(err).WithFields(logrus.Fields{
			"job_id":        job.ID,
			"segment_index": job.Segment.Index,
		}).Error("Segment upload failed")
		return
	}

	job.Status = StatusSucceeded
	c.aggregator.Apply(job.Segment.Index, response)
	metrics.ObserveTimeline(len(c.aggregator.Timeline()), len(response.Faces))

	if err := os.Remove(job.TempPath); err != nil && !os.IsNotExist(err) {
		c.logger.WithError(err).WithField("path", job.TempPath).Warn("Failed to delete temp copy")
	}

	c.remove(job.ID)
	metrics.ObserveUpload("success", elapsed.Seconds())

	c.logger.WithFields(logrus.Fields{
		"job_id":        job.ID,
		"segment_index": job.Segment.Index,
		"duration_ms":   elapsed.Milliseconds(),
		"face_count":    len(response.Faces),
	}).Info("Segment upload completed")
}

func (c *Coordinator) remove(id uuid.UUID) {
	c.mu.Lock()
	delete(c.inFlight, id)
	inFlight := len(c.inFlight)
	c.mu.Unlock()
	metrics.SetUploadsInFlight(inFlight)
}

func (c *Coordinator) validate(seg segment.Segment) error {
	info, err := os.Stat(seg.FilePath)
	if err != nil || info.Size() == 0 {
		return errors.NewEmptySegment(seg.FilePath)
	}

	if c.config.MaxBytes > 0 && info.Size() > c.config.MaxBytes {
		return errors.Wrap(errors.ErrUploadRejected, "segment exceeds upload size limit", map[string]interface{}{
			"size_bytes": info.Size(),
			"max_bytes":  c.config.MaxBytes,
		})
	}

	if len(c.config.AllowedFormats) > 0 {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(seg.FilePath), "."))
		allowed := false
		for _, format := range c.config.AllowedFormats {
			if strings.EqualFold(strings.TrimSpace(format), ext) {
				allowed = true
				break
			}
		}
		if !allowed {
			return errors.Wrap(errors.ErrUploadRejected, "segment format not accepted by service", map[string]interface{}{
				"extension": ext,
			})
		}
	}

	return nil
}

func failureKind(err error) string {
	switch {
	case errors.IsErrorType(err, errors.ErrServerStatus):
		return "server_status"
	case errors.IsErrorType(err, errors.ErrEmptyResponse):
		return "empty_response"
	case errors.IsErrorType(err, errors.ErrDecodeFailed):
		return "decode"
	default:
		return "transport"
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
