package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visage-pipeline/pkg/aggregate"
	"visage-pipeline/pkg/analysis"
	"visage-pipeline/pkg/capture"
	"visage-pipeline/pkg/errors"
	"visage-pipeline/pkg/upload"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type stubAnalyzer struct {
	mu    sync.Mutex
	delay time.Duration
	err   error
	resp  analysis.AnalysisResponse
}

func (s *stubAnalyzer) Upload(ctx context.Context, filePath string) (*analysis.AnalysisResponse, error) {
	s.mu.Lock()
	delay, err, resp := s.delay, s.err, s.resp
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	copied := resp
	return &copied, nil
}

type stubArchiver struct {
	mu    sync.Mutex
	paths []string
}

func (s *stubArchiver) Archive(ctx context.Context, localPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, localPath)
	return "s3://bucket/" + filepath.Base(localPath), nil
}

type stubNarrator struct {
	input string
}

func (s *stubNarrator) Narrate(ctx context.Context, input string) (string, error) {
	s.input = input
	return "summary text", nil
}

func happyResponse() analysis.AnalysisResponse {
	return analysis.AnalysisResponse{
		Faces: []analysis.FaceObservation{{
			Face: analysis.FaceDetail{
				Emotions: []analysis.Emotion{{Type: "HAPPY", Confidence: 0.9}},
			},
		}},
		VideoMetadata: &analysis.VideoMetadata{Codec: "h264", DurationMillis: 5000},
	}
}

func newTestController(t *testing.T, analyzer analysis.Analyzer) (*Controller, *aggregate.Aggregator, *upload.Coordinator) {
	t.Helper()
	dir := t.TempDir()

	clip := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("canned video"), 0o644))

	agg := aggregate.NewAggregator(testLogger())
	coordinator := upload.NewCoordinator(testLogger(), analyzer, agg, upload.Config{
		TempDir:   t.TempDir(),
		Workers:   4,
		QueueSize: 16,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		coordinator.Shutdown(ctx)
	})

	opener := func() (capture.Device, error) {
		return capture.NewFileSource(testLogger(), clip), nil
	}

	controller := NewController(testLogger(), opener, coordinator, agg, analyzer, Config{
		SegmentDir:      dir,
		SegmentDuration: 40 * time.Millisecond,
		SettleDelay:     time.Millisecond,
	})
	return controller, agg, coordinator
}

func TestSessionLifecycle(t *testing.T) {
	analyzer := &stubAnalyzer{resp: happyResponse()}
	controller, agg, coordinator := newTestController(t, analyzer)

	assert.Equal(t, StateIdle, controller.SessionState())
	require.NoError(t, controller.StartRecording())
	assert.True(t, controller.IsRecording())

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, controller.StopRecording())
	assert.False(t, controller.IsRecording())
	assert.Equal(t, StateIdle, controller.SessionState())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, coordinator.Drain(ctx))

	timeline := controller.DominantEmotions()
	require.NotEmpty(t, timeline)
	for _, label := range timeline {
		assert.Equal(t, "HAPPY", label)
	}

	require.NotNil(t, controller.VideoMetadata())
	assert.Equal(t, "h264", controller.VideoMetadata().Codec)
	assert.NotEmpty(t, agg.DetectedFaces())
}

func TestStartWhileRecordingFails(t *testing.T) {
	controller, _, _ := newTestController(t, &stubAnalyzer{resp: happyResponse()})

	require.NoError(t, controller.StartRecording())
	defer controller.StopRecording()

	err := controller.StartRecording()
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrSessionActive))
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	controller, _, _ := newTestController(t, &stubAnalyzer{resp: happyResponse()})
	require.NoError(t, controller.StopRecording())
	assert.Equal(t, StateIdle, controller.SessionState())
}

func TestDeviceFailureSurfacesTypedError(t *testing.T) {
	agg := aggregate.NewAggregator(testLogger())
	analyzer := &stubAnalyzer{resp: happyResponse()}
	coordinator := upload.NewCoordinator(testLogger(), analyzer, agg, upload.Config{
		TempDir: t.TempDir(), Workers: 1, QueueSize: 4,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		coordinator.Shutdown(ctx)
	})

	opener := func() (capture.Device, error) {
		return nil, errors.NewDeviceUnavailable("no camera attached")
	}

	controller := NewController(testLogger(), opener, coordinator, agg, analyzer, Config{
		SegmentDir:      t.TempDir(),
		SegmentDuration: 40 * time.Millisecond,
	})

	err := controller.StartRecording()
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrDeviceUnavailable),
		"device setup failure must be typed, not a silent degraded session")
	assert.Equal(t, StateIdle, controller.SessionState())
}

func TestInFlightUploadsLandAfterStop(t *testing.T) {
	analyzer := &stubAnalyzer{resp: happyResponse(), delay: 80 * time.Millisecond}
	controller, _, coordinator := newTestController(t, analyzer)

	require.NoError(t, controller.StartRecording())
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, controller.StopRecording())

	// Uploads dispatched before the stop keep running.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, coordinator.Drain(ctx))

	assert.False(t, controller.IsRecording())
	assert.NotEmpty(t, controller.DominantEmotions(),
		"completions must still be applied after the session went idle")
}

func TestRestartResetsAggregatedState(t *testing.T) {
	analyzer := &stubAnalyzer{resp: happyResponse()}
	controller, _, coordinator := newTestController(t, analyzer)

	require.NoError(t, controller.StartRecording())
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, controller.StopRecording())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, coordinator.Drain(ctx))
	require.NotEmpty(t, controller.DominantEmotions())
	firstID := controller.SessionID()

	require.NoError(t, controller.StartRecording())
	defer controller.StopRecording()

	assert.Empty(t, controller.DominantEmotions(), "a new session starts with a clean timeline")
	assert.NotEqual(t, firstID, controller.SessionID())
}

func TestUploadVideoMergesSnapshotsAndArchives(t *testing.T) {
	analyzer := &stubAnalyzer{resp: happyResponse()}
	controller, _, _ := newTestController(t, analyzer)

	archiver := &stubArchiver{}
	controller.SetArchiver(archiver)

	path := filepath.Join(t.TempDir(), "full_recording.mp4")
	require.NoError(t, os.WriteFile(path, []byte("full recording"), 0o644))

	response, err := controller.UploadVideo(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, response)

	assert.Empty(t, controller.DominantEmotions(),
		"the escape hatch must not add timeline entries")
	require.NotNil(t, controller.VideoMetadata())
	assert.Equal(t, "h264", controller.VideoMetadata().Codec)
	assert.Equal(t, []string{path}, archiver.paths)
}

func TestUploadVideoFailure(t *testing.T) {
	analyzer := &stubAnalyzer{err: errors.NewServerStatus(500)}
	controller, _, _ := newTestController(t, analyzer)

	_, err := controller.UploadVideo(context.Background(), filepath.Join(t.TempDir(), "x.mp4"))
	require.Error(t, err)
	assert.Nil(t, controller.VideoMetadata(), "a failed final upload leaves metadata absent")
}

func TestNarrative(t *testing.T) {
	analyzer := &stubAnalyzer{resp: happyResponse()}
	controller, agg, _ := newTestController(t, analyzer)

	narrator := &stubNarrator{}
	controller.SetNarrator(narrator)

	_, err := controller.Narrative(context.Background())
	require.Error(t, err, "an empty timeline has nothing to narrate")

	agg.Apply(0, &analysis.AnalysisResponse{Faces: happyResponse().Faces})

	text, err := controller.Narrative(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "summary text", text)
	assert.Contains(t, narrator.input, "HAPPY")
}
