package segment

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visage-pipeline/pkg/capture"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type captureSink struct {
	mu       sync.Mutex
	segments []Segment
	reject   bool
}

func (s *captureSink) Submit(seg Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return assert.AnError
	}
	s.segments = append(s.segments, seg)
	return nil
}

func (s *captureSink) received() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

func newTestRecorder(t *testing.T, clip string, sink Sink) *Recorder {
	t.Helper()
	dir := t.TempDir()

	var clipPath string
	if clip != "" {
		clipPath = filepath.Join(dir, "clip.mp4")
		require.NoError(t, os.WriteFile(clipPath, []byte(clip), 0o644))
	}

	device := capture.NewFileSource(testLogger(), clipPath)
	return NewRecorder(testLogger(), device, sink, RecorderConfig{
		Dir:         dir,
		Duration:    40 * time.Millisecond,
		SettleDelay: time.Millisecond,
	})
}

func TestRecorderProducesSequentialSegments(t *testing.T) {
	sink := &captureSink{}
	recorder := newTestRecorder(t, "video-bytes", sink)

	require.NoError(t, recorder.StartSession())
	time.Sleep(150 * time.Millisecond)
	_, err := recorder.StopSession()
	require.NoError(t, err)

	segments := sink.received()
	require.NotEmpty(t, segments)

	for i, seg := range segments {
		assert.Equal(t, i, seg.Index, "segment creation order must be strict")
		assert.FileExists(t, seg.FilePath)
	}
}

func TestRecorderDropsEmptySegments(t *testing.T) {
	sink := &captureSink{}
	// Empty clip path makes every recording a zero-byte file.
	recorder := newTestRecorder(t, "", sink)

	require.NoError(t, recorder.StartSession())
	time.Sleep(120 * time.Millisecond)
	_, err := recorder.StopSession()
	require.NoError(t, err)

	assert.Empty(t, sink.received(), "zero-byte segments must never be submitted")
	assert.Greater(t, recorder.SegmentIndex(), 0,
		"the index still advances past dropped segments")
}

func TestRecorderStopFlushesFinalSegment(t *testing.T) {
	sink := &captureSink{}
	recorder := newTestRecorder(t, "video-bytes", sink)

	require.NoError(t, recorder.StartSession())
	// Stop mid-window, before the first timer fires.
	time.Sleep(15 * time.Millisecond)
	lastPath, err := recorder.StopSession()
	require.NoError(t, err)

	require.NotEmpty(t, lastPath)
	segments := sink.received()
	require.Len(t, segments, 1, "stop must force a final hand-off")
	assert.Equal(t, 0, segments[0].Index)
	assert.Equal(t, lastPath, segments[0].FilePath)
}

func TestRecorderStartWhileActiveFails(t *testing.T) {
	sink := &captureSink{}
	recorder := newTestRecorder(t, "video-bytes", sink)

	require.NoError(t, recorder.StartSession())
	defer recorder.StopSession()

	assert.Error(t, recorder.StartSession())
}

func TestRecorderStopWhenIdleIsNoop(t *testing.T) {
	sink := &captureSink{}
	recorder := newTestRecorder(t, "video-bytes", sink)

	lastPath, err := recorder.StopSession()
	require.NoError(t, err)
	assert.Empty(t, lastPath)
	assert.Empty(t, sink.received())
}

func TestRecorderSurvivesSinkRejection(t *testing.T) {
	sink := &captureSink{reject: true}
	recorder := newTestRecorder(t, "video-bytes", sink)

	require.NoError(t, recorder.StartSession())
	time.Sleep(120 * time.Millisecond)
	_, err := recorder.StopSession()
	require.NoError(t, err)

	assert.Greater(t, recorder.SegmentIndex(), 1,
		"rejected hand-offs must not halt the recording loop")
}
