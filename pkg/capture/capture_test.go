package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visage-pipeline/pkg/errors"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestFileSourceRecordsClip(t *testing.T) {
	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("canned video bytes"), 0o644))

	device := NewFileSource(testLogger(), clip)
	target := filepath.Join(dir, "segment_000.mp4")

	require.NoError(t, device.BeginRecording(target))
	require.NoError(t, device.EndRecording())

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, []byte("canned video bytes"), data)
}

func TestFileSourceEmptyClipProducesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	device := NewFileSource(testLogger(), "")
	target := filepath.Join(dir, "segment_000.mp4")

	require.NoError(t, device.BeginRecording(target))
	require.NoError(t, device.EndRecording())

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestFileSourceRejectsConcurrentRecording(t *testing.T) {
	dir := t.TempDir()
	device := NewFileSource(testLogger(), "")

	require.NoError(t, device.BeginRecording(filepath.Join(dir, "a.mp4")))
	err := device.BeginRecording(filepath.Join(dir, "b.mp4"))
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrSessionActive))

	require.NoError(t, device.EndRecording())
}

func TestFileSourceRejectsUseAfterRelease(t *testing.T) {
	device := NewFileSource(testLogger(), "")
	require.NoError(t, device.Release())

	err := device.BeginRecording(filepath.Join(t.TempDir(), "a.mp4"))
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrDeviceUnavailable))
}

func TestFileSourcePreview(t *testing.T) {
	device := NewFileSource(testLogger(), "/media/clip.mp4")
	assert.Equal(t, "/media/clip.mp4", device.Preview().Source)
}

func TestOpenMissingFFmpeg(t *testing.T) {
	_, err := Open(testLogger(), DeviceConfig{
		Position:   PositionFront,
		FFmpegPath: "/nonexistent/ffmpeg",
	})
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrDeviceUnavailable),
		"setup failure must surface as a typed device error")
}
