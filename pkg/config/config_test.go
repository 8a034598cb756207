package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ANALYSIS_URL", "http://localhost:8000/")

	logger := logrus.New()
	cfg, err := LoadConfig(logger)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.AnalysisURL, "trailing slash should be trimmed")
	assert.Equal(t, 5*time.Second, cfg.SegmentDuration)
	assert.Equal(t, "front", cfg.CameraPosition)
	assert.Equal(t, 4, cfg.MaxConcurrentUploads)
	assert.Equal(t, int64(100*1024*1024), cfg.MaxUploadBytes)
	assert.Equal(t, []string{"mp4", "mov", "avi"}, cfg.AllowedFormats)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingAnalysisURL(t *testing.T) {
	t.Setenv("ANALYSIS_URL", "")

	_, err := LoadConfig(logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANALYSIS_URL")
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ANALYSIS_URL", "http://analysis.internal")
	t.Setenv("SEGMENT_DURATION", "2s")
	t.Setenv("MAX_CONCURRENT_UPLOADS", "8")
	t.Setenv("ALLOWED_FORMATS", "mp4,webm")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(logrus.New())
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.SegmentDuration)
	assert.Equal(t, 8, cfg.MaxConcurrentUploads)
	assert.Equal(t, []string{"mp4", "webm"}, cfg.AllowedFormats)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
}

func TestLoadConfigS3RequiresBucket(t *testing.T) {
	t.Setenv("ANALYSIS_URL", "http://analysis.internal")
	t.Setenv("S3_ARCHIVE_ENABLED", "true")
	t.Setenv("S3_BUCKET", "")

	_, err := LoadConfig(logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3_BUCKET")
}

func TestAllowsFormat(t *testing.T) {
	cfg := &Configuration{AllowedFormats: []string{"mp4", "mov", "avi"}}

	assert.True(t, cfg.AllowsFormat("mp4"))
	assert.True(t, cfg.AllowsFormat(".MOV"))
	assert.False(t, cfg.AllowsFormat("mkv"))
	assert.False(t, cfg.AllowsFormat(""))
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Configuration{
		SegmentDuration:      0,
		MaxConcurrentUploads: 4,
		UploadQueueSize:      32,
	}
	assert.Error(t, cfg.Validate())

	cfg.SegmentDuration = time.Second
	cfg.MaxConcurrentUploads = 0
	assert.Error(t, cfg.Validate())

	cfg.MaxConcurrentUploads = 4
	cfg.UploadRetries = -1
	assert.Error(t, cfg.Validate())
}
