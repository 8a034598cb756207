package storage

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visage-pipeline/pkg/errors"
)

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)

	assert.Equal(t, "20260801-093000-final.mp4", ObjectKey("", "/tmp/rec/final.mp4", now))
	assert.Equal(t, "sessions/20260801-093000-final.mp4", ObjectKey("sessions", "/tmp/rec/final.mp4", now))
}

func TestNewS3ArchiverRequiresBucket(t *testing.T) {
	_, err := NewS3Archiver(context.Background(), logrus.New(), S3Config{Region: "us-east-1"})
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrInvalidInput))
}
