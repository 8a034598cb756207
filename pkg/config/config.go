package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Configuration defines the structure for storing application configuration
type Configuration struct {
	// Capture configuration
	CameraPosition  string
	SegmentDuration time.Duration
	SegmentDir      string
	SettleDelay     time.Duration

	// Analysis service configuration
	AnalysisURL     string
	UploadTimeout   time.Duration
	UploadRetries   int
	MaxUploadBytes  int64
	AllowedFormats  []string
	NarrativeEnable bool

	// Upload coordinator configuration
	MaxConcurrentUploads int
	UploadQueueSize      int
	TempDir              string

	// HTTP server configuration
	HTTPPort          int
	HTTPEnabled       bool
	HTTPEnableMetrics bool

	// AMQP configuration
	AMQPUrl       string
	AMQPQueueName string

	// S3 archival configuration
	S3Enabled bool
	S3Region  string
	S3Bucket  string

	// Logging
	LogLevel logrus.Level
}

// LoadConfig loads the application configuration from environment variables
func LoadConfig(logger *logrus.Logger) (*Configuration, error) {
	// Load environment variables; a missing .env file is not fatal
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, relying on process environment")
	}

	config := &Configuration{}

	config.CameraPosition = os.Getenv("CAMERA_POSITION")
	if config.CameraPosition == "" {
		config.CameraPosition = "front"
	}

	config.SegmentDuration = getDurationEnv(logger, "SEGMENT_DURATION", 5*time.Second)
	config.SettleDelay = getDurationEnv(logger, "SEGMENT_SETTLE_DELAY", 100*time.Millisecond)

	config.SegmentDir = os.Getenv("SEGMENT_DIR")
	if config.SegmentDir == "" {
		config.SegmentDir = filepath.Join(os.TempDir(), "visage-segments")
	}
	if err := os.MkdirAll(config.SegmentDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}

	config.TempDir = os.Getenv("UPLOAD_TEMP_DIR")
	if config.TempDir == "" {
		config.TempDir = filepath.Join(os.TempDir(), "visage-uploads")
	}
	if err := os.MkdirAll(config.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload temp directory: %w", err)
	}

	config.AnalysisURL = os.Getenv("ANALYSIS_URL")
	if config.AnalysisURL == "" {
		return nil, fmt.Errorf("ANALYSIS_URL is required")
	}
	config.AnalysisURL = strings.TrimRight(config.AnalysisURL, "/")

	config.UploadTimeout = getDurationEnv(logger, "UPLOAD_TIMEOUT", 60*time.Second)
	config.UploadRetries = getIntEnv(logger, "UPLOAD_RETRIES", 2)
	config.MaxUploadBytes = int64(getIntEnv(logger, "MAX_UPLOAD_MB", 100)) * 1024 * 1024

	formatsEnv := os.Getenv("ALLOWED_FORMATS")
	if formatsEnv == "" {
		config.AllowedFormats = []string{"mp4", "mov", "avi"}
	} else {
		config.AllowedFormats = strings.Split(formatsEnv, ",")
	}

	config.NarrativeEnable = os.Getenv("NARRATIVE_ENABLED") == "true"

	config.MaxConcurrentUploads = getIntEnv(logger, "MAX_CONCURRENT_UPLOADS", 4)
	config.UploadQueueSize = getIntEnv(logger, "UPLOAD_QUEUE_SIZE", 32)

	config.HTTPEnabled = os.Getenv("HTTP_ENABLED") != "false"
	config.HTTPPort = getIntEnv(logger, "HTTP_PORT", 8085)
	config.HTTPEnableMetrics = os.Getenv("HTTP_ENABLE_METRICS") != "false"

	config.AMQPUrl = os.Getenv("AMQP_URL")
	config.AMQPQueueName = os.Getenv("AMQP_QUEUE_NAME")

	config.S3Enabled = os.Getenv("S3_ARCHIVE_ENABLED") == "true"
	config.S3Region = os.Getenv("S3_REGION")
	if config.S3Region == "" {
		config.S3Region = "us-east-1"
	}
	config.S3Bucket = os.Getenv("S3_BUCKET")
	if config.S3Enabled && config.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required when S3_ARCHIVE_ENABLED is true")
	}

	logLevelEnv := os.Getenv("LOG_LEVEL")
	level, err := logrus.ParseLevel(logLevelEnv)
	if err != nil {
		level = logrus.InfoLevel
		if logLevelEnv != "" {
			logger.WithField("log_level", logLevelEnv).Warn("Invalid LOG_LEVEL, defaulting to info")
		}
	}
	config.LogLevel = level

	return config, nil
}

// Validate checks configuration invariants beyond what loading enforces
func (c *Configuration) Validate() error {
	if c.SegmentDuration <= 0 {
		return fmt.Errorf("segment duration must be positive, got %v", c.SegmentDuration)
	}
	if c.MaxConcurrentUploads <= 0 {
		return fmt.Errorf("max concurrent uploads must be positive, got %d", c.MaxConcurrentUploads)
	}
	if c.UploadQueueSize <= 0 {
		return fmt.Errorf("upload queue size must be positive, got %d", c.UploadQueueSize)
	}
	if c.UploadRetries < 0 {
		return fmt.Errorf("upload retries must not be negative, got %d", c.UploadRetries)
	}
	return nil
}

// AllowsFormat reports whether the given file extension (without dot) is uploadable
func (c *Configuration) AllowsFormat(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range c.AllowedFormats {
		if strings.EqualFold(strings.TrimSpace(allowed), ext) {
			return true
		}
	}
	return false
}

func getIntEnv(logger *logrus.Logger, key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"key":   key,
			"value": raw,
		}).Warn("Invalid integer environment value, using default")
		return defaultValue
	}
	return value
}

func getDurationEnv(logger *logrus.Logger, key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"key":   key,
			"value": raw,
		}).Warn("Invalid duration environment value, using default")
		return defaultValue
	}
	return value
}
