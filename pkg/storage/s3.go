package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"visage-pipeline/pkg/errors"
)

// S3Config holds archival settings.
type S3Config struct {
	Region string
	Bucket string

	// Prefix is prepended to every object key
	Prefix string
}

// S3Archiver persists final recordings to an S3 bucket after the analysis
// result has landed. Archival is best effort; the pipeline never depends on
// it.
type S3Archiver struct {
	logger *logrus.Logger
	config S3Config
	client *s3.Client
}

// NewS3Archiver builds an archiver using the default AWS credential chain.
func NewS3Archiver(ctx context.Context, logger *logrus.Logger, config S3Config) (*S3Archiver, error) {
	if config.Bucket == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "S3 bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS configuration")
	}

	logger.WithFields(logrus.Fields{
		"bucket": config.Bucket,
		"region": config.Region,
	}).Info("S3 archiver initialized")

	return &S3Archiver{
		logger: logger,
		config: config,
		client: s3.NewFromConfig(awsCfg),
	}, nil
}

// Archive uploads the file at localPath and returns its storage location.
func (a *S3Archiver) Archive(ctx context.Context, localPath string) (string, error) {
	fd, err := os.Open(localPath)
	if err != nil {
		return "", errors.Wrap(err, "failed to open recording for archival", map[string]interface{}{
			"path": localPath,
		})
	}
	defer fd.Close()

	key := ObjectKey(a.config.Prefix, localPath, time.Now().UTC())

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Bucket),
		Key:         aws.String(key),
		Body:        fd,
		ContentType: aws.String("video/mp4"),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to upload recording to S3", map[string]interface{}{
			"bucket": a.config.Bucket,
			"key":    key,
		})
	}

	location := fmt.Sprintf("s3://%s/%s", a.config.Bucket, key)
	a.logger.WithField("location", location).Info("Recording archived")
	return location, nil
}

// ObjectKey builds the timestamped object key for one recording.
func ObjectKey(prefix, localPath string, now time.Time) string {
	name := fmt.Sprintf("%s-%s", now.Format("20060102-150405"), filepath.Base(localPath))
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
