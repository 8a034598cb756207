package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"visage-pipeline/pkg/errors"
)

const (
	uploadFieldName = "file"
	uploadMIMEType  = "video/mp4"
)

// Analyzer submits a recorded video file for face/emotion analysis.
type Analyzer interface {
	Upload(ctx context.Context, filePath string) (*AnalysisResponse, error)
}

// ClientConfig holds the tunables for the analysis-service client.
type ClientConfig struct {
	// BaseURL is the analysis service root, without trailing slash
	BaseURL string

	// Timeout bounds a single upload attempt end to end
	Timeout time.Duration

	// MaxRetries is the number of additional attempts after the first.
	// Only transport failures and 5xx statuses are retried.
	MaxRetries int

	// RetryBackoff is the pause between attempts
	RetryBackoff time.Duration
}

// Client talks to the remote analysis service.
type Client struct {
	logger *logrus.Logger
	config ClientConfig
	http   *http.Client
}

// NewClient creates an analysis-service client.
func NewClient(logger *logrus.Logger, config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 2 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		logger: logger,
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// Upload submits the file at filePath to the analysis service and decodes
// the response. Retries are bounded and only cover failures where the
// request may not have been processed.
func (c *Client) Upload(ctx context.Context, filePath string) (*AnalysisResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{
				"file":    filePath,
				"attempt": attempt + 1,
				"error":   lastErr,
			}).Warn("Retrying analysis upload")

			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "upload canceled during backoff")
			case <-time.After(c.config.RetryBackoff):
			}
		}

		response, err := c.uploadOnce(ctx, filePath)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

// uploadOnce performs a single multipart POST attempt.
func (c *Client) uploadOnce(ctx context.Context, filePath string) (*AnalysisResponse, error) {
	fd, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open segment file", map[string]interface{}{
			"file": filePath,
		})
	}
	defer fd.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		`form-data; name="`+uploadFieldName+`"; filename="`+filepath.Base(filePath)+`"`)
	header.Set("Content-Type", uploadMIMEType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create multipart body")
	}
	if _, err = io.Copy(part, fd); err != nil {
		return nil, errors.Wrap(err, "failed to copy segment into multipart body")
	}
	if err = writer.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to finalize multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/upload", &body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build upload request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "analysis upload transport failure", map[string]interface{}{
			"file": filePath,
		}).WithCode("TRANSPORT")
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"file":        filePath,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Analysis upload completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.NewServerStatus(resp.StatusCode, map[string]interface{}{
			"file": filePath,
		})
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read analysis response body").WithCode("TRANSPORT")
	}
	if len(raw) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyResponse, "analysis service returned no body", map[string]interface{}{
			"file": filePath,
		}).WithCode("EMPTY_RESPONSE")
	}

	var out AnalysisResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.NewDecodeFailed(err, map[string]interface{}{
			"file": filePath,
		})
	}

	return &out, nil
}

// retryable reports whether a failed attempt is worth repeating.
func retryable(err error) bool {
	if errors.IsErrorType(err, errors.ErrServerStatus) {
		return errors.StatusCode(err) >= 500
	}
	if errors.IsErrorType(err, errors.ErrDecodeFailed) ||
		errors.IsErrorType(err, errors.ErrEmptyResponse) {
		return false
	}
	if errors.IsErrorType(err, context.Canceled) || errors.IsErrorType(err, context.DeadlineExceeded) {
		return false
	}
	return errors.GetErrorCode(err) == "TRANSPORT"
}
