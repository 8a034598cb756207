package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visage-pipeline/pkg/errors"
)

func writeTempVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment_000.mp4")
	require.NoError(t, os.WriteFile(path, []byte("fake mp4 payload"), 0o644))
	return path
}

func newTestClient(url string, retries int) *Client {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewClient(logger, ClientConfig{
		BaseURL:      url,
		Timeout:      5 * time.Second,
		MaxRetries:   retries,
		RetryBackoff: 10 * time.Millisecond,
	})
}

func sampleResponse() AnalysisResponse {
	return AnalysisResponse{
		Faces: []FaceObservation{
			{
				Face: FaceDetail{
					AgeRange: &AgeRange{Low: 20, High: 30},
					Smile:    &BooleanAttr{Value: true, Confidence: 98.2},
					Emotions: []Emotion{
						{Type: "HAPPY", Confidence: 91.5},
						{Type: "CALM", Confidence: 6.1},
					},
					Pose:       &Pose{Roll: 1.2, Yaw: -3.4, Pitch: 0.5},
					Quality:    &Quality{Brightness: 80.1, Sharpness: 92.3},
					Confidence: 99.9,
				},
				Timestamp: 1200,
			},
		},
		NextToken: "tok-1",
		Status:    "SUCCEEDED",
		VideoMetadata: &VideoMetadata{
			Codec:          "h264",
			ColorRange:     "LIMITED",
			DurationMillis: 5000,
			Format:         "QuickTime / MOV",
			FrameHeight:    1280,
			FrameRate:      29.97,
			FrameWidth:     720,
		},
	}
}

func TestUploadSuccess(t *testing.T) {
	want := sampleResponse()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/upload", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(32<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "segment_000.mp4", header.Filename)
		assert.Equal(t, "video/mp4", header.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(want))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	got, err := client.Upload(context.Background(), writeTempVideo(t))
	require.NoError(t, err)

	assert.Equal(t, &want, got, "decoded response should match field for field")
}

func TestUploadRoundTrip(t *testing.T) {
	want := sampleResponse()

	encoded, err := json.Marshal(want)
	require.NoError(t, err)

	var got AnalysisResponse
	require.NoError(t, json.Unmarshal(encoded, &got))
	assert.Equal(t, want, got)
}

func TestUploadServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	_, err := client.Upload(context.Background(), writeTempVideo(t))
	require.Error(t, err)

	assert.True(t, errors.IsErrorType(err, errors.ErrServerStatus))
	assert.Equal(t, http.StatusInternalServerError, errors.StatusCode(err))
}

func TestUploadRetriesServerErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AnalysisResponse{Status: "SUCCEEDED"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	resp, err := client.Upload(context.Background(), writeTempVideo(t))
	require.NoError(t, err)

	assert.Equal(t, "SUCCEEDED", resp.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestUploadDoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	_, err := client.Upload(context.Background(), writeTempVideo(t))
	require.Error(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "4xx should not be retried")
	assert.Equal(t, http.StatusBadRequest, errors.StatusCode(err))
}

func TestUploadEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 2)
	_, err := client.Upload(context.Background(), writeTempVideo(t))
	require.Error(t, err)

	assert.True(t, errors.IsErrorType(err, errors.ErrEmptyResponse))
}

func TestUploadDecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 2)
	_, err := client.Upload(context.Background(), writeTempVideo(t))
	require.Error(t, err)

	assert.True(t, errors.IsErrorType(err, errors.ErrDecodeFailed))
	assert.False(t, errors.IsErrorType(err, errors.ErrServerStatus),
		"decode failures must be distinct from server errors")
}

func TestUploadMissingFile(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1", 0)
	_, err := client.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	require.Error(t, err)
}

func TestNarrate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gpt", r.URL.Path)

		var req narrativeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "HAPPY, HAPPY, CALM", req.Input)

		json.NewEncoder(w).Encode(narrativeResponse{Response: "A mostly positive session."})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	text, err := client.Narrate(context.Background(), "HAPPY, HAPPY, CALM")
	require.NoError(t, err)
	assert.Equal(t, "A mostly positive session.", text)
}

func TestNarrateEmptyInput(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1", 0)
	_, err := client.Narrate(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrInvalidInput))
}
