package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"visage-pipeline/pkg/analysis"
	"visage-pipeline/pkg/metrics"
	"visage-pipeline/pkg/session"
)

// Config holds HTTP server settings.
type Config struct {
	Port          int
	EnableMetrics bool
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// DefaultConfig returns sensible server defaults
func DefaultConfig() *Config {
	return &Config{
		Port:          8085,
		EnableMetrics: true,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  30 * time.Second,
	}
}

// Server exposes the session's read-only state and control surface to the
// report/UI collaborators.
type Server struct {
	config     *Config
	logger     *logrus.Logger
	controller *session.Controller
	hub        *TimelineHub
	httpServer *http.Server
	mux        *http.ServeMux
	startTime  time.Time
}

// NewServer creates the HTTP server around a session controller.
func NewServer(logger *logrus.Logger, config *Config, controller *session.Controller, hub *TimelineHub) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	server := &Server{
		config:     config,
		logger:     logger,
		controller: controller,
		hub:        hub,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	server.mux = mux

	mux.HandleFunc("/health", server.HealthHandler)
	mux.HandleFunc("/api/session", server.SessionHandler)
	mux.HandleFunc("/api/session/start", server.StartHandler)
	mux.HandleFunc("/api/session/stop", server.StopHandler)
	mux.HandleFunc("/api/timeline", server.TimelineHandler)
	mux.HandleFunc("/api/faces", server.FacesHandler)
	mux.HandleFunc("/api/metadata", server.MetadataHandler)
	mux.HandleFunc("/api/narrative", server.NarrativeHandler)

	if hub != nil {
		mux.HandleFunc("/ws/timeline", hub.ServeWs)
	}

	if config.EnableMetrics {
		mux.Handle("/metrics", metrics.Handler())
		logger.Info("Prometheus metrics endpoint enabled at /metrics")
	}

	return server
}

// Start runs the HTTP server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.WithField("port", s.config.Port).Info("HTTP server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying mux, used by tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// HealthHandler reports liveness and basic session stats.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"is_recording":   s.controller.IsRecording(),
	})
}

// SessionHandler returns the controller's current state.
func (s *Server) SessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":         string(s.controller.SessionState()),
		"is_recording":  s.controller.IsRecording(),
		"session_id":    s.controller.SessionID().String(),
		"segment_index": s.controller.SegmentIndex(),
	})
}

// StartHandler begins a recording session.
func (s *Server) StartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	if err := s.controller.StartRecording(); err != nil {
		s.logger.WithError(err).Error("Failed to start recording session")
		s.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":      string(s.controller.SessionState()),
		"session_id": s.controller.SessionID().String(),
	})
}

// StopHandler ends the active recording session.
func (s *Server) StopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	if err := s.controller.StopRecording(); err != nil {
		s.logger.WithError(err).Error("Failed to stop recording session")
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"state": string(s.controller.SessionState()),
	})
}

// TimelineHandler returns the emotion timeline in segment order.
func (s *Server) TimelineHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	timeline := s.controller.DominantEmotions()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"dominant_emotions": timeline,
		"count":             len(timeline),
	})
}

// FacesHandler returns the latest face snapshot.
func (s *Server) FacesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	faces := s.controller.DetectedFaces()
	if faces == nil {
		faces = []analysis.FaceObservation{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"faces": faces,
		"count": len(faces),
	})
}

// MetadataHandler returns the latest stream metadata snapshot.
func (s *Server) MetadataHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	metadata := s.controller.VideoMetadata()
	if metadata == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": "no video metadata available",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, metadata)
}

// NarrativeHandler returns report prose for the session's timeline.
func (s *Server) NarrativeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	text, err := s.controller.Narrative(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"narrative": text,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response body")
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"error": "method not allowed",
	})
}
