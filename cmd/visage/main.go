package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"visage-pipeline/pkg/aggregate"
	"visage-pipeline/pkg/analysis"
	"visage-pipeline/pkg/capture"
	"visage-pipeline/pkg/config"
	http_server "visage-pipeline/pkg/http"
	"visage-pipeline/pkg/messaging"
	"visage-pipeline/pkg/metrics"
	"visage-pipeline/pkg/session"
	"visage-pipeline/pkg/storage"
	"visage-pipeline/pkg/upload"
	"visage-pipeline/pkg/util"
)

var (
	logger      = logrus.New()
	appConfig   *config.Configuration
	analyzer    *analysis.Client
	aggregator  *aggregate.Aggregator
	coordinator *upload.Coordinator
	controller  *session.Controller
	httpServer  *http_server.Server
	wsHub       *http_server.TimelineHub
	amqpClient  *messaging.AMQPClient

	// Context for graceful shutdown
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	// Set up logger with basic configuration (will be updated after config is loaded)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()

	if err := initialize(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}

	var wg sync.WaitGroup

	if appConfig.HTTPEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpServer.Start(rootCtx); err != nil {
				logger.WithError(err).Error("HTTP server exited with error")
				rootCancel()
			}
		}()
		logger.Info("HTTP server started")
	} else {
		logger.Info("HTTP server is disabled by configuration")
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-rootCtx.Done()
		}()
	}

	// Graceful shutdown handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigChan
		logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up...")

		shutdown := util.NewGracefulShutdown(logger, 30*time.Second)

		// Stop accepting work before draining uploads so the final segment
		// still reaches the coordinator.
		shutdown.Register(util.ShutdownResource{
			Name:     "http_server",
			Priority: 10,
			Shutdown: httpServer.Shutdown,
		})
		shutdown.Register(util.ShutdownResource{
			Name:     "session_controller",
			Priority: 20,
			Shutdown: func(ctx context.Context) error {
				return controller.StopRecording()
			},
		})
		shutdown.Register(util.ShutdownResource{
			Name:     "upload_coordinator",
			Priority: 30,
			Shutdown: coordinator.Shutdown,
		})
		if amqpClient != nil {
			shutdown.Register(util.ShutdownResource{
				Name:     "amqp_client",
				Priority: 40,
				Shutdown: func(ctx context.Context) error {
					amqpClient.Disconnect()
					return nil
				},
			})
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := shutdown.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Graceful shutdown finished with errors")
		}

		rootCancel()

		logger.Info("Application shut down gracefully")
		os.Exit(0)
	}()

	wg.Wait()
}

// initialize loads configuration and wires all components
func initialize() error {
	var err error

	appConfig, err = config.LoadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.SetLevel(appConfig.LogLevel)
	logger.WithField("level", logger.GetLevel().String()).Info("Log level set")

	metrics.Init(logger)
	metrics.EnableMetrics(appConfig.HTTPEnableMetrics)
	logger.Info("Metrics system initialized")

	analyzer = analysis.NewClient(logger, analysis.ClientConfig{
		BaseURL:    appConfig.AnalysisURL,
		Timeout:    appConfig.UploadTimeout,
		MaxRetries: appConfig.UploadRetries,
	})

	aggregator = aggregate.NewAggregator(logger)

	// WebSocket hub streams timeline updates to connected report clients
	wsHub = http_server.NewTimelineHub(logger)
	aggregator.AddListener(wsHub)
	go wsHub.Run(rootCtx)

	// AMQP publishing is optional; startup never blocks on a broker
	if appConfig.AMQPUrl != "" && appConfig.AMQPQueueName != "" {
		logger.Info("Initializing AMQP client")
		amqpClient = messaging.NewAMQPClient(logger, messaging.AMQPConfig{
			URL:       appConfig.AMQPUrl,
			QueueName: appConfig.AMQPQueueName,
		})
		if err := amqpClient.Connect(); err != nil {
			logger.WithError(err).Warn("Failed to connect to AMQP server, continuing without AMQP")
		} else {
			aggregator.AddListener(amqpClient)
			logger.Info("AMQP client initialized successfully")
		}
	} else {
		logger.Warn("AMQP not configured, emotion events will not be sent to message queue")
	}

	coordinator = upload.NewCoordinator(logger, analyzer, aggregator, upload.Config{
		TempDir:        appConfig.TempDir,
		Workers:        appConfig.MaxConcurrentUploads,
		QueueSize:      appConfig.UploadQueueSize,
		MaxBytes:       appConfig.MaxUploadBytes,
		AllowedFormats: appConfig.AllowedFormats,
	})
	logger.WithFields(logrus.Fields{
		"workers":    appConfig.MaxConcurrentUploads,
		"queue_size": appConfig.UploadQueueSize,
	}).Info("Upload coordinator started")

	openDevice := func() (capture.Device, error) {
		return capture.Open(logger, capture.DeviceConfig{
			Position: capture.Position(appConfig.CameraPosition),
		})
	}

	controller = session.NewController(logger, openDevice, coordinator, aggregator, analyzer, session.Config{
		SegmentDir:      appConfig.SegmentDir,
		SegmentDuration: appConfig.SegmentDuration,
		SettleDelay:     appConfig.SettleDelay,
	})

	if appConfig.NarrativeEnable {
		controller.SetNarrator(analyzer)
		logger.Info("Narrative summaries enabled")
	}

	if appConfig.S3Enabled {
		archiver, err := storage.NewS3Archiver(rootCtx, logger, storage.S3Config{
			Region: appConfig.S3Region,
			Bucket: appConfig.S3Bucket,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize S3 archiver: %w", err)
		}
		controller.SetArchiver(archiver)
		logger.WithFields(logrus.Fields{
			"bucket": appConfig.S3Bucket,
			"region": appConfig.S3Region,
		}).Info("S3 recording archival enabled")
	}

	httpServer = http_server.NewServer(logger, &http_server.Config{
		Port:          appConfig.HTTPPort,
		EnableMetrics: appConfig.HTTPEnableMetrics,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  30 * time.Second,
	}, controller, wsHub)

	logStartupConfig()

	return nil
}

// logStartupConfig logs the current configuration
func logStartupConfig() {
	logger.Info("Visage pipeline is starting with the following configuration:")

	logger.WithFields(logrus.Fields{
		"camera_position":  appConfig.CameraPosition,
		"segment_duration": appConfig.SegmentDuration,
		"segment_dir":      appConfig.SegmentDir,
	}).Info("Capture configuration")

	logger.WithFields(logrus.Fields{
		"analysis_url":   appConfig.AnalysisURL,
		"upload_timeout": appConfig.UploadTimeout,
		"upload_retries": appConfig.UploadRetries,
		"max_workers":    appConfig.MaxConcurrentUploads,
		"queue_size":     appConfig.UploadQueueSize,
	}).Info("Analysis configuration")

	logger.WithFields(logrus.Fields{
		"http_enabled": appConfig.HTTPEnabled,
		"http_port":    appConfig.HTTPPort,
		"http_metrics": appConfig.HTTPEnableMetrics,
	}).Info("HTTP server configuration")

	logger.WithFields(logrus.Fields{
		"amqp_configured": appConfig.AMQPUrl != "",
		"s3_enabled":      appConfig.S3Enabled,
		"narrative":       appConfig.NarrativeEnable,
	}).Info("Integration configuration")
}
