package util

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// GracefulShutdown manages graceful shutdown of multiple resources
type GracefulShutdown struct {
	resources []ShutdownResource
	mu        sync.Mutex
	logger    *logrus.Logger
	timeout   time.Duration
}

// ShutdownResource represents a resource that needs graceful shutdown
type ShutdownResource struct {
	Name     string
	Shutdown func(context.Context) error
	Priority int // Lower numbers shut down first
}

// NewGracefulShutdown creates a new graceful shutdown manager
func NewGracefulShutdown(logger *logrus.Logger, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &GracefulShutdown{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a resource to be shut down
func (gs *GracefulShutdown) Register(resource ShutdownResource) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	inserted := false
	for i, r := range gs.resources {
		if resource.Priority < r.Priority {
			gs.resources = append(gs.resources[:i], append([]ShutdownResource{resource}, gs.resources[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		gs.resources = append(gs.resources, resource)
	}

	gs.logger.WithFields(logrus.Fields{
		"resource": resource.Name,
		"priority": resource.Priority,
	}).Debug("Registered resource for graceful shutdown")
}

// Shutdown stops all registered resources in priority order. Resources shut
// down sequentially so a dependent never outlives what it depends on; each
// one is bounded by the shared timeout.
func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	resources := make([]ShutdownResource, len(gs.resources))
	copy(resources, gs.resources)
	gs.mu.Unlock()

	gs.logger.WithField("resource_count", len(resources)).Info("Starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	var errs []error
	for _, resource := range resources {
		gs.logger.WithField("resource", resource.Name).Debug("Shutting down resource")

		done := make(chan error, 1)
		go func(res ShutdownResource) {
			defer func() {
				if r := recover(); r != nil {
					gs.logger.WithFields(logrus.Fields{
						"panic":    r,
						"resource": res.Name,
					}).Error("Panic during resource shutdown")
					done <- fmt.Errorf("panic shutting down %s: %v", res.Name, r)
				}
			}()
			done <- res.Shutdown(shutdownCtx)
		}(resource)

		select {
		case err := <-done:
			if err != nil {
				gs.logger.WithError(err).WithField("resource", resource.Name).Error("Error shutting down resource")
				errs = append(errs, fmt.Errorf("%s: %w", resource.Name, err))
			}
		case <-shutdownCtx.Done():
			gs.logger.WithField("resource", resource.Name).Warn("Shutdown timeout for resource")
			errs = append(errs, fmt.Errorf("%s: shutdown timed out", resource.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("graceful shutdown finished with %d error(s): %v", len(errs), errs)
	}

	gs.logger.Info("Graceful shutdown complete")
	return nil
}
