package health

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/logging"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

// StorageChecker checks that the uploads directory is writable.
type StorageChecker interface {
	Check(ctx context.Context, dir string) string
}

// DefaultStorageChecker is the default implementation of StorageChecker.
type DefaultStorageChecker struct{}

// Check writes and removes a probe file in the uploads directory.
func (c *DefaultStorageChecker) Check(ctx context.Context, dir string) string {
	probe := filepath.Join(dir, ".health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		logging.Error(ctx, "Uploads directory is not writable", zap.Error(err), zap.String("dir", dir))
		return "unhealthy"
	}
	if err := os.Remove(probe); err != nil {
		logging.Warn(ctx, "Failed to remove health probe file", zap.Error(err))
	}
	return "healthy"
}

// Handler manages health check endpoints
type Handler struct {
	busService     types.BusService
	uploadsDir     string
	storageChecker StorageChecker
}

// NewHandler creates a new health check handler. busService may be nil in
// single-instance mode.
func NewHandler(busService types.BusService, uploadsDir string) *Handler {
	return &Handler{
		busService:     busService,
		uploadsDir:     uploadsDir,
		storageChecker: &DefaultStorageChecker{},
	}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only if all critical dependencies are healthy
// Returns 503 if any dependency is unhealthy
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	// Check Redis connectivity
	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	// Check uploads directory writability
	storageStatus := h.checkStorage(ctx)
	checks["storage"] = storageStatus
	if storageStatus != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// checkRedis verifies Redis connectivity using PING command
func (h *Handler) checkRedis(ctx context.Context) string {
	// If Redis is not enabled (single-instance mode), consider it healthy
	if h.busService == nil {
		return "healthy"
	}

	if err := h.busService.Ping(ctx); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}

func (h *Handler) checkStorage(ctx context.Context) string {
	if h.storageChecker == nil {
		return "unhealthy"
	}
	return h.storageChecker.Check(ctx, h.uploadsDir)
}
