package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/bus"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/config"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/health"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/logging"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/media"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/middleware"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/ratelimit"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/room"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/tracing"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/transport"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/types"
)

const serviceName = "watchroom-backend"

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing Initialization (Optional) ---
	if cfg.OtelEnabled {
		tp, err := tracing.InitTracer(context.Background(), serviceName, cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			slog.Info("✅ Tracing initialized", "collector", cfg.OtelCollectorAddr)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(ctx); err != nil {
					slog.Error("Failed to shut down tracer provider", "error", err)
				}
			}()
		}
	}

	// --- Redis Bus Initialization (Optional) ---
	// Initialize Redis for distributed pub/sub if enabled
	var busService *bus.Service
	if cfg.RedisEnabled {
		var err error
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running in single-instance mode", "error", err)
			busService = nil // Fallback to single-instance mode
		} else {
			slog.Info("✅ Redis pub/sub initialized for distributed messaging", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	// --- Rate Limiter ---
	rateLimiter, err := ratelimit.New(cfg, busService.Client())
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Media Store ---
	mediaStore, err := media.NewStore(cfg.UploadsDir, cfg.MaxUploadBytes)
	if err != nil {
		slog.Error("Failed to initialize media store", "error", err)
		os.Exit(1)
	}
	mediaHandler := media.NewHandler(mediaStore)

	// --- Hub with Dependencies ---
	allowedOrigins := splitOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"})

	var busSvc types.BusService
	if busService != nil {
		busSvc = busService
	}

	hub := transport.NewHub(room.Options{
		ChatHistoryCap:     cfg.ChatHistoryCap,
		RoomStateChatSlice: cfg.RoomStateChatSlice,
	}, busSvc, rateLimiter, allowedOrigins)

	// --- Set up Server ---
	router := gin.Default()
	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Range", middleware.HeaderXCorrelationID)
	corsConfig.ExposeHeaders = []string{"Content-Length", "Content-Range", "Accept-Ranges"}
	router.Use(cors.New(corsConfig))

	// Error handling
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OtelEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}

	// Routing
	router.GET("/ws", hub.ServeWs)

	api := router.Group("/api")
	{
		api.POST("/upload", rateLimiter.UploadMiddleware(), mediaHandler.Upload)
		api.GET("/video/:storageKey", mediaHandler.Stream)
		api.OPTIONS("/video/:storageKey", mediaHandler.StreamOptions)
		api.GET("/room/:roomCode", hub.RoomInfo)

		admin := api.Group("/admin")
		{
			admin.GET("/storage", mediaHandler.ListStorage)
			admin.DELETE("/cleanup", mediaHandler.Cleanup)
			admin.DELETE("/cleanup-all", mediaHandler.CleanupAll)
		}
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(busSvc, cfg.UploadsDir)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context is used to inform the server it has 30 seconds to finish
	// the requests it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close all active rooms and WebSocket connections gracefully
	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Close Redis connection if it was initialized
	if busService != nil {
		if err := busService.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}

// splitOrigins parses the comma-separated ALLOWED_ORIGINS value, falling back
// to defaults when unset.
func splitOrigins(raw string, defaults []string) []string {
	if strings.TrimSpace(raw) == "" {
		return defaults
	}

	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return defaults
	}
	return origins
}
