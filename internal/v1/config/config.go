package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Defaults for optional variables.
const (
	DefaultPort               = "3000"
	DefaultUploadsDir         = "./uploads"
	DefaultMaxUploadBytes     = int64(2) << 30 // 2 GiB
	DefaultChatHistoryCap     = 100
	DefaultRoomStateChatSlice = 50
)

// Config holds validated environment configuration
type Config struct {
	Port string

	// Media store
	UploadsDir     string
	MaxUploadBytes int64

	// Room coordination
	ChatHistoryCap     int
	RoomStateChatSlice int

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Redis bus (optional, multi-instance fan-out)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Tracing (optional)
	OtelEnabled       bool
	OtelCollectorAddr string

	// Rate limits (ulule/limiter formatted, M = minute, H = hour)
	RateLimitWsIP     string
	RateLimitChatUser string
	RateLimitUploadIP string
}

// ValidateEnv validates all environment variables and returns a Config object.
// Returns an error if any variable is present but invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// PORT (defaults to 3000)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// UPLOADS_DIR (created on startup by the media store)
	cfg.UploadsDir = getEnvOrDefault("UPLOADS_DIR", DefaultUploadsDir)

	// MAX_UPLOAD_BYTES
	cfg.MaxUploadBytes = DefaultMaxUploadBytes
	if raw := os.Getenv("MAX_UPLOAD_BYTES"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Sprintf("MAX_UPLOAD_BYTES must be a positive integer (got '%s')", raw))
		} else {
			cfg.MaxUploadBytes = n
		}
	}

	// CHAT_HISTORY_CAP
	cfg.ChatHistoryCap = DefaultChatHistoryCap
	if raw := os.Getenv("CHAT_HISTORY_CAP"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Sprintf("CHAT_HISTORY_CAP must be a positive integer (got '%s')", raw))
		} else {
			cfg.ChatHistoryCap = n
		}
	}

	// ROOM_STATE_CHAT_SLICE (cannot exceed the history cap)
	cfg.RoomStateChatSlice = DefaultRoomStateChatSlice
	if raw := os.Getenv("ROOM_STATE_CHAT_SLICE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Sprintf("ROOM_STATE_CHAT_SLICE must be a positive integer (got '%s')", raw))
		} else {
			cfg.RoomStateChatSlice = n
		}
	}
	if cfg.RoomStateChatSlice > cfg.ChatHistoryCap {
		cfg.RoomStateChatSlice = cfg.ChatHistoryCap
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: OTEL tracing
	cfg.OtelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	if cfg.OtelEnabled {
		cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
		if cfg.OtelCollectorAddr == "" {
			cfg.OtelCollectorAddr = "localhost:4317"
		} else if !isValidHostPort(cfg.OtelCollectorAddr) {
			errs = append(errs, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OtelCollectorAddr))
		}
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Rate limits
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitChatUser = getEnvOrDefault("RATE_LIMIT_CHAT_USER", "500-M")
	cfg.RateLimitUploadIP = getEnvOrDefault("RATE_LIMIT_UPLOAD_IP", "20-H")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"uploads_dir", cfg.UploadsDir,
		"max_upload_bytes", cfg.MaxUploadBytes,
		"chat_history_cap", cfg.ChatHistoryCap,
		"room_state_chat_slice", cfg.RoomStateChatSlice,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"otel_enabled", cfg.OtelEnabled,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
