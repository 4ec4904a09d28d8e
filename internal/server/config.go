// Package server provides configuration helpers that define runtime defaults,
// validation, and environment/file loading for the chat service.
package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuration keys understood by LoadConfig.
const (
	KeyPort                    = "port"
	KeyAllowedOrigins          = "allowed_origins"
	KeyMaxMessageSize          = "max_message_size"
	KeyRateLimitBurst          = "rate_limit.burst"
	KeyRateLimitRefillInterval = "rate_limit.refill_interval"
	KeySendTimeout             = "send_timeout"
	KeyBroadcastScope          = "broadcast_scope"
	KeyDefaultRoomName         = "default_room_name"
	KeyHistoryLimit            = "history_limit"
	KeyDatabasePath            = "database_path"
	KeyDatabaseDebug           = "db_debug"
	KeyStaticDir               = "static_dir"
	KeyShutdownTimeout         = "shutdown_timeout"
)

// envBindings keeps the environment variable names the server has always
// used alongside the newer ones.
var envBindings = map[string]string{
	KeyPort:                    "SERVER_PORT",
	KeyAllowedOrigins:          "ALLOWED_ORIGINS",
	KeyMaxMessageSize:          "MAX_MESSAGE_SIZE",
	KeyRateLimitBurst:          "RATE_LIMIT_BURST",
	KeyRateLimitRefillInterval: "RATE_LIMIT_REFILL_INTERVAL",
	KeySendTimeout:             "SEND_TIMEOUT",
	KeyBroadcastScope:          "BROADCAST_SCOPE",
	KeyDefaultRoomName:         "DEFAULT_ROOM_NAME",
	KeyHistoryLimit:            "HISTORY_LIMIT",
	KeyDatabasePath:            "DATABASE_PATH",
	KeyDatabaseDebug:           "DB_DEBUG",
	KeyStaticDir:               "STATIC_DIR",
	KeyShutdownTimeout:         "SHUTDOWN_TIMEOUT",
}

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	SendTimeout     time.Duration
	BroadcastScope  BroadcastScope
	DefaultRoomName string
	HistoryLimit    int
	DatabasePath    string
	DatabaseDebug   bool
	StaticDir       string
	ShutdownTimeout time.Duration
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		SendTimeout:     2 * time.Second,
		BroadcastScope:  ScopeGlobal,
		DefaultRoomName: "Lobby",
		HistoryLimit:    50,
		StaticDir:       "static",
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// sanitizeConfig replaces unusable values with defaults and normalizes origins.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.BroadcastScope == "" {
		cfg.BroadcastScope = def.BroadcastScope
	}
	if strings.TrimSpace(cfg.DefaultRoomName) == "" {
		cfg.DefaultRoomName = def.DefaultRoomName
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// SetDefaults registers default values and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	def := defaultConfig()
	v.SetDefault(KeyPort, def.Port)
	v.SetDefault(KeyAllowedOrigins, def.AllowedOrigins)
	v.SetDefault(KeyMaxMessageSize, def.MaxMessageSize)
	v.SetDefault(KeyRateLimitBurst, def.RateLimit.Burst)
	v.SetDefault(KeyRateLimitRefillInterval, def.RateLimit.RefillInterval.String())
	v.SetDefault(KeySendTimeout, def.SendTimeout.String())
	v.SetDefault(KeyBroadcastScope, string(def.BroadcastScope))
	v.SetDefault(KeyDefaultRoomName, def.DefaultRoomName)
	v.SetDefault(KeyHistoryLimit, def.HistoryLimit)
	v.SetDefault(KeyDatabasePath, def.DatabasePath)
	v.SetDefault(KeyDatabaseDebug, def.DatabaseDebug)
	v.SetDefault(KeyStaticDir, def.StaticDir)
	v.SetDefault(KeyShutdownTimeout, def.ShutdownTimeout.String())

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
}

// LoadConfig builds a sanitized Config from v. Defaults and environment
// bindings are registered first, so a bare viper.New() yields the defaults.
func LoadConfig(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	def := defaultConfig()

	scope, err := ParseBroadcastScope(strings.ToLower(strings.TrimSpace(v.GetString(KeyBroadcastScope))))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyBroadcastScope, err)
	}

	cfg := Config{
		Port:           v.GetString(KeyPort),
		AllowedOrigins: originsValue(v.Get(KeyAllowedOrigins)),
		MaxMessageSize: parseMaxMessageSize(v.GetString(KeyMaxMessageSize), def.MaxMessageSize),
		RateLimit: RateLimitConfig{
			Burst:          parseIntValue(v.GetString(KeyRateLimitBurst), def.RateLimit.Burst),
			RefillInterval: parseInterval(v.GetString(KeyRateLimitRefillInterval), def.RateLimit.RefillInterval),
		},
		SendTimeout:     parseInterval(v.GetString(KeySendTimeout), def.SendTimeout),
		BroadcastScope:  scope,
		DefaultRoomName: v.GetString(KeyDefaultRoomName),
		HistoryLimit:    parseHistoryLimit(v.GetString(KeyHistoryLimit), def.HistoryLimit),
		DatabasePath:    v.GetString(KeyDatabasePath),
		DatabaseDebug:   v.GetBool(KeyDatabaseDebug),
		StaticDir:       v.GetString(KeyStaticDir),
		ShutdownTimeout: parseInterval(v.GetString(KeyShutdownTimeout), def.ShutdownTimeout),
	}

	sanitized := sanitizeConfig(cfg)
	return &sanitized, nil
}

// NewConfigFromEnv creates a Config from environment variables only.
func NewConfigFromEnv() (*Config, error) {
	return LoadConfig(viper.New())
}

// originsValue accepts either a list (config file) or a comma separated
// string (environment).
func originsValue(raw interface{}) []string {
	switch value := raw.(type) {
	case string:
		return parseOrigins(value)
	case []string:
		return value
	case []interface{}:
		origins := make([]string, 0, len(value))
		for _, item := range value {
			origins = append(origins, strings.TrimSpace(fmt.Sprint(item)))
		}
		return origins
	default:
		return nil
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseHistoryLimit accepts zero, which means the whole transcript.
func parseHistoryLimit(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

// parseInterval accepts whole seconds ("5") or a Go duration ("1500ms").
func parseInterval(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
