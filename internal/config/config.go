/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// EventBusBackend selects how status events are fanned out to consumers.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// SuppressionMode controls how the ambient source is muted during playback.
type SuppressionMode string

const (
	SuppressNever       SuppressionMode = "none"
	SuppressAlways      SuppressionMode = "always"
	SuppressWhileActive SuppressionMode = "while-active"
)

// FallbackResumePolicy controls what resuming a paused fallback track does.
type FallbackResumePolicy string

const (
	FallbackResumePosition FallbackResumePolicy = "position"
	FallbackResumeRestart  FallbackResumePolicy = "restart"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string
	InstanceID  string

	DBBackend DatabaseBackend
	DBDSN     string

	MediaRoot    string
	GStreamerBin string
	ThemeFile    string // optional YAML catalog, takes precedence per item

	// Playback behaviour
	MusicEnabled       bool
	SkipFirstSelection bool
	AwaitConfirmation  bool
	RotateOnSelect     bool
	RotateOnEnd        bool
	FadeIn             time.Duration
	FadeOut            time.Duration
	FadeTick           time.Duration
	BaseVolume         float64
	FallbackPath       string
	FallbackResume     FallbackResumePolicy
	Suppression        SuppressionMode

	// Event fan-out configuration
	EventBus      EventBusBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("THEMELINE_ENV", "development"),
		HTTPBind:    getEnv("THEMELINE_HTTP_BIND", "127.0.0.1"),
		HTTPPort:    getEnvInt("THEMELINE_HTTP_PORT", 7878),
		MetricsBind: getEnv("THEMELINE_METRICS_BIND", "127.0.0.1:9600"),
		InstanceID:  getEnv("THEMELINE_INSTANCE_ID", ""),

		DBBackend: DatabaseBackend(getEnv("THEMELINE_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:     getEnv("THEMELINE_DB_DSN", "themeline.db"),

		MediaRoot:    getEnv("THEMELINE_MEDIA_ROOT", "./media"),
		GStreamerBin: getEnv("THEMELINE_GSTREAMER_BIN", "gst-launch-1.0"),
		ThemeFile:    getEnv("THEMELINE_THEME_FILE", ""),

		MusicEnabled:       getEnvBool("THEMELINE_MUSIC_ENABLED", true),
		SkipFirstSelection: getEnvBool("THEMELINE_SKIP_FIRST_SELECTION", false),
		AwaitConfirmation:  getEnvBool("THEMELINE_AWAIT_CONFIRMATION", false),
		RotateOnSelect:     getEnvBool("THEMELINE_ROTATE_ON_SELECT", false),
		RotateOnEnd:        getEnvBool("THEMELINE_ROTATE_ON_END", true),
		FadeIn:             time.Duration(getEnvInt("THEMELINE_FADE_IN_MS", 2000)) * time.Millisecond,
		FadeOut:            time.Duration(getEnvInt("THEMELINE_FADE_OUT_MS", 1200)) * time.Millisecond,
		FadeTick:           time.Duration(getEnvInt("THEMELINE_FADE_TICK_MS", 25)) * time.Millisecond,
		BaseVolume:         getEnvFloat("THEMELINE_BASE_VOLUME", 1.0),
		FallbackPath:       getEnv("THEMELINE_FALLBACK_PATH", ""),
		FallbackResume:     FallbackResumePolicy(getEnv("THEMELINE_FALLBACK_RESUME", string(FallbackResumePosition))),
		Suppression:        SuppressionMode(getEnv("THEMELINE_SUPPRESSION", string(SuppressNever))),

		EventBus:      EventBusBackend(getEnv("THEMELINE_EVENT_BUS", string(EventBusMemory))),
		RedisAddr:     getEnv("THEMELINE_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("THEMELINE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("THEMELINE_REDIS_DB", 0),
		NATSURL:       getEnv("THEMELINE_NATS_URL", "nats://localhost:4222"),

		TracingEnabled:    getEnvBool("THEMELINE_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("THEMELINE_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("THEMELINE_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("THEMELINE_DB_DSN must be provided")
	}

	switch cfg.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return nil, fmt.Errorf("unsupported event bus backend %q", cfg.EventBus)
	}

	switch cfg.Suppression {
	case SuppressNever, SuppressAlways, SuppressWhileActive:
	default:
		return nil, fmt.Errorf("unsupported suppression mode %q", cfg.Suppression)
	}

	switch cfg.FallbackResume {
	case FallbackResumePosition, FallbackResumeRestart:
	default:
		return nil, fmt.Errorf("unsupported fallback resume policy %q", cfg.FallbackResume)
	}

	if cfg.FadeTick <= 0 || cfg.FadeTick > 50*time.Millisecond {
		return nil, fmt.Errorf("THEMELINE_FADE_TICK_MS must be in (0, 50], got %s", cfg.FadeTick)
	}
	if cfg.FadeIn < 0 || cfg.FadeOut < 0 {
		return nil, fmt.Errorf("fade durations must not be negative")
	}
	if cfg.BaseVolume <= 0 || cfg.BaseVolume > 1 {
		return nil, fmt.Errorf("THEMELINE_BASE_VOLUME must be in (0, 1], got %v", cfg.BaseVolume)
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
