// Package config provides configuration loading for the pipeline graph service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/layout"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/tracing"
)

// Config holds all configuration for the pipeline graph service.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Store backends
	PipelineStoreType string // "memory" or "redis"
	PositionStoreType string // "memory" or "redis"
	PositionTTL       time.Duration

	// Editor defaults
	HistoryLimit     int
	LayoutAlgorithm  string
	LayoutDirection  string
	LayoutNodeWidth  float64
	LayoutNodeHeight float64
	LayoutRankSep    float64
	LayoutNodeSep    float64

	// CORS configuration
	CORSOrigins []string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Tracing
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
	Environment       string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	defaults := layout.DefaultConfig()
	return &Config{
		// Server
		Port:          getEnv("PORT", "7080"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		// Stores
		PipelineStoreType: getEnv("PIPELINE_STORE", "memory"),
		PositionStoreType: getEnv("POSITION_STORE", "memory"),
		PositionTTL:       getDuration("POSITION_TTL", 30*24*time.Hour), // 30 days

		// Editor
		HistoryLimit:     getInt("HISTORY_LIMIT", 50),
		LayoutAlgorithm:  getEnv("LAYOUT_ALGORITHM", string(defaults.Algorithm)),
		LayoutDirection:  getEnv("LAYOUT_DIRECTION", string(defaults.Direction)),
		LayoutNodeWidth:  getFloat("LAYOUT_NODE_WIDTH", defaults.NodeWidth),
		LayoutNodeHeight: getFloat("LAYOUT_NODE_HEIGHT", defaults.NodeHeight),
		LayoutRankSep:    getFloat("LAYOUT_RANK_SEP", defaults.RankSep),
		LayoutNodeSep:    getFloat("LAYOUT_NODE_SEP", defaults.NodeSep),

		// CORS
		CORSOrigins: getStringSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		// Rate limiting
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 100.0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 200),

		// Tracing
		TracingEnabled:    getBool("TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getFloat("TRACING_SAMPLE_RATE", 1.0),
		Environment:       getEnv("ENVIRONMENT", "development"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// LayoutConfig returns the full-graph layout configuration. Unknown
// algorithm or direction names fall back to the defaults.
func (c *Config) LayoutConfig() layout.Config {
	lc := layout.DefaultConfig()
	switch a := layout.Algorithm(c.LayoutAlgorithm); a {
	case layout.AlgorithmLayered, layout.AlgorithmGrid:
		lc.Algorithm = a
	}
	switch d := layout.RankDir(strings.ToUpper(c.LayoutDirection)); d {
	case layout.RankDirLR, layout.RankDirTB:
		lc.Direction = d
	}
	if c.LayoutNodeWidth > 0 {
		lc.NodeWidth = c.LayoutNodeWidth
	}
	if c.LayoutNodeHeight > 0 {
		lc.NodeHeight = c.LayoutNodeHeight
	}
	if c.LayoutRankSep > 0 {
		lc.RankSep = c.LayoutRankSep
	}
	if c.LayoutNodeSep > 0 {
		lc.NodeSep = c.LayoutNodeSep
	}
	return lc
}

// TracingConfig returns the OpenTelemetry configuration.
func (c *Config) TracingConfig() *tracing.Config {
	tc := tracing.DefaultConfig()
	tc.Enabled = c.TracingEnabled
	tc.OTLPEndpoint = c.OTLPEndpoint
	tc.SampleRate = c.TracingSampleRate
	tc.Environment = c.Environment
	tc.PipelineStore = c.PipelineStoreType
	tc.PositionStore = c.PositionStoreType
	tc.HistoryLimit = c.HistoryLimit
	return tc
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultVal
}
