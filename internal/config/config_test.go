package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/layout"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "7080" {
		t.Errorf("expected port 7080, got %s", cfg.Port)
	}
	if cfg.PipelineStoreType != "memory" || cfg.PositionStoreType != "memory" {
		t.Errorf("expected memory stores, got %s/%s", cfg.PipelineStoreType, cfg.PositionStoreType)
	}
	if cfg.HistoryLimit != 50 {
		t.Errorf("expected history limit 50, got %d", cfg.HistoryLimit)
	}
	if diff := cmp.Diff(layout.DefaultConfig(), cfg.LayoutConfig()); diff != "" {
		t.Errorf("layout config mismatch (-want +got):\n%s", diff)
	}
	if cfg.TracingConfig().Enabled {
		t.Error("expected tracing disabled by default")
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("PIPELINE_STORE", "redis")
	t.Setenv("POSITION_TTL", "1h")
	t.Setenv("HISTORY_LIMIT", "10")
	t.Setenv("LAYOUT_ALGORITHM", "grid")
	t.Setenv("LAYOUT_DIRECTION", "tb")
	t.Setenv("LAYOUT_NODE_WIDTH", "320")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RATE_LIMIT_RPS", "not-a-number")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_SAMPLE_RATE", "0.25")

	cfg := Load()

	if cfg.Port != "9000" {
		t.Errorf("expected port 9000, got %s", cfg.Port)
	}
	if cfg.PipelineStoreType != "redis" {
		t.Errorf("expected redis pipeline store, got %s", cfg.PipelineStoreType)
	}
	if cfg.PositionTTL != time.Hour {
		t.Errorf("expected TTL 1h, got %v", cfg.PositionTTL)
	}
	if cfg.HistoryLimit != 10 {
		t.Errorf("expected history limit 10, got %d", cfg.HistoryLimit)
	}
	if cfg.RateLimitRPS != 100 {
		t.Errorf("expected fallback RPS 100, got %v", cfg.RateLimitRPS)
	}
	if diff := cmp.Diff([]string{"https://a.example", "https://b.example"}, cfg.CORSOrigins); diff != "" {
		t.Errorf("origins mismatch (-want +got):\n%s", diff)
	}

	lc := cfg.LayoutConfig()
	if lc.Algorithm != layout.AlgorithmGrid || lc.Direction != layout.RankDirTB {
		t.Errorf("expected grid/TB, got %s/%s", lc.Algorithm, lc.Direction)
	}
	if lc.NodeWidth != 320 {
		t.Errorf("expected node width 320, got %v", lc.NodeWidth)
	}

	tc := cfg.TracingConfig()
	if !tc.Enabled || tc.SampleRate != 0.25 {
		t.Errorf("expected tracing enabled at 0.25, got %v at %v", tc.Enabled, tc.SampleRate)
	}
	if tc.PipelineStore != "redis" || tc.PositionStore != "memory" || tc.HistoryLimit != 10 {
		t.Errorf("expected redis/memory/10 on the resource, got %s/%s/%d", tc.PipelineStore, tc.PositionStore, tc.HistoryLimit)
	}
}

func TestLayoutConfig_UnknownValues(t *testing.T) {
	cfg := &Config{LayoutAlgorithm: "force", LayoutDirection: "RL"}
	if diff := cmp.Diff(layout.DefaultConfig(), cfg.LayoutConfig()); diff != "" {
		t.Errorf("expected defaults (-want +got):\n%s", diff)
	}
}
