package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 5000 {
		t.Errorf("expected port 5000, got %d", cfg.Port)
	}
	if cfg.Threshold != 0.5 {
		t.Errorf("expected threshold 0.5, got %v", cfg.Threshold)
	}
	if cfg.ShortSegment != ShortSegmentPad {
		t.Errorf("expected short_segment pad, got %s", cfg.ShortSegment)
	}
}

func TestLoadAppliesDefaultsForInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shotclock.yaml")
	content := `
port: -1
threshold: 3
short_segment: truncate
ffmpeg_path: ""
model_timeout: 5s
model_name: hoops
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 5000 {
		t.Errorf("expected default port, got %d", cfg.Port)
	}
	if cfg.Threshold != DefaultThreshold {
		t.Errorf("expected default threshold, got %v", cfg.Threshold)
	}
	if cfg.ShortSegment != ShortSegmentPad {
		t.Errorf("expected pad, got %s", cfg.ShortSegment)
	}
	if cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("expected ffmpeg, got %s", cfg.FFmpegPath)
	}
	if cfg.ModelTimeout != 5*time.Second {
		t.Errorf("expected 5s model timeout, got %v", cfg.ModelTimeout)
	}
	if cfg.ModelName != "hoops" {
		t.Errorf("expected model name hoops, got %s", cfg.ModelName)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("port: [1, 2"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SHOTCLOCK_PORT", "8088")
	t.Setenv("SHOTCLOCK_MODEL_URL", "http://serving:8501")
	t.Setenv("SHOTCLOCK_SHORT_SEGMENT", "reject")
	t.Setenv("SHOTCLOCK_MODEL_TIMEOUT", "90s")

	cfg := DefaultConfig()
	cfg.StaticDir = "uploads"
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.Port != 8088 {
		t.Errorf("expected port 8088, got %d", cfg.Port)
	}
	if cfg.ModelURL != "http://serving:8501" {
		t.Errorf("unexpected model url %s", cfg.ModelURL)
	}
	if cfg.ShortSegment != ShortSegmentReject {
		t.Errorf("expected reject, got %s", cfg.ShortSegment)
	}
	if cfg.ModelTimeout != 90*time.Second {
		t.Errorf("expected 90s, got %v", cfg.ModelTimeout)
	}
	// Unset variables keep the existing value
	if cfg.StaticDir != "uploads" {
		t.Errorf("expected static dir to stay 'uploads', got %s", cfg.StaticDir)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "shotclock.yaml")

	cfg := DefaultConfig()
	cfg.ShortSegment = ShortSegmentSkip
	cfg.ModelVersion = 3
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ShortSegment != ShortSegmentSkip || loaded.ModelVersion != 3 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Addr(); got != "0.0.0.0:5000" {
		t.Errorf("Addr() = %s", got)
	}
	if got := cfg.ChartPath(); got != filepath.Join("static", "chart.png") {
		t.Errorf("ChartPath() = %s", got)
	}
	if got := cfg.GetHistoryDB("config"); got != filepath.Join("config", "shotclock.db") {
		t.Errorf("GetHistoryDB() = %s", got)
	}
	cfg.HistoryDB = "/data/h.db"
	if got := cfg.GetHistoryDB("config"); got != "/data/h.db" {
		t.Errorf("GetHistoryDB() = %s", got)
	}
}
