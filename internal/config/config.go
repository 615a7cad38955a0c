package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Short segment policies. See clip.Policy for the behavior of each.
const (
	ShortSegmentPad    = "pad"
	ShortSegmentSkip   = "skip"
	ShortSegmentReject = "reject"
)

// DefaultThreshold is the score a segment must exceed to count as a made shot.
const DefaultThreshold = 0.5

type Config struct {
	// Host and Port are the HTTP bind address
	Host string `yaml:"host" env:"SHOTCLOCK_HOST"`
	Port int    `yaml:"port" env:"SHOTCLOCK_PORT"`

	// StaticDir receives uploaded videos and the rendered chart
	StaticDir string `yaml:"static_dir" env:"SHOTCLOCK_STATIC_DIR"`

	// ChartFile is the chart image name inside StaticDir, overwritten per request
	ChartFile string `yaml:"chart_file" env:"SHOTCLOCK_CHART_FILE"`

	// FFmpegPath is the path to ffmpeg binary (default: "ffmpeg")
	FFmpegPath string `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`

	// FFprobePath is the path to ffprobe binary (default: "ffprobe")
	FFprobePath string `yaml:"ffprobe_path" env:"FFPROBE_PATH"`

	// ModelURL is the TensorFlow Serving REST endpoint, e.g. http://localhost:8501
	ModelURL string `yaml:"model_url" env:"SHOTCLOCK_MODEL_URL"`

	// ModelName is the served model name
	ModelName string `yaml:"model_name" env:"SHOTCLOCK_MODEL_NAME"`

	// ModelVersion pins a model version; 0 uses the latest the server exposes
	ModelVersion int `yaml:"model_version" env:"SHOTCLOCK_MODEL_VERSION"`

	// ModelTimeout bounds a single predict call
	ModelTimeout time.Duration `yaml:"model_timeout" env:"SHOTCLOCK_MODEL_TIMEOUT"`

	// Threshold is the made-shot cutoff; scores strictly above it are positive
	Threshold float64 `yaml:"threshold" env:"SHOTCLOCK_THRESHOLD"`

	// ShortSegment decides what happens to segments with fewer than 20 frames:
	// "pad", "skip" or "reject"
	ShortSegment string `yaml:"short_segment" env:"SHOTCLOCK_SHORT_SEGMENT"`

	// MaxUploadSize caps the multipart body in bytes
	MaxUploadSize int64 `yaml:"max_upload_size" env:"SHOTCLOCK_MAX_UPLOAD_SIZE"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	// LogFormat is one of text, json, color; empty picks color on a terminal
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	// HistoryDB is the SQLite file for analysis history (default: config dir + shotclock.db)
	HistoryDB string `yaml:"history_db" env:"SHOTCLOCK_HISTORY_DB"`

	// DatabaseURL selects the Postgres history store instead of SQLite when set
	DatabaseURL string `yaml:"database_url" env:"SHOTCLOCK_DATABASE_URL"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:          "0.0.0.0",
		Port:          5000,
		StaticDir:     "static",
		ChartFile:     "chart.png",
		FFmpegPath:    "ffmpeg",
		FFprobePath:   "ffprobe",
		ModelURL:      "http://localhost:8501",
		ModelName:     "shotclock",
		ModelTimeout:  60 * time.Second,
		Threshold:     DefaultThreshold,
		ShortSegment:  ShortSegmentPad,
		MaxUploadSize: 512 << 20,
		LogLevel:      "info",
	}
}

// Load reads config from a YAML file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file - use defaults
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables that are set.
// Unset variables leave the current value in place.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.FFmpegPath == "" {
		c.FFmpegPath = def.FFmpegPath
	}
	if c.FFprobePath == "" {
		c.FFprobePath = def.FFprobePath
	}
	if c.StaticDir == "" {
		c.StaticDir = def.StaticDir
	}
	if c.ChartFile == "" {
		c.ChartFile = def.ChartFile
	}
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = def.Port
	}
	if c.ModelName == "" {
		c.ModelName = def.ModelName
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = def.ModelTimeout
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		c.Threshold = DefaultThreshold
	}
	if !IsValidShortSegment(c.ShortSegment) {
		c.ShortSegment = ShortSegmentPad
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = def.MaxUploadSize
	}
	if c.ModelVersion < 0 {
		c.ModelVersion = 0
	}
}

// IsValidShortSegment returns true if the policy name is known.
func IsValidShortSegment(policy string) bool {
	switch policy {
	case ShortSegmentPad, ShortSegmentSkip, ShortSegmentReject:
		return true
	}
	return false
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Addr returns the host:port the server binds to
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ChartPath returns the on-disk location of the chart image
func (c *Config) ChartPath() string {
	return filepath.Join(c.StaticDir, c.ChartFile)
}

// GetHistoryDB returns the SQLite path, defaulting to configDir/shotclock.db
func (c *Config) GetHistoryDB(configDir string) string {
	if c.HistoryDB != "" {
		return c.HistoryDB
	}
	return filepath.Join(configDir, "shotclock.db")
}
