package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	shotclock "github.com/gwlsn/shotclock"
	"github.com/gwlsn/shotclock/internal/analysis"
	"github.com/gwlsn/shotclock/internal/api"
	"github.com/gwlsn/shotclock/internal/config"
	"github.com/gwlsn/shotclock/internal/ffmpeg"
	"github.com/gwlsn/shotclock/internal/ffmpeg/clip"
	"github.com/gwlsn/shotclock/internal/logger"
	"github.com/gwlsn/shotclock/internal/model"
	"github.com/gwlsn/shotclock/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./config/shotclock.yaml)")
	port := flag.Int("port", 0, "Override port from config")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			cfgPath = envPath
		} else {
			cfgPath = "config/shotclock.yaml"
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		// Initialize logger with default level for this warning
		logger.Init("info")
		logger.Warn("Could not load config", "path", cfgPath, "error", err)
		cfg = config.DefaultConfig()
	}

	if err := cfg.ApplyEnv(); err != nil {
		logger.Init("info")
		logger.Error("Invalid environment", "error", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)

	configDir := filepath.Dir(cfgPath)
	if configDir == "." {
		configDir = "config"
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.Warn("Could not create config directory", "error", err)
	}
	if err := os.MkdirAll(cfg.StaticDir, 0755); err != nil {
		logger.Error("Could not create static directory", "path", cfg.StaticDir, "error", err)
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// The model is loaded once and shared by every request
	m, err := model.Load(startCtx, model.Options{
		BaseURL: cfg.ModelURL,
		Name:    cfg.ModelName,
		Version: cfg.ModelVersion,
		Timeout: cfg.ModelTimeout,
	})
	if err != nil {
		logger.Error("Failed to load model", "url", cfg.ModelURL, "name", cfg.ModelName, "error", err)
		os.Exit(1)
	}

	history, err := store.InitStore(startCtx, cfg.DatabaseURL, cfg.GetHistoryDB(configDir))
	if err != nil {
		logger.Error("Failed to initialize history store", "error", err)
		os.Exit(1)
	}
	defer history.Close()

	historyDesc := "postgres"
	if sqlite, ok := history.(*store.SQLiteStore); ok {
		historyDesc = sqlite.Path()
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                         SHOTCLOCK                         ║")
	fmt.Println("║            Made-shot detection for game video             ║")
	versionLine := fmt.Sprintf("v%s", shotclock.Version)
	padding := 59 - len(versionLine)
	fmt.Printf("║%*s%s%*s║\n", padding/2, "", versionLine, (padding+1)/2, "")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Config:       %s\n", cfgPath)
	fmt.Printf("  Static dir:   %s\n", cfg.StaticDir)
	fmt.Printf("  History:      %s\n", historyDesc)
	fmt.Printf("  Model:        %s v%d (%s)\n", m.Name(), m.Version(), cfg.ModelURL)
	fmt.Printf("  Threshold:    %.2f\n", cfg.Threshold)
	fmt.Printf("  Short clips:  %s\n", cfg.ShortSegment)
	fmt.Printf("  FFmpeg:       %s\n", cfg.FFmpegPath)
	fmt.Printf("  FFprobe:      %s\n", cfg.FFprobePath)
	fmt.Println()

	prober := ffmpeg.NewProber(cfg.FFprobePath)
	sampler := clip.NewSampler(cfg.FFmpegPath, clip.ParsePolicy(cfg.ShortSegment))
	pipeline := analysis.NewPipeline(prober, sampler, m, cfg.Threshold)

	handler, err := api.NewHandler(pipeline, m, history, cfg, shotclock.WebFS)
	if err != nil {
		logger.Error("Failed to create handler", "error", err)
		history.Close()
		os.Exit(1) //nolint:gocritic // store closed explicitly above
	}
	router := api.NewRouter(handler)

	fmt.Printf("  Starting server on %s\n", cfg.Addr())
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	fmt.Println("─────────────────────────────────────────────────────────────")
	fmt.Printf("  Logging started (level: %s)\n", cfg.LogLevel)
	fmt.Println("─────────────────────────────────────────────────────────────")
	logger.Info("Shotclock started", "version", shotclock.Version, "model", m.Name(), "model_version", m.Version(), "addr", cfg.Addr())

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	idle := make(chan struct{})
	go func() {
		defer close(idle)
		<-sigChan
		fmt.Println("\n  Shutting down...")
		logger.Info("Shutdown signal received")

		// Let an in-flight analysis finish before closing
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ModelTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("Graceful shutdown timed out", "error", err)
			server.Close()
		}
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		history.Close()
		os.Exit(1)
	}
	<-idle

	logger.Info("Server stopped")
	fmt.Println("  Goodbye!")
}
