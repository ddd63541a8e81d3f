package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jbellec/veilguard/internal/cache"
	"github.com/jbellec/veilguard/internal/config"
	"github.com/jbellec/veilguard/internal/guard"
	"github.com/jbellec/veilguard/internal/history"
	"github.com/jbellec/veilguard/internal/llm"
	"github.com/jbellec/veilguard/internal/logger"
	"github.com/jbellec/veilguard/internal/profile"
	"github.com/jbellec/veilguard/internal/recognizer"
	"github.com/jbellec/veilguard/internal/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("veilguard %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// Perform health check and exit
	if *healthCheck {
		performHealthCheck()
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting veilguard",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Profile store
	store, err := buildProfileStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize profile store", zap.Error(err))
	}
	defer store.Close()

	// Entity recognizer, optionally behind the Redis span cache
	var nerClient recognizer.Client = recognizer.NewHTTPClient(recognizer.Config{
		URL:     cfg.Recognizer.URL,
		Timeout: cfg.Recognizer.Timeout,
	}, log.WithComponent("recognizer").Logger)

	if cfg.Cache.Enabled {
		spanCache, err := cache.NewSpanCache(&cache.Config{
			Enabled:        true,
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.WithComponent("cache").Logger)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer spanCache.Close()
		nerClient = cache.NewCachedRecognizer(nerClient, spanCache)
	}

	// Language model
	var model guard.LanguageModel
	if cfg.LLM.Enabled {
		model = llm.NewChatClient(llm.Config{
			Enabled:   true,
			BaseURL:   cfg.LLM.BaseURL,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
			Timeout:   cfg.LLM.Timeout,
		}, log.WithComponent("llm").Logger)
	} else {
		log.Info("LLM disabled, finalize will echo masked text")
		model = llm.NewEchoClient()
	}

	// History store
	var recorder history.Recorder = history.NopRecorder{}
	var reader server.HistoryReader
	if cfg.History.Enabled {
		historyStore, err := history.NewStore(&history.Config{
			Enabled:      true,
			DatabaseURL:  cfg.History.DatabaseURL,
			MaxOpenConns: cfg.History.MaxOpenConns,
			MaxIdleConns: cfg.History.MaxIdleConns,
		}, log.WithComponent("history").Logger)
		if err != nil {
			log.Fatal("Failed to initialize history store", zap.Error(err))
		}
		defer historyStore.Close()
		recorder = historyStore
		reader = historyStore
	}

	// Core masking service
	tokenizer := guard.NewTokenizer(cfg.Guard.TokenKey, log.WithComponent("tokenizer").Logger,
		guard.WithMaxMintAttempts(cfg.Guard.MaxMintAttempts))
	entity := guard.NewEntityDetector(nerClient, log.WithComponent("detector").Logger)
	service := guard.NewService(store, entity, model, tokenizer, log.WithComponent("guard").Logger)

	// API server
	srv := server.New(cfg, log, service, store, recorder, reader)

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// buildProfileStore selects the configured backing for guard profiles.
func buildProfileStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (profile.Store, error) {
	switch cfg.Guard.Store.Backend {
	case "postgres":
		return profile.NewPostgresStore(&profile.PostgresConfig{
			DatabaseURL:  cfg.Guard.Store.DatabaseURL,
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		}, log.Logger)
	default:
		store, err := profile.NewFileStore(cfg.Guard.Store.ProfilePath, log.Logger)
		if err != nil {
			return nil, err
		}
		if cfg.Guard.Store.WatchFile {
			if err := store.Watch(ctx); err != nil {
				return nil, err
			}
		}
		return store, nil
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck() {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://localhost:8080/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
