package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jbellec/veilguard/internal/config"
	"github.com/jbellec/veilguard/internal/history"
	"github.com/jbellec/veilguard/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		outputFile = flag.String("output", "", "Output Parquet file path")
		guardType  = flag.String("guard-type", "", "Only export records for this guard type")
		sinceDays  = flag.Int("since-days", 0, "Only export records from the last N days (0 = all)")
		batchSize  = flag.Int("batch-size", 1000, "Batch size for reading history")
		prune      = flag.Bool("prune", false, "Prune records past retention after exporting")
		showStats  = flag.Bool("stats", false, "Show history statistics and exit")
	)
	flag.Parse()

	if *outputFile == "" && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --output history.parquet\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --output typea.parquet --guard-type TypeA --since-days 30\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.History.Enabled {
		fmt.Fprintln(os.Stderr, "History is disabled in the configuration; nothing to export")
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

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling export...")
		cancel()
	}()

	store, err := history.NewStore(&history.Config{
		Enabled:       true,
		DatabaseURL:   cfg.History.DatabaseURL,
		MaxOpenConns:  cfg.History.MaxOpenConns,
		MaxIdleConns:  cfg.History.MaxIdleConns,
		RetentionDays: cfg.History.RetentionDays,
	}, log.WithComponent("history").Logger)
	if err != nil {
		log.Fatal("Failed to open history store", zap.Error(err))
	}
	defer store.Close()

	if *showStats {
		stats, err := store.GetStats(ctx)
		if err != nil {
			log.Fatal("Failed to read history stats", zap.Error(err))
		}
		fmt.Printf("Requests:          %d\n", stats.TotalRequests)
		fmt.Printf("Masked spans:      %d\n", stats.TotalMaskedSpans)
		fmt.Printf("Prompt tokens:     %d\n", stats.PromptTokens)
		fmt.Printf("Completion tokens: %d\n", stats.CompletionTokens)
		return
	}

	since := time.Time{}
	if *sinceDays > 0 {
		since = time.Now().AddDate(0, 0, -*sinceDays)
	}

	start := time.Now()
	total, err := store.ExportParquet(ctx, *outputFile, history.ExportOptions{
		GuardType: *guardType,
		Since:     since,
		BatchSize: *batchSize,
	})
	if err != nil {
		log.Fatal("Export failed", zap.Error(err))
	}
	log.Info("Export finished",
		zap.String("output", *outputFile),
		zap.Int64("records", total),
		zap.Duration("duration", time.Since(start)))

	if *prune {
		deleted, err := store.Prune(ctx)
		if err != nil {
			log.Fatal("Prune failed", zap.Error(err))
		}
		log.Info("Prune finished", zap.Int64("deleted", deleted))
	}
}
