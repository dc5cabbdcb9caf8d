package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cryptodefiza-create/content-machine/internal/bot"
	"github.com/cryptodefiza-create/content-machine/internal/cache"
	"github.com/cryptodefiza-create/content-machine/internal/config"
	"github.com/cryptodefiza-create/content-machine/internal/dedupe"
	"github.com/cryptodefiza-create/content-machine/internal/export"
	"github.com/cryptodefiza-create/content-machine/internal/gemini"
	"github.com/cryptodefiza-create/content-machine/internal/llm"
	"github.com/cryptodefiza-create/content-machine/internal/persona"
	"github.com/cryptodefiza-create/content-machine/internal/pipeline"
	"github.com/cryptodefiza-create/content-machine/internal/queue"
	"github.com/cryptodefiza-create/content-machine/internal/scheduler"
	"github.com/cryptodefiza-create/content-machine/internal/scout"
	"github.com/cryptodefiza-create/content-machine/internal/server"
	"github.com/cryptodefiza-create/content-machine/internal/telemetry"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Starting Content Machine...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	configPath := "configs/config.yml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	if cfg.LLM.APIKey == "" || cfg.LLM.APIKey == "YOUR_API_KEY_HERE" {
		logger.Fatal("Gemini API key not configured. Set it in configs/config.yml or via GEMINI_API_KEY")
	}

	// LLM provider
	provider, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:          cfg.LLM.APIKey,
		ModelName:       cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Gemini client", zap.Error(err))
	}
	defer provider.Close()

	// Usage telemetry
	tracker, err := telemetry.NewTracker(cfg.Telemetry.Path)
	if err != nil {
		logger.Fatal("Failed to open telemetry log", zap.Error(err))
	}

	// Response cache
	var responseCache *cache.Cache
	if cfg.Cache.Enabled {
		responseCache = cache.New(time.Duration(cfg.Cache.TTLSeconds)*time.Second, cfg.Cache.MaxEntries)
	}

	// Gateway around the provider
	gateway := llm.NewGateway(provider, responseCache, tracker, llm.Config{
		Window:         time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		MaxCalls:       cfg.RateLimit.MaxCalls,
		MaxWait:        time.Duration(cfg.RateLimit.MaxWaitSeconds) * time.Second,
		MaxRetries:     cfg.RateLimit.MaxRetries,
		Backoff:        time.Duration(cfg.RateLimit.BackoffSeconds) * time.Second,
		PromptRate:     cfg.Costs.PromptPer1KTokens,
		CompletionRate: cfg.Costs.CompletionPer1KTokens,
	}, logger)

	// Personas
	personas, err := persona.LoadStore(cfg.Pipeline.PersonasPath)
	if err != nil {
		logger.Fatal("Failed to load personas", zap.Error(err))
	}
	logger.Info("Personas loaded", zap.Strings("keys", personas.Keys()))

	// Approval queue
	if err := os.MkdirAll(filepath.Dir(cfg.Queue.Path), 0o755); err != nil {
		logger.Fatal("Failed to create data dir", zap.Error(err))
	}
	store, err := queue.Open(cfg.Queue.Path, logger)
	if err != nil {
		logger.Fatal("Failed to open queue store", zap.Error(err))
	}
	defer store.Close()

	// Dedupe index (nil skips the duplicate gate), exporter, feed scanner
	var index *dedupe.Index
	if cfg.Dedupe.Enabled {
		index = dedupe.New(cfg.Dedupe.Threshold, cfg.Dedupe.WindowDays)
	}
	exporter := export.New(export.Options{
		Enabled:       cfg.Exports.Enabled,
		ExportDir:     cfg.Exports.ExportDir,
		MasterCSV:     cfg.Exports.MasterCSV,
		MasterCSVPath: cfg.Exports.MasterCSVPath,
	}, logger)
	scanner := scout.NewScanner(scout.Options{
		Feeds:         cfg.Scout.Feeds,
		Delay:         time.Duration(cfg.Scout.Delay * float64(time.Second)),
		MaxRetries:    cfg.Scout.MaxRetries,
		BackoffFactor: cfg.Scout.BackoffFactor,
		MaxItems:      cfg.Scout.MaxItems,
	}, logger)

	// Pipeline
	pipe, err := pipeline.New(pipeline.Options{
		Gateway:          gateway,
		Dedupe:           index,
		Queue:            store,
		Personas:         personas,
		Logger:           logger,
		MaxRewritePasses: cfg.Pipeline.MaxRewritePasses,
		DryRun:           cfg.Pipeline.DryRun,
	})
	if err != nil {
		logger.Fatal("Failed to build pipeline", zap.Error(err))
	}

	// Telegram bot (nil when disabled)
	reviewBot, err := bot.NewBot(bot.Config{
		Enabled:        cfg.Telegram.Enabled,
		BotToken:       cfg.Telegram.BotToken,
		AllowedChatIDs: cfg.Telegram.AllowedChatIDs,
	}, pipe, store, exporter, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Telegram bot", zap.Error(err))
	}
	go func() {
		if err := reviewBot.Start(ctx); err != nil {
			logger.Error("Telegram bot stopped", zap.Error(err))
		}
	}()

	// Scheduler: scan feeds, run the pipeline, sweep stale queue items
	if cfg.Scheduler.Enabled {
		interval := time.Duration(cfg.Scheduler.IntervalHours) * time.Hour
		sched := scheduler.New(interval, logger)
		sched.Start(ctx, func(ctx context.Context) error {
			if cfg.Queue.ExpirePendingHours > 0 {
				expired, err := store.ExpireOldPending(ctx, time.Duration(cfg.Queue.ExpirePendingHours)*time.Hour)
				if err != nil {
					logger.Error("Failed to expire stale items", zap.Error(err))
				} else if expired > 0 {
					logger.Info("Expired stale queue items", zap.Int64("count", expired))
				}
			}

			topics, err := scanner.Scan(ctx)
			if err != nil {
				return err
			}
			if len(topics) == 0 {
				logger.Info("Scheduled scan found no topics")
				return nil
			}
			_, err = pipe.Run(ctx, topics, nil)
			return err
		})
		defer sched.Stop()
		logger.Info("Scheduler started", zap.Duration("interval", interval))
	}

	// HTTP surface
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	server.NewHandler(pipe, store, exporter, scanner, tracker, logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}
