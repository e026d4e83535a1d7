package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/healthbridge/translator/backend/internal/config"
	"github.com/healthbridge/translator/backend/internal/handler"
	"github.com/healthbridge/translator/backend/internal/model/language"
	"github.com/healthbridge/translator/backend/internal/relay"
	"github.com/healthbridge/translator/backend/internal/service/audio"
	"github.com/healthbridge/translator/backend/internal/service/conversation"
	"github.com/healthbridge/translator/backend/internal/service/summary"
	"github.com/healthbridge/translator/backend/internal/service/translation"
	"github.com/healthbridge/translator/backend/internal/storage"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadEnvironment()
	if err != nil {
		return err
	}

	logger, err := setupLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close storage", zap.Error(err))
		}
	}()

	languages, err := setupLanguages(ctx, cfg.Languages, logger)
	if err != nil {
		return err
	}

	chatModel := setupChatModel(ctx, cfg.AI, logger)

	var translationModel model.BaseChatModel
	if cfg.AI.TranslationEnabled {
		translationModel = chatModel
	}
	translator, err := translation.NewService(ctx, translationModel, languages, logger.Named("translation"))
	if err != nil {
		return err
	}

	summarizer, err := summary.NewService(ctx, chatModel, summary.Config{Enabled: cfg.AI.SummaryEnabled}, logger.Named("summary"))
	if err != nil {
		return err
	}
	if summarizer.Enabled() {
		logger.Info("summary model enabled")
	} else {
		logger.Info("summary model unavailable, using clinical heuristics")
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	relayMetrics := relay.NewMetrics(promReg)
	registry := relay.NewRegistry(logger.Named("relay"), relayMetrics)

	conversations := conversation.NewService(store, languages, translator, summarizer, registry, logger.Named("conversation"))

	audioSvc, err := audio.NewService(audio.Config{
		Dir:       cfg.Audio.UploadDir,
		MaxBytes:  cfg.Audio.MaxUploadBytes,
		Retention: cfg.Audio.Retention,
	}, logger.Named("audio"))
	if err != nil {
		return err
	}
	if cfg.Audio.Retention > 0 {
		scheduler, err := audio.NewCleanupScheduler(audioSvc, cfg.Audio.CleanupSchedule, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	router := handler.NewRouter(handler.Dependencies{
		Languages:     languages,
		Conversations: conversations,
		Audio:         audioSvc,
		Registry:      registry,
		RelayMetrics:  relayMetrics,
		SocketOptions: relay.SocketOptions{
			PongWait:     cfg.Relay.PongWait,
			WriteTimeout: cfg.Relay.WriteTimeout,
			SendBuffer:   cfg.Relay.SendBuffer,
			ReadLimit:    cfg.Relay.ReadLimit,
			FrameRate:    cfg.Relay.FrameRate,
			FrameBurst:   cfg.Relay.FrameBurst,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Gatherer:       promReg,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("translator api listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("translation_model", translator.Enabled()),
	)
	return runServer(ctx, srv, registry, logger)
}

func setupLanguages(ctx context.Context, cfg config.LanguagesConfig, logger *zap.Logger) (*language.MemoryStore, error) {
	store := language.NewMemoryStore(language.Seed())
	if cfg.File == "" {
		return store, nil
	}

	items, err := language.LoadFile(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load languages file: %w", err)
	}
	store.Replace(items)

	go func() {
		if err := language.Watch(ctx, cfg.File, store, logger.Named("languages")); err != nil {
			logger.Warn("languages file watch stopped", zap.Error(err))
		}
	}()
	return store, nil
}

func setupChatModel(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) model.BaseChatModel {
	if !cfg.Enabled() {
		logger.Info("ark credentials not configured, language model features disabled")
		return nil
	}
	if !cfg.TranslationEnabled && !cfg.SummaryEnabled {
		logger.Info("language model features disabled by configuration")
		return nil
	}

	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		logger.Warn("failed to initialize chat model, continuing without it", zap.Error(err))
		return nil
	}
	logger.Info("chat model initialized", zap.String("model", cfg.Model))
	return chatModel
}

// runServer serves until ctx is cancelled, then closes relay clients before
// draining HTTP requests.
func runServer(ctx context.Context, srv *http.Server, registry *relay.Registry, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := registry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("relay shutdown incomplete", zap.Error(err))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", zap.Error(err))
		}
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
