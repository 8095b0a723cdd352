package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/personascope/persona"
	"github.com/theimaginaryfoundation/personascope/persona/exchangelog"
	"github.com/theimaginaryfoundation/personascope/persona/provider"
	"github.com/theimaginaryfoundation/personascope/persona/server"
)

type flags struct {
	ConfigPath string
	Addr       string
}

func parseFlags(fs *flag.FlagSet, args []string) (flags, error) {
	var f flags
	fs.SetOutput(os.Stderr)
	fs.StringVar(&f.ConfigPath, "config", "", "Path to a YAML config file (defaults apply when empty)")
	fs.StringVar(&f.Addr, "addr", "", "Listen address (overrides server.addr)")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func main() {
	f, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	cfg, err := LoadConfig(f.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if f.Addr != "" {
		cfg.Server.Addr = f.Addr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	completer, err := provider.New(ctx, provider.Config{
		Provider:       cfg.LLM.Provider,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		BaseURL:        cfg.LLM.BaseURL,
		MaxRetries:     cfg.LLM.MaxRetries,
		RequestTimeout: cfg.LLM.RequestTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize LLM provider", zap.Error(err))
	}

	if cfg.ExchangeLog.Path != "" {
		store, err := exchangelog.Open(cfg.ExchangeLog.Path)
		if err != nil {
			logger.Fatal("Failed to open exchange log", zap.Error(err))
		}
		defer store.Close()
		completer = provider.WithRecorder(completer, store, logger)
		go pruneExchanges(ctx, store, cfg.ExchangeLog.Retention, cfg.Server.SweepInterval, logger)
	}

	srv, registry, err := buildServer(cfg, completer, logger)
	if err != nil {
		logger.Fatal("Failed to build server", zap.Error(err))
	}
	go registry.Run(ctx, cfg.Server.SweepInterval)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	logger.Info("PersonaScope server is running",
		zap.String("addr", cfg.Server.Addr),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model))

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}

func buildLogger(cfg *Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	zc.Level = level
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func buildServer(cfg *Config, completer provider.Completer, logger *zap.Logger) (*http.Server, *server.Registry, error) {
	scorePolicy, err := persona.ParseScorePolicy(cfg.LLM.ScorePolicy)
	if err != nil {
		return nil, nil, err
	}
	zeroViews, err := persona.ParseZeroViewPolicy(cfg.Dataset.ZeroViews)
	if err != nil {
		return nil, nil, err
	}

	analyzer := persona.NewAnalyzer(completer,
		persona.WithLogger(logger),
		persona.WithTraitNames(cfg.LLM.Traits...),
		persona.WithScorePolicy(scorePolicy),
		persona.WithMaxInputChars(cfg.LLM.MaxInputChars),
	)
	registry := server.NewRegistry(cfg.Server.SessionTTL, logger)
	handler := server.NewHandler(analyzer, registry, logger, server.Options{
		Derive:         persona.DeriveOptions{ZeroViews: zeroViews},
		RequestTimeout: cfg.LLM.RequestTimeout,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		SecureCookie:   cfg.Server.SecureCookie,
		CookieMaxAge:   cfg.Server.SessionTTL,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, registry, nil
}

func pruneExchanges(ctx context.Context, store *exchangelog.Store, retention, interval time.Duration, logger *zap.Logger) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn("exchange log prune failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("exchange log pruned", zap.Int64("removed", n))
			}
		}
	}
}
