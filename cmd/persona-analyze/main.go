package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/personascope/persona"
	"github.com/theimaginaryfoundation/personascope/persona/exchangelog"
	"github.com/theimaginaryfoundation/personascope/persona/fileutils"
	"github.com/theimaginaryfoundation/personascope/persona/provider"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	apiKey := provider.ResolveAPIKey(cfg.Provider, cfg.APIKey)
	if apiKey == "" {
		fmt.Fprintf(os.Stderr, "missing %s (or pass -api-key)\n", provider.APIKeyEnv(cfg.Provider))
		os.Exit(2)
	}

	logger := newLogger(cfg.Verbose)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	completer, err := provider.New(ctx, provider.Config{
		Provider:   cfg.Provider,
		APIKey:     apiKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		MaxRetries: cfg.MaxRetries,
	}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if cfg.ExchangeLog != "" {
		store, err := exchangelog.Open(cfg.ExchangeLog)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
		defer store.Close()
		completer = provider.WithRecorder(completer, store, logger)
	}

	if err := run(ctx, cfg, completer, logger, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, completer provider.Completer, logger *zap.Logger, stdout io.Writer) error {
	if err := fileutils.CheckWritable(cfg.OutPath, cfg.Overwrite); err != nil {
		return fmt.Errorf("%w (pass -overwrite)", err)
	}
	zeroViews, err := persona.ParseZeroViewPolicy(cfg.ZeroViews)
	if err != nil {
		return err
	}

	in, err := os.Open(cfg.InPath)
	if err != nil {
		return fmt.Errorf("open -in: %w", err)
	}
	defer in.Close()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	analyzer := persona.NewAnalyzer(completer,
		persona.WithLogger(logger),
		persona.WithTraitNames(cfg.TraitNames()...),
		persona.WithMaxInputChars(cfg.MaxInputChars),
	)
	_, analysis, err := persona.Ingest(ctx, analyzer, persona.NewSessionState(), in, persona.DeriveOptions{ZeroViews: zeroViews})
	if err != nil {
		return err
	}

	if err := persona.SaveAnalysis(cfg.OutPath, analysis, filepath.Base(cfg.InPath), time.Now(), cfg.Pretty, cfg.Overwrite); err != nil {
		return err
	}

	st := analysis.Dataset.Stats()
	fmt.Fprintf(stdout, "Analysis complete: %d posts (%d non-finite engagement), %d traits, %d topics\n",
		st.Rows, st.NonFiniteRows, len(analysis.Profile.Traits), len(analysis.Topics))
	for _, ts := range analysis.Profile.Traits {
		fmt.Fprintf(stdout, "  %-18s %4.1f\n", ts.Trait, ts.Score)
	}
	fmt.Fprintf(stdout, "wrote %s\n", cfg.OutPath)
	return nil
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.InPath, "in", cfg.InPath, "Path to a CSV with columns text, favorite_count, view_count")
	fs.StringVar(&cfg.OutPath, "out", cfg.OutPath, "Path for the analysis JSON file")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "LLM provider: openai, anthropic, or gemini")
	fs.StringVar(&cfg.Model, "model", "", "Model to use (default depends on -provider)")
	fs.StringVar(&cfg.APIKey, "api-key", "", "API key (overrides the provider's env var)")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "Optional API base URL")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Attempts per OpenAI request on rate-limit and server errors")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Overall deadline for the analysis (0 disables)")
	fs.StringVar(&cfg.Traits, "traits", cfg.Traits, "Comma-separated trait names to score")
	fs.StringVar(&cfg.ZeroViews, "zero-views", cfg.ZeroViews, "Rows with view_count 0: keep (+Inf), exclude, or zero")
	fs.IntVar(&cfg.MaxInputChars, "max-input-chars", cfg.MaxInputChars, "Max chars of posts sent per request (0 disables)")
	fs.StringVar(&cfg.ExchangeLog, "exchange-log", "", "Optional SQLite path recording every prompt/response")
	fs.BoolVar(&cfg.Pretty, "pretty", false, "Pretty-print the analysis JSON")
	fs.BoolVar(&cfg.Overwrite, "overwrite", false, "Overwrite an existing analysis file")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Log progress to stderr")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.InPath != "" {
		cfg.InPath = filepath.Clean(cfg.InPath)
	}
	cfg.OutPath = filepath.Clean(cfg.OutPath)
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	return cfg, nil
}
