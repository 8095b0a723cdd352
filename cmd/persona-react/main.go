package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/personascope/persona"
	"github.com/theimaginaryfoundation/personascope/persona/exchangelog"
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

	if err := run(ctx, cfg, completer, logger, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

type output struct {
	ReactionText  string  `json:"reaction_text"`
	ReactionScore int     `json:"reaction_score"`
	Progress      float64 `json:"progress"`
	Generation    uint64  `json:"generation"`
}

// run reacts to -content, -content-file, or stdin when neither is given.
func run(ctx context.Context, cfg Config, completer provider.Completer, logger *zap.Logger, stdin io.Reader, stdout io.Writer) error {
	policy, err := persona.ParseScorePolicy(cfg.ScorePolicy)
	if err != nil {
		return err
	}
	content, err := readContent(cfg, stdin)
	if err != nil {
		return err
	}

	st, _, err := persona.LoadAnalysis(cfg.AnalysisPath)
	if err != nil {
		return err
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	analyzer := persona.NewAnalyzer(completer,
		persona.WithLogger(logger),
		persona.WithScorePolicy(policy),
		persona.WithMaxInputChars(cfg.MaxInputChars),
	)
	res, err := st.ReactTo(ctx, analyzer, content)
	if err != nil {
		return err
	}

	if cfg.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(output{
			ReactionText:  res.Text,
			ReactionScore: res.Score,
			Progress:      res.Progress(),
			Generation:    st.Generation(),
		})
	}
	fmt.Fprintln(stdout, res.Text)
	fmt.Fprintf(stdout, "\nReaction Score: %d/100\n", res.Score)
	return nil
}

func readContent(cfg Config, stdin io.Reader) (string, error) {
	switch {
	case cfg.Content != "":
		return cfg.Content, nil
	case cfg.ContentFile != "":
		b, err := os.ReadFile(cfg.ContentFile)
		if err != nil {
			return "", fmt.Errorf("read -content-file: %w", err)
		}
		return string(b), nil
	default:
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
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
	fs.StringVar(&cfg.AnalysisPath, "analysis", cfg.AnalysisPath, "Path to an analysis JSON file written by persona-analyze")
	fs.StringVar(&cfg.Content, "content", "", "Content to react to (default: read stdin)")
	fs.StringVar(&cfg.ContentFile, "content-file", "", "File holding the content to react to")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "LLM provider: openai, anthropic, or gemini")
	fs.StringVar(&cfg.Model, "model", "", "Model to use (default depends on -provider)")
	fs.StringVar(&cfg.APIKey, "api-key", "", "API key (overrides the provider's env var)")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "Optional API base URL")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Attempts per OpenAI request on rate-limit and server errors")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Deadline for the reaction request (0 disables)")
	fs.StringVar(&cfg.ScorePolicy, "score-policy", cfg.ScorePolicy, "Out-of-range reaction scores: reject, clamp, or passthrough")
	fs.IntVar(&cfg.MaxInputChars, "max-input-chars", cfg.MaxInputChars, "Max chars of prompt input (0 disables)")
	fs.StringVar(&cfg.ExchangeLog, "exchange-log", "", "Optional SQLite path recording every prompt/response")
	fs.BoolVar(&cfg.JSON, "json", false, "Print the result as JSON")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Log progress to stderr")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.AnalysisPath = filepath.Clean(cfg.AnalysisPath)
	if cfg.ContentFile != "" {
		cfg.ContentFile = filepath.Clean(cfg.ContentFile)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	return cfg, nil
}
