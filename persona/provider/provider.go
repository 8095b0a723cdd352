package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Request is one structured inference call. Schema is a JSON schema object for the
// expected response; providers without native schema support get it appended to the
// instructions.
type Request struct {
	Name            string
	Description     string
	Instructions    string
	Input           string
	Schema          map[string]interface{}
	MaxOutputTokens int64
}

type Response struct {
	Text     string
	Provider string
	Model    string
}

// Completer is the inference collaborator: it sends a request and returns raw model
// output text, which the caller decodes.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

type Config struct {
	Provider       string
	APIKey         string
	Model          string
	BaseURL        string
	MaxRetries     int
	RequestTimeout time.Duration
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderGemini:
		return "gemini-2.5-flash"
	default:
		return "gpt-5-mini"
	}
}

// APIKeyEnv names the environment variable consulted when no key is configured.
func APIKeyEnv(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// ResolveAPIKey returns key if set, otherwise the provider's environment variable.
func ResolveAPIKey(provider, key string) string {
	if strings.TrimSpace(key) != "" {
		return key
	}
	return os.Getenv(APIKeyEnv(provider))
}

// New builds the Completer selected by cfg.Provider.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Completer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = ProviderOpenAI
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing API key for provider %s (set %s)", name, APIKeyEnv(name))
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel(name)
	}

	switch name {
	case ProviderOpenAI:
		return NewOpenAI(cfg, logger), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg, logger), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

// instructionsWithSchema appends the response schema for providers that cannot
// enforce it natively.
func instructionsWithSchema(req Request) (string, error) {
	if len(req.Schema) == 0 {
		return req.Instructions, nil
	}
	b, err := json.Marshal(req.Schema)
	if err != nil {
		return "", fmt.Errorf("marshal schema %s: %w", req.Name, err)
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(req.Instructions))
	sb.WriteString("\n\nRespond with ONLY a single JSON object matching this JSON schema. No markdown, no code fences.\n")
	sb.Write(b)
	sb.WriteString("\n")
	return sb.String(), nil
}
