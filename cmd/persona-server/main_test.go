package main

import (
	"context"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/personascope/persona"
	"github.com/theimaginaryfoundation/personascope/persona/provider"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_DefaultsAndEnvExpansion(t *testing.T) {
	t.Setenv("PERSONA_TEST_KEY", "sk-from-env")

	cfg, err := LoadConfig(writeConfig(t, `
server:
  addr: ":9090"
  session_ttl: 45m
llm:
  provider: Anthropic
  api_key: ${PERSONA_TEST_KEY}
  traits: [humor, curiosity]
dataset:
  zero_views: exclude
`))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 45*time.Minute, cfg.Server.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.Server.SweepInterval)
	assert.Equal(t, provider.ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, provider.DefaultModel(provider.ProviderAnthropic), cfg.LLM.Model)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
	assert.Equal(t, 2*time.Minute, cfg.LLM.RequestTimeout)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, []string{"humor", "curiosity"}, cfg.LLM.Traits)
	assert.Equal(t, "reject", cfg.LLM.ScorePolicy)
	assert.Equal(t, "exclude", cfg.Dataset.ZeroViews)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_NoFileUsesProviderEnvKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, provider.ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "sk-openai", cfg.LLM.APIKey)
	assert.Equal(t, persona.DefaultTraitNames, cfg.LLM.Traits)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_ExplicitZerosDisable(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := LoadConfig(writeConfig(t, `
server:
  session_ttl: 0s
  sweep_interval: 0s
llm:
  max_input_chars: 0
  max_retries: 0
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Zero(t, cfg.Server.SessionTTL)
	assert.Zero(t, cfg.Server.SweepInterval)
	assert.Zero(t, cfg.LLM.MaxInputChars)
	// no disabled form: zero means the default attempt count
	assert.Equal(t, 3, cfg.LLM.MaxRetries)

	cfg, err = LoadConfig(writeConfig(t, "llm:\n  model: gpt-5\n"))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Server.SessionTTL)
	assert.Equal(t, persona.DefaultMaxInputChars, cfg.LLM.MaxInputChars)
}

func TestLoadConfig_RejectsUnknownFieldsAndBadPolicies(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	_, err := LoadConfig(writeConfig(t, "llm:\n  temperature: 2\n"))
	assert.Error(t, err)

	cfg, err := LoadConfig(writeConfig(t, "llm:\n  score_policy: round\n"))
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "llm.score_policy")

	cfg, err = LoadConfig(writeConfig(t, "llm:\n  provider: cohere\n"))
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "llm.provider")
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("persona-server", flag.ContinueOnError)
	f, err := parseFlags(fs, []string{"-config", "configs/config.yml", "-addr", ":7000"})
	require.NoError(t, err)
	assert.Equal(t, "configs/config.yml", f.ConfigPath)
	assert.Equal(t, ":7000", f.Addr)
}

type healthyCompleter struct{}

func (healthyCompleter) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	return provider.Response{Text: "{}"}, nil
}

func TestBuildServer_ServesHealthAndGates(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := LoadConfig(writeConfig(t, "logging:\n  development: true\n"))
	require.NoError(t, err)
	srv, registry, err := buildServer(cfg, healthyCompleter{}, zap.NewNop())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/topics", nil))
	assert.Equal(t, http.StatusPreconditionRequired, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), persona.UploadPrompt))
	assert.Equal(t, 1, registry.Len())
}

func TestBuildLogger_RejectsBadLevel(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Logging.Level = "loud"
	_, err := buildLogger(cfg)
	assert.Error(t, err)

	cfg.Logging.Level = "debug"
	logger, err := buildLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
