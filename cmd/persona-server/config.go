package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/theimaginaryfoundation/personascope/persona"
	"github.com/theimaginaryfoundation/personascope/persona/provider"
	"github.com/theimaginaryfoundation/personascope/persona/server"
)

// Config is the YAML configuration of persona-server.
type Config struct {
	Server struct {
		Addr           string        `yaml:"addr"`
		SessionTTL     time.Duration `yaml:"session_ttl"`
		SweepInterval  time.Duration `yaml:"sweep_interval"`
		MaxUploadBytes int64         `yaml:"max_upload_bytes"`
		SecureCookie   bool          `yaml:"secure_cookie"`
	} `yaml:"server"`

	LLM struct {
		Provider       string        `yaml:"provider"`
		Model          string        `yaml:"model"`
		APIKey         string        `yaml:"api_key"`
		BaseURL        string        `yaml:"base_url"`
		MaxRetries     int           `yaml:"max_retries"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		Traits         []string      `yaml:"traits"`
		ScorePolicy    string        `yaml:"score_policy"`
		MaxInputChars  int           `yaml:"max_input_chars"`
	} `yaml:"llm"`

	Dataset struct {
		ZeroViews string `yaml:"zero_views"`
	} `yaml:"dataset"`

	ExchangeLog struct {
		Path      string        `yaml:"path"`
		Retention time.Duration `yaml:"retention"`
	} `yaml:"exchange_log"`

	Logging struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"logging"`
}

// LoadConfig decodes path (if non-empty) over defaultConfig, so keys absent from
// the file keep their defaults and explicit zeros are honoured:
//
//	server.session_ttl: 0     sessions never expire
//	server.sweep_interval: 0  no background sweep
//	llm.max_input_chars: 0    prompt input is not truncated
//
// llm.max_retries, llm.request_timeout and server.max_upload_bytes have no
// disabled form; zero there falls back to the built-in default. Environment
// variables in the API key are expanded, and an empty key falls back to the
// provider's env var.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}
	cfg.applyDefaults()

	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
	cfg.LLM.APIKey = provider.ResolveAPIKey(cfg.LLM.Provider, cfg.LLM.APIKey)
	return cfg, nil
}

func defaultConfig() *Config {
	c := &Config{}
	c.Server.Addr = ":8080"
	c.Server.SessionTTL = 2 * time.Hour
	c.Server.SweepInterval = 5 * time.Minute
	c.Server.MaxUploadBytes = server.DefaultMaxUploadBytes

	c.LLM.Provider = provider.ProviderOpenAI
	c.LLM.MaxRetries = 3
	c.LLM.RequestTimeout = server.DefaultRequestTimeout
	c.LLM.Traits = append([]string(nil), persona.DefaultTraitNames...)
	c.LLM.ScorePolicy = string(persona.ScoreReject)
	c.LLM.MaxInputChars = persona.DefaultMaxInputChars

	c.Dataset.ZeroViews = string(persona.ZeroViewKeep)
	c.Logging.Level = "info"
	return c
}

// applyDefaults fills what the file may blank out and what depends on the provider.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = server.DefaultMaxUploadBytes
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = provider.ProviderOpenAI
	}
	if c.LLM.Model == "" {
		c.LLM.Model = provider.DefaultModel(c.LLM.Provider)
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.RequestTimeout == 0 {
		c.LLM.RequestTimeout = server.DefaultRequestTimeout
	}
	if len(c.LLM.Traits) == 0 {
		c.LLM.Traits = append([]string(nil), persona.DefaultTraitNames...)
	}
	if c.LLM.ScorePolicy == "" {
		c.LLM.ScorePolicy = string(persona.ScoreReject)
	}

	if c.Dataset.ZeroViews == "" {
		c.Dataset.ZeroViews = string(persona.ZeroViewKeep)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case provider.ProviderOpenAI, provider.ProviderAnthropic, provider.ProviderGemini:
	default:
		return fmt.Errorf("llm.provider must be openai, anthropic, or gemini (got %q)", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is empty and %s is not set", provider.APIKeyEnv(c.LLM.Provider))
	}
	if c.LLM.MaxRetries < 0 {
		return errors.New("llm.max_retries must be >= 0")
	}
	if c.LLM.RequestTimeout < 0 || c.Server.SessionTTL < 0 || c.Server.SweepInterval < 0 {
		return errors.New("durations must be >= 0")
	}
	if c.Server.MaxUploadBytes < 0 {
		return errors.New("server.max_upload_bytes must be >= 0")
	}
	if c.LLM.MaxInputChars < 0 {
		return errors.New("llm.max_input_chars must be >= 0")
	}
	if _, err := persona.ParseScorePolicy(c.LLM.ScorePolicy); err != nil {
		return fmt.Errorf("llm.score_policy: %w", err)
	}
	if _, err := persona.ParseZeroViewPolicy(c.Dataset.ZeroViews); err != nil {
		return fmt.Errorf("dataset.zero_views: %w", err)
	}
	return nil
}
