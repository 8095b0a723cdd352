package main

import (
	"errors"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/personascope/persona"
	"github.com/theimaginaryfoundation/personascope/persona/provider"
)

type Config struct {
	InPath        string
	OutPath       string
	Provider      string
	Model         string
	APIKey        string
	BaseURL       string
	MaxRetries    int
	Timeout       time.Duration
	Traits        string
	ZeroViews     string
	MaxInputChars int
	ExchangeLog   string
	Pretty        bool
	Overwrite     bool
	Verbose       bool
}

func (c Config) Validate() error {
	if c.InPath == "" {
		return errors.New("missing -in")
	}
	if c.OutPath == "" {
		return errors.New("missing -out")
	}
	switch strings.ToLower(c.Provider) {
	case provider.ProviderOpenAI, provider.ProviderAnthropic, provider.ProviderGemini:
	default:
		return errors.New("provider must be openai, anthropic, or gemini")
	}
	if c.MaxRetries < 0 {
		return errors.New("max-retries must be >= 0")
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be >= 0")
	}
	if c.MaxInputChars < 0 {
		return errors.New("max-input-chars must be >= 0")
	}
	if _, err := persona.ParseZeroViewPolicy(c.ZeroViews); err != nil {
		return err
	}
	return nil
}

func (c Config) TraitNames() []string {
	var out []string
	for _, t := range strings.Split(c.Traits, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func defaultConfig() Config {
	return Config{
		OutPath:       "analysis.json",
		Provider:      provider.ProviderOpenAI,
		MaxRetries:    3,
		Timeout:       5 * time.Minute,
		Traits:        strings.Join(persona.DefaultTraitNames, ","),
		ZeroViews:     string(persona.ZeroViewKeep),
		MaxInputChars: persona.DefaultMaxInputChars,
	}
}
