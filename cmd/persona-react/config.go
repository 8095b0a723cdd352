package main

import (
	"errors"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/personascope/persona"
	"github.com/theimaginaryfoundation/personascope/persona/provider"
)

type Config struct {
	AnalysisPath  string
	Content       string
	ContentFile   string
	Provider      string
	Model         string
	APIKey        string
	BaseURL       string
	MaxRetries    int
	Timeout       time.Duration
	ScorePolicy   string
	MaxInputChars int
	ExchangeLog   string
	JSON          bool
	Verbose       bool
}

func (c Config) Validate() error {
	if c.AnalysisPath == "" {
		return errors.New("missing -analysis")
	}
	if c.Content != "" && c.ContentFile != "" {
		return errors.New("pass only one of -content and -content-file")
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
	if _, err := persona.ParseScorePolicy(c.ScorePolicy); err != nil {
		return err
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		AnalysisPath:  "analysis.json",
		Provider:      provider.ProviderOpenAI,
		MaxRetries:    3,
		Timeout:       2 * time.Minute,
		ScorePolicy:   string(persona.ScoreReject),
		MaxInputChars: persona.DefaultMaxInputChars,
	}
}
