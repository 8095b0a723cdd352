package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Gemini enforces the response schema natively through responseJsonSchema.
type Gemini struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewGemini(ctx context.Context, cfg Config, logger *zap.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	// Timeouts come from the caller's context.
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("gemini client initialized", zap.String("model", cfg.Model))
	return &Gemini{client: client, model: cfg.Model, logger: logger}, nil
}

func (g *Gemini) Complete(ctx context.Context, req Request) (Response, error) {
	if g.client == nil {
		return Response{}, errors.New("gemini: client is nil")
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if system := strings.TrimSpace(req.Instructions); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(req.Schema) > 0 {
		config.ResponseJsonSchema = req.Schema
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Input), config)
	if err != nil {
		return Response{}, fmt.Errorf("gemini %s: %w", req.Name, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Response{}, fmt.Errorf("gemini %s: empty response", req.Name)
	}
	return Response{Text: text, Provider: ProviderGemini, Model: g.model}, nil
}
