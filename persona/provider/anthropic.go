package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const defaultAnthropicMaxTokens = 4096

type Anthropic struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

func NewAnthropic(cfg Config, logger *zap.Logger) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	client := anthropic.NewClient(opts...)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Anthropic{client: &client, model: cfg.Model, logger: logger}
}

// Complete prefills the assistant turn with "{" so the model continues a JSON
// object; the brace is restored before returning.
func (a *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	if a.client == nil {
		return Response{}, errors.New("anthropic: client is nil")
	}
	if a.model == "" {
		return Response{}, errors.New("anthropic: model is empty")
	}

	system, err := instructionsWithSchema(req)
	if err != nil {
		return Response{}, err
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Input)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock("{")),
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("anthropic %s: %w", req.Name, err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return Response{}, fmt.Errorf("anthropic %s: empty response", req.Name)
	}
	a.logger.Debug("anthropic response received",
		zap.String("request", req.Name),
		zap.String("stop_reason", string(message.StopReason)))

	return Response{Text: "{" + text, Provider: ProviderAnthropic, Model: a.model}, nil
}
