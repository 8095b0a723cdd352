package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"go.uber.org/zap"
)

// RetryPolicy bounds CallWithRetry. Wait slices are indexed by attempt; the last
// entry is reused when they are shorter than Attempts-1.
type RetryPolicy struct {
	Attempts         int
	RateLimitWaits   []time.Duration
	ServerErrorWaits []time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:         3,
		RateLimitWaits:   []time.Duration{65 * time.Second, 100 * time.Second, 135 * time.Second},
		ServerErrorWaits: []time.Duration{5 * time.Second, 30 * time.Second, 60 * time.Second},
	}
}

type OpenAI struct {
	client *openai.Client
	model  string
	retry  RetryPolicy
	logger *zap.Logger
}

func NewOpenAI(cfg Config, logger *zap.Logger) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are owned by CallWithRetry.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	client := openai.NewClient(opts...)

	retry := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		retry.Attempts = cfg.MaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{client: &client, model: cfg.Model, retry: retry, logger: logger}
}

// WithRetryPolicy replaces the retry policy; tests use it to shorten waits.
func (o *OpenAI) WithRetryPolicy(p RetryPolicy) *OpenAI {
	o.retry = p
	return o
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	if o.client == nil {
		return Response{}, errors.New("openai: client is nil")
	}
	if o.model == "" {
		return Response{}, errors.New("openai: model is empty")
	}

	params := responses.ResponseNewParams{
		Model:        o.model,
		Instructions: openai.String(req.Instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(req.Input, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(req.MaxOutputTokens)
	}
	if len(req.Schema) > 0 {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        req.Name,
					Schema:      req.Schema,
					Strict:      openai.Bool(true),
					Description: openai.String(req.Description),
					Type:        "json_schema",
				},
			},
		}
	}

	resp, err := CallWithRetry(ctx, o.client, params, o.retry, o.logger)
	if err != nil {
		return Response{}, fmt.Errorf("openai %s: %w", req.Name, err)
	}
	return Response{Text: resp.OutputText(), Provider: ProviderOpenAI, Model: o.model}, nil
}

// CallWithRetry retries rate-limit and server errors with the policy's waits.
// Waiting stops early when ctx is done.
func CallWithRetry(ctx context.Context, client *openai.Client, params responses.ResponseNewParams, policy RetryPolicy, logger *zap.Logger) (*responses.Response, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := client.Responses.New(ctx, params)
		if err == nil {
			return resp, nil
		}
		if attempt == attempts-1 {
			return nil, err
		}

		var wait time.Duration
		switch {
		case isRateLimitError(err):
			wait = waitFor(policy.RateLimitWaits, attempt)
		case isServerError(err):
			wait = waitFor(policy.ServerErrorWaits, attempt)
		default:
			return nil, err
		}

		logger.Warn("retrying OpenAI request",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed after %d attempts due to OpenAI API issues", attempts)
}

func waitFor(waits []time.Duration, attempt int) time.Duration {
	if len(waits) == 0 {
		return 0
	}
	if attempt >= len(waits) {
		return waits[len(waits)-1]
	}
	return waits[attempt]
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}
