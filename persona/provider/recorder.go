package provider

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Exchange is one prompt/response pair, kept for debugging model behaviour.
type Exchange struct {
	Timestamp time.Time     `json:"timestamp"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	Name      string        `json:"name"`
	Prompt    string        `json:"prompt"`
	Response  string        `json:"response"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

type Recorder interface {
	Record(ctx context.Context, ex Exchange) error
}

type recordingCompleter struct {
	next     Completer
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// WithRecorder wraps c so every call is handed to rec. Recording failures are
// logged and never fail the call.
func WithRecorder(c Completer, rec Recorder, logger *zap.Logger) Completer {
	if rec == nil {
		return c
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &recordingCompleter{next: c, recorder: rec, logger: logger, now: time.Now}
}

func (r *recordingCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	start := r.now()
	resp, err := r.next.Complete(ctx, req)

	ex := Exchange{
		Timestamp: start,
		Provider:  resp.Provider,
		Model:     resp.Model,
		Name:      req.Name,
		Prompt:    req.Input,
		Response:  resp.Text,
		Duration:  r.now().Sub(start),
	}
	if err != nil {
		ex.Error = err.Error()
	}
	// The caller's context may already be cancelled; the record should still land.
	if recErr := r.recorder.Record(context.WithoutCancel(ctx), ex); recErr != nil {
		r.logger.Warn("failed to record LLM exchange", zap.String("request", req.Name), zap.Error(recErr))
	}
	return resp, err
}
