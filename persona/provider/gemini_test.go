package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type geminiCapture struct {
	Path              string
	SystemInstruction struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"systemInstruction"`
	GenerationConfig struct {
		ResponseMIMEType   string                 `json:"responseMimeType"`
		ResponseJSONSchema map[string]interface{} `json:"responseJsonSchema"`
		MaxOutputTokens    int                    `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

func geminiServer(t *testing.T, body string, got *geminiCapture) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, got); err != nil {
			t.Errorf("request body: %v", err)
		}
		got.Path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGemini(t *testing.T, url string) *Gemini {
	t.Helper()
	g, err := NewGemini(context.Background(), Config{APIKey: "k", Model: "gemini-2.5-flash", BaseURL: url}, nil)
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}
	return g
}

func TestGeminiComplete_SendsNativeSchema(t *testing.T) {
	t.Parallel()

	var got geminiCapture
	srv := geminiServer(t, `{
  "candidates": [
    {"content": {"role": "model", "parts": [{"text": "{\"topics\": []}"}]}, "finishReason": "STOP"}
  ]
}`, &got)
	g := newTestGemini(t, srv.URL)

	req := NewRequest[struct {
		Topics []string `json:"topics"`
	}]("topic_list", "", "list the topics", "posts")
	req.MaxOutputTokens = 256
	resp, err := g.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != `{"topics": []}` || resp.Provider != ProviderGemini || resp.Model != "gemini-2.5-flash" {
		t.Fatalf("resp=%+v", resp)
	}

	if got.Path != "/v1beta/models/gemini-2.5-flash:generateContent" {
		t.Fatalf("path=%s", got.Path)
	}
	cfg := got.GenerationConfig
	if cfg.ResponseMIMEType != "application/json" || cfg.MaxOutputTokens != 256 {
		t.Fatalf("generationConfig=%+v", cfg)
	}
	if cfg.ResponseJSONSchema["type"] != "object" || cfg.ResponseJSONSchema["additionalProperties"] != false {
		t.Fatalf("responseJsonSchema=%v", cfg.ResponseJSONSchema)
	}
	parts := got.SystemInstruction.Parts
	if len(parts) != 1 || parts[0].Text != "list the topics" {
		t.Fatalf("systemInstruction=%+v", got.SystemInstruction)
	}
}

func TestGeminiComplete_EmptyCandidateIsError(t *testing.T) {
	t.Parallel()

	var got geminiCapture
	srv := geminiServer(t, `{"candidates": []}`, &got)
	g := newTestGemini(t, srv.URL)

	_, err := g.Complete(context.Background(), Request{Name: "persona_reaction", Input: "hi"})
	if err == nil || !strings.Contains(err.Error(), "empty response") {
		t.Fatalf("err=%v, want empty response", err)
	}
}
