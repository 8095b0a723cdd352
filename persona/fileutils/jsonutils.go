package fileutils

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const previewChars = 120

// DecodeModelJSON unmarshals a JSON object from model output. It tolerates
// surrounding whitespace, markdown code fences, and stray text around the object.
func DecodeModelJSON(outputText string, v any) error {
	s := stripCodeFence(strings.TrimSpace(outputText))
	if s == "" {
		return io.ErrUnexpectedEOF
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return fmt.Errorf("model output is not a JSON object: %q", Truncate(SanitizeNewlines(s), previewChars))
	}
	obj := s[start : end+1]
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("decode model JSON %q: %w", Truncate(SanitizeNewlines(obj), previewChars), err)
	}
	return nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the info string, e.g. "json"
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
