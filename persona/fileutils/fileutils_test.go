package fileutils

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSONFileAtomic_RoundTripAndOverwriteGuard(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out", "analysis.json")

	if err := CheckWritable(path, false); err != nil {
		t.Fatalf("CheckWritable missing file: %v", err)
	}
	if err := WriteJSONFileAtomic(path, map[string]int{"rows": 3}, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadJSONFile[map[string]int](path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["rows"] != 3 {
		t.Fatalf("rows=%d", got["rows"])
	}

	if err := CheckWritable(path, false); !errors.Is(err, ErrExists) {
		t.Fatalf("err=%v, want ErrExists", err)
	}
	if err := CheckWritable(path, true); err != nil {
		t.Fatalf("CheckWritable overwrite: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries=%d, want only the target (no temp leftovers)", len(entries))
	}
}

func TestTruncate_DoesNotSplitRunes(t *testing.T) {
	t.Parallel()

	if got := Truncate("  short  ", 10); got != "short" {
		t.Fatalf("got=%q", got)
	}
	// "é" is two bytes; cutting at 2 would split it.
	if got := Truncate("aé-tail", 2); got != "a…" {
		t.Fatalf("got=%q", got)
	}
	if got := Truncate("abcdef", 0); got != "abcdef" {
		t.Fatalf("got=%q", got)
	}
}

func TestSanitizeNewlines(t *testing.T) {
	t.Parallel()

	if got := SanitizeNewlines("a\r\nb\rc\nd"); got != `a\nb\nc\nd` {
		t.Fatalf("got=%q", got)
	}
}

func TestDecodeModelJSON(t *testing.T) {
	t.Parallel()

	var out struct {
		Score int `json:"reaction_score"`
	}
	if err := DecodeModelJSON("```json\n{\"reaction_score\": 42}\n```", &out); err != nil {
		t.Fatalf("decode fenced: %v", err)
	}
	if out.Score != 42 {
		t.Fatalf("score=%d", out.Score)
	}
	if err := DecodeModelJSON("Sure! {\"reaction_score\": 7} Hope that helps.", &out); err != nil || out.Score != 7 {
		t.Fatalf("decode embedded: score=%d err=%v", out.Score, err)
	}
	if err := DecodeModelJSON("   ", &out); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err=%v, want ErrUnexpectedEOF", err)
	}
	if err := DecodeModelJSON("no json here", &out); err == nil {
		t.Fatalf("expected error")
	}
}
