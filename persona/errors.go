package persona

import (
	"errors"
	"fmt"
	"strings"
)

// UploadPrompt is the blocking message shown for pages that need an analyzed upload.
const UploadPrompt = "Upload tweets on the Home page first."

var (
	ErrUploadRequired     = errors.New("upload required")
	ErrEmptyContent       = errors.New("reaction content is empty")
	ErrScoreOutOfRange    = errors.New("reaction score out of range [0,100]")
	ErrEmptyDataset       = errors.New("dataset has no rows")
	ErrIncompleteAnalysis = errors.New("analysis is incomplete")
)

// ValidationError reports an upload that cannot become a Dataset. Missing is set
// when required columns are absent; Row and Column locate a bad cell otherwise.
type ValidationError struct {
	Missing []string
	Row     int // 1-based data row, header excluded
	Column  string
	Value   string
	Reason  string
	Err     error
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("CSV must contain %s columns (missing: %s)",
			quoteJoin(RequiredColumns), strings.Join(e.Missing, ", "))
	}
	var sb strings.Builder
	sb.WriteString("invalid CSV")
	if e.Row > 0 {
		fmt.Fprintf(&sb, " row %d", e.Row)
	}
	if e.Column != "" {
		fmt.Fprintf(&sb, " column %s", e.Column)
	}
	if e.Value != "" {
		fmt.Fprintf(&sb, " value %q", e.Value)
	}
	if e.Reason != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Reason)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InferenceError wraps any failure of an inference call: transport, decoding, or
// a response that fails validation.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference failed: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// GateError is returned by SessionState.Require for a page whose inputs are absent.
type GateError struct {
	Page Page
}

func (e *GateError) Error() string { return UploadPrompt }

func (e *GateError) Unwrap() error { return ErrUploadRequired }

// IsValidation reports whether err is an input problem the user can fix by
// uploading a different file.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrEmptyDataset)
}

// IsInference reports whether err came from the inference collaborator.
func IsInference(err error) bool {
	var ie *InferenceError
	return errors.As(err, &ie)
}

func quoteJoin(items []string) string {
	q := make([]string, len(items))
	for i, s := range items {
		q[i] = "'" + s + "'"
	}
	switch len(q) {
	case 0:
		return ""
	case 1:
		return q[0]
	default:
		return strings.Join(q[:len(q)-1], ", ") + ", and " + q[len(q)-1]
	}
}
