package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrNoOutput means the prediction service answered without any text
	ErrNoOutput = errors.New("no text returned from model")

	// ErrMalformedOutput means the returned text is not the expected JSON shape
	ErrMalformedOutput = errors.New("model output is not a prediction result")
)

// AnalysisError reports a failed analysis call. No partial result accompanies it.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// ValidationError reports a parsed result that breaks the result contract
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid prediction: %s %s", e.Field, e.Reason)
}
