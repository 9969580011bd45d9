package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDetectionAmbiguous is returned by detect.Classify alongside the
	// FillBlank fallback when no structural rule matched. The type is still
	// usable, so parsing keeps the question.
	ErrDetectionAmbiguous = errors.New("question type detection ambiguous")
	// ErrRetrievalDegraded marks a rerank or embedding failure that lowered
	// retrieval quality without stopping the answer pipeline.
	ErrRetrievalDegraded = errors.New("retrieval degraded")
	// ErrSessionFatal marks a lost or crashed browser context. It is the only
	// error that aborts a whole answering run.
	ErrSessionFatal = errors.New("browser session lost")
)

// ParseError reports LLM output that held no recoverable JSON object.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return "parse llm output: " + e.Reason
}

// ValidationError reports an answer whose shape violates its question type.
type ValidationError struct {
	QuestionID string
	Type       QuestionType
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s answer for %s: %s", e.Type, e.QuestionID, e.Reason)
}

// IsFatal reports whether err must abort the answering run.
func IsFatal(err error) bool { return errors.Is(err, ErrSessionFatal) }
