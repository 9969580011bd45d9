package fill

import (
	"context"
	"errors"
	"fmt"
)

// Driver is the browser capability the fill engine needs. Selectors are
// CSS selectors recorded in a question's Handle.
//
// Implementations wrap ErrNotFound or ErrNotInteractable for element level
// problems and domain.ErrSessionFatal when the browser itself is gone.
type Driver interface {
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	SetText(ctx context.Context, selector, text string) error
	SelectValue(ctx context.Context, selector, value string) error
	SelectText(ctx context.Context, selector, text string) error
	// WaitReady blocks until a dependent control such as the next level of
	// a cascading select has been populated.
	WaitReady(ctx context.Context, selector string) error
}

var (
	ErrNotFound        = errors.New("element not found")
	ErrNotInteractable = errors.New("element not interactable")
)

// FillError reports a recoverable failure to fill one question.
type FillError struct {
	QuestionID string
	Reason     string
	Err        error
}

func (e *FillError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fill %s: %s: %v", e.QuestionID, e.Reason, e.Err)
	}
	return fmt.Sprintf("fill %s: %s", e.QuestionID, e.Reason)
}

func (e *FillError) Unwrap() error { return e.Err }
