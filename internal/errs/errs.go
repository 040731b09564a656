// Package errs separates failures the user fixes in their setup (model path,
// thresholds) from failures they fix in their upload (corrupt image, unreadable video).
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks configuration failures: missing model artifact, invalid thresholds.
	ErrConfig = errors.New("configuration error")
	// ErrInput marks input failures: corrupt image, unreadable container, empty upload.
	ErrInput = errors.New("input error")
)

type kindError struct {
	kind error
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *kindError) Unwrap() []error {
	if e.err != nil {
		return []error{e.kind, e.err}
	}
	return []error{e.kind}
}

// Config wraps err (which may be nil) as a configuration error.
func Config(msg string, err error) error {
	return &kindError{kind: ErrConfig, msg: msg, err: err}
}

// Input wraps err (which may be nil) as an input error.
func Input(msg string, err error) error {
	return &kindError{kind: ErrInput, msg: msg, err: err}
}

// Kind returns a short label for display.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrConfig):
		return "Configuration Error"
	case errors.Is(err, ErrInput):
		return "Input Error"
	default:
		return "Error"
	}
}
