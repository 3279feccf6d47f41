package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies stage errors for failure routing.
type ErrorKind string

const (
	// KindTransient marks errors worth retrying (network, locks, timeouts).
	KindTransient ErrorKind = "transient"
	// KindValidation marks permanently broken inputs (missing file, bad record).
	KindValidation ErrorKind = "validation"
	// KindConfiguration marks operator mistakes that retries cannot fix.
	KindConfiguration ErrorKind = "configuration"
)

// ClassifiedError carries an ErrorKind alongside the underlying error.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify wraps err with a kind. A nil err returns nil.
func Classify(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// KindOf returns the classification of err, defaulting to transient so that
// unknown failures stay inside the bounded-retry model rather than silently
// becoming terminal.
func KindOf(err error) ErrorKind {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindTransient
}

// IsPermanent reports whether err should skip the retry budget entirely.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindConfiguration:
		return true
	default:
		return false
	}
}
