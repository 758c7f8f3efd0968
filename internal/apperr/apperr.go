// Package apperr defines the error taxonomy shared by the docrouter pipeline.
//
// Every error that crosses a component boundary is an *Error carrying a Kind,
// so callers can tell a fatal parse/validation failure from a recoverable
// AI or storage failure without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the stage that produced it.
type Kind string

const (
	KindValidation Kind = "validation"
	KindParse      Kind = "parse"
	KindExtraction Kind = "extraction"
	KindAIClient   Kind = "ai_client"
	KindStorage    Kind = "storage"
)

// Error is a tagged error with the failing operation and optional cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a tagged error.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func Validation(op, message string, err error) *Error {
	return New(KindValidation, op, message, err)
}

func Parse(op, message string, err error) *Error {
	return New(KindParse, op, message, err)
}

func Extraction(op, message string, err error) *Error {
	return New(KindExtraction, op, message, err)
}

func AIClient(op, message string, err error) *Error {
	return New(KindAIClient, op, message, err)
}

func Storage(op, message string, err error) *Error {
	return New(KindStorage, op, message, err)
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
