package ldif

import (
	"errors"
	"fmt"
	"io"
)

// OutcomeKind classifies the result of a single Decoder.Next call.
type OutcomeKind int

const (
	OutcomeEntry       OutcomeKind = iota // a well-formed entry was returned
	OutcomeRecoverable                    // one record was skipped; reading may continue
	OutcomeFatal                          // the stream cannot be read any further
	OutcomeEnd                            // the stream is exhausted
)

// String returns string representation of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeEntry:
		return "entry"
	case OutcomeRecoverable:
		return "recoverable_error"
	case OutcomeFatal:
		return "fatal_error"
	case OutcomeEnd:
		return "end_of_stream"
	default:
		return "unknown"
	}
}

// Classify maps the error returned by Decoder.Next onto an OutcomeKind.
// A *DecodeError is judged by MayContinue even when its cause wraps io.EOF;
// only the bare io.EOF sentinel ends the stream. Anything else is fatal.
func Classify(err error) OutcomeKind {
	if err == nil {
		return OutcomeEntry
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		if decodeErr.MayContinue() {
			return OutcomeRecoverable
		}
		return OutcomeFatal
	}

	if err == io.EOF {
		return OutcomeEnd
	}

	return OutcomeFatal
}

// DecodeError describes a record that could not be decoded.
type DecodeError struct {
	Source      string // Name of the LDIF source
	Line        int    // Line on which the offending record or line starts
	Message     string // Human-readable description
	Recoverable bool   // Whether the decoder skipped the record and can continue
	Cause       error  // Underlying error, if any
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("ldif: %s:%d: %s", e.Source, e.Line, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// MayContinue reports whether Next may be called again after this error.
func (e *DecodeError) MayContinue() bool {
	return e.Recoverable
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// OpenError is returned when the LDIF source cannot be opened.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("error opening LDIF source %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}
