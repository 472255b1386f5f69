package convert

import (
	"errors"

	"github.com/dhamidi/rfclive/diagnostic"
)

// Kind classifies a conversion failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindToolNotFound
	KindTimeout
	KindValidationFailure
	KindOutputReadFailure
	KindInputWriteFailure
)

func (k Kind) String() string {
	switch k {
	case KindToolNotFound:
		return "tool_not_found"
	case KindTimeout:
		return "timeout"
	case KindValidationFailure:
		return "validation_failure"
	case KindOutputReadFailure:
		return "output_read_failure"
	case KindInputWriteFailure:
		return "input_write_failure"
	}
	return "unknown"
}

func (k Kind) message() string {
	switch k {
	case KindToolNotFound:
		return "xml2rfc command not found. Please install xml2rfc: pip install xml2rfc"
	case KindTimeout:
		return "xml2rfc process timed out"
	case KindValidationFailure:
		return "xml2rfc reported errors"
	case KindOutputReadFailure:
		return "failed to read generated HTML file"
	case KindInputWriteFailure:
		return "failed to write temporary XML file"
	}
	return "xml2rfc processing failed"
}

// Error is returned by Process for failures that cannot be expressed as a
// Result. Diagnostics holds whatever was parsed before the failure.
type Error struct {
	Kind        Kind
	Err         error
	Diagnostics []diagnostic.Record
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.message()
	}
	return e.Kind.message() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// DiagnosticsOf returns the diagnostics carried by err, if any.
func DiagnosticsOf(err error) []diagnostic.Record {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Diagnostics
	}
	return nil
}
