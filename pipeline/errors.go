package pipeline

import (
	"errors"
	"fmt"
)

// Error kinds reported to callers.
const (
	KindFormat          = "format_error"
	KindUnknownCategory = "unknown_category"
	KindMissingEncoder  = "missing_encoder"
	KindPrediction      = "prediction_error"
)

// RequestError is implemented by every error the pipeline reports to a caller.
// It aborts the current request only.
type RequestError interface {
	error
	Kind() string
}

// ErrorKind returns the kind of a pipeline error, or "" for anything else.
func ErrorKind(err error) string {
	var reqErr RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind()
	}
	return ""
}

// rowPrefix formats a 1-based data row; row 0 is the single-record path.
func rowPrefix(row int) string {
	if row <= 0 {
		return ""
	}
	return fmt.Sprintf("row %d: ", row)
}

// FormatError reports malformed input: an unreadable upload or a form value
// that does not fit its field.
type FormatError struct {
	Row    int
	Column string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := rowPrefix(e.Row)
	if e.Column != "" {
		msg += fmt.Sprintf("column %q: ", e.Column)
	}
	msg += e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Kind() string  { return KindFormat }
func (e *FormatError) Unwrap() error { return e.Err }

// UnknownCategoryError reports a label outside the column's training vocabulary.
type UnknownCategoryError struct {
	Row    int
	Column string
	Value  string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("%sunknown category %q in column %q", rowPrefix(e.Row), e.Value, e.Column)
}

func (e *UnknownCategoryError) Kind() string { return KindUnknownCategory }

// MissingEncoderError reports a categorical column with no trained encoder
// under the fail policy.
type MissingEncoderError struct {
	Column string
}

func (e *MissingEncoderError) Error() string {
	return fmt.Sprintf("no encoder for categorical column %q", e.Column)
}

func (e *MissingEncoderError) Kind() string { return KindMissingEncoder }

// PredictionError reports a table the classifier rejected.
type PredictionError struct {
	Row    int
	Column string
	Reason string
	Err    error
}

func (e *PredictionError) Error() string {
	msg := rowPrefix(e.Row)
	if e.Column != "" {
		msg += fmt.Sprintf("column %q: ", e.Column)
	}
	msg += e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PredictionError) Kind() string  { return KindPrediction }
func (e *PredictionError) Unwrap() error { return e.Err }
