package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Kind categorizes a pipeline failure for reporting and re-run tooling.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindDataSource    Kind = "data_source"
	KindExtraction    Kind = "extraction"
	KindStage         Kind = "stage"
	KindLoader        Kind = "loader"
	KindValidation    Kind = "validation"
)

// Error is a structured pipeline failure. Per-file errors are collected as
// values rather than raised, so a single file never aborts a batch.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s=%v", k, e.Context[k])
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(pairs, ", "))
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext returns a copy of the error with the key/value added.
func (e *Error) WithContext(key string, value any) *Error {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	return &Error{Kind: e.Kind, Message: e.Message, Context: ctx, Cause: e.Cause}
}

func newError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func ConfigurationError(format string, args ...any) *Error {
	return newError(KindConfiguration, nil, format, args...)
}

func DataSourceError(format string, args ...any) *Error {
	return newError(KindDataSource, nil, format, args...)
}

func ExtractionError(cause error, format string, args ...any) *Error {
	return newError(KindExtraction, cause, format, args...)
}

func StageError(cause error, format string, args ...any) *Error {
	return newError(KindStage, cause, format, args...)
}

func LoaderError(cause error, format string, args ...any) *Error {
	return newError(KindLoader, cause, format, args...)
}

func ValidationError(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

// Wrap converts err into a *Error of the given kind, passing an existing
// *Error through untouched so the original kind survives task boundaries.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*Error); ok {
		return pe
	}
	return &Error{Kind: kind, Message: err.Error(), Cause: err}
}
