package internal

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindConfigMissing      ErrorKind = "ConfigMissing"
	KindNetworkFailure     ErrorKind = "NetworkFailure"
	KindRateLimitExceeded  ErrorKind = "RateLimitExceeded"
	KindSchemaDrift        ErrorKind = "SchemaDrift"
	KindEmptyInput         ErrorKind = "EmptyInputError"
	KindDataQualityFailure ErrorKind = "DataQualityFailure"
	KindPersistence        ErrorKind = "PersistenceError"
	KindUnknown            ErrorKind = "Unknown"
)

// PipelineError is the typed failure every stage returns. Sentinels below
// carry only a Kind and match any PipelineError of the same kind via errors.Is.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

var (
	ErrConfigMissing      = &PipelineError{Kind: KindConfigMissing}
	ErrNetworkFailure     = &PipelineError{Kind: KindNetworkFailure}
	ErrRateLimitExceeded  = &PipelineError{Kind: KindRateLimitExceeded}
	ErrSchemaDrift        = &PipelineError{Kind: KindSchemaDrift}
	ErrEmptyInput         = &PipelineError{Kind: KindEmptyInput}
	ErrDataQualityFailure = &PipelineError{Kind: KindDataQualityFailure}
	ErrPersistence        = &PipelineError{Kind: KindPersistence}
)

func newPipelineError(kind ErrorKind, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

func (e *PipelineError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return string(e.Kind)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf reports the failure kind carried by err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
