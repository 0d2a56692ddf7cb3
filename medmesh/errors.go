package medmesh

import (
	"fmt"

	"github.com/pkg/errors"
)

// A Kind classifies a pipeline failure.
//
// Every error returned by a Pipeline matches exactly one
// Kind with errors.Is.
type Kind string

const (
	IngestionError                Kind = "ingestion error"
	InvalidConfigurationError     Kind = "invalid configuration"
	EmptySegmentationError        Kind = "empty segmentation"
	DegenerateMeshError           Kind = "degenerate mesh"
	SerializationConsistencyError Kind = "serialization consistency error"

	// FilterError means a FilterProvider failed on input the
	// pipeline considered valid.
	FilterError Kind = "filter error"
)

func (k Kind) Error() string {
	return string(k)
}

// A StageError records which stage of a pipeline run
// failed and why.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

func (s *StageError) Error() string {
	if s.Err == nil {
		return fmt.Sprintf("%s: %s", s.Stage, s.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", s.Stage, s.Kind, s.Err)
}

// Unwrap returns the underlying error.
func (s *StageError) Unwrap() error {
	return s.Err
}

// Cause returns the underlying error for errors.Cause.
func (s *StageError) Cause() error {
	return s.Err
}

// Is matches the error's Kind.
func (s *StageError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == s.Kind
}

// KindOf extracts the Kind of a pipeline error.
// It returns the empty Kind if err is not a *StageError.
func KindOf(err error) Kind {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Kind
	}
	return ""
}

func stageError(stage string, kind Kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
