package rag

import (
	"errors"
	"fmt"
)

var (
	ErrFetch           = errors.New("failed to fetch repository")
	ErrEmptyCorpus     = errors.New("no valid documents found to index")
	ErrPersistence     = errors.New("vector store persistence failed")
	ErrConfig          = errors.New("invalid configuration")
	ErrModelInvocation = errors.New("model invocation failed")
	ErrNotReady        = errors.New("the knowledge base is not ready")
	ErrEmptyQuery      = errors.New("query is required")
	ErrInvalidInput    = errors.New("repository URL is required")
)

// StageError reports the stage an indexing run failed in. Both the failure
// kind and the underlying cause are visible to errors.Is and errors.As.
type StageError struct {
	Stage State
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
