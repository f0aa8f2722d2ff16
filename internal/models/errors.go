package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrInsufficientContext marks an answer produced without any grounding.
	ErrInsufficientContext = errors.New("insufficient context")
)

// EmbeddingError reports bad embedding input or a model failure. Only
// transient errors are worth retrying.
type EmbeddingError struct {
	Op        string
	Reason    string
	Transient bool
	Err       error
}

func (e *EmbeddingError) Error() string {
	msg := "embedding " + e.Op + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

func (e *EmbeddingError) IsTransient() bool { return e.Transient }

// IsTransient reports whether err carries a transient EmbeddingError.
func IsTransient(err error) bool {
	var ee *EmbeddingError
	return errors.As(err, &ee) && ee.Transient
}

// ValidationError rejects a malformed ContentUnit at write time.
type ValidationError struct {
	UnitID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.UnitID == "" {
		return fmt.Sprintf("invalid content unit: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid content unit %s: %s %s", e.UnitID, e.Field, e.Reason)
}

// RetrievalError is returned only when every queried partition failed.
type RetrievalError struct {
	Failures map[Modality]error
}

func (e *RetrievalError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, m := range Modalities {
		if err, ok := e.Failures[m]; ok {
			parts = append(parts, fmt.Sprintf("%s: %v", m, err))
		}
	}
	return "retrieval failed in all partitions: " + strings.Join(parts, "; ")
}

func (e *RetrievalError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, m := range Modalities {
		if err, ok := e.Failures[m]; ok {
			errs = append(errs, err)
		}
	}
	return errs
}

// GenerationError is terminal: both backends failed or timed out.
type GenerationError struct {
	Primary  error
	Fallback error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: primary: %v; fallback: %v", e.Primary, e.Fallback)
}

func (e *GenerationError) Unwrap() []error {
	var errs []error
	if e.Primary != nil {
		errs = append(errs, e.Primary)
	}
	if e.Fallback != nil {
		errs = append(errs, e.Fallback)
	}
	return errs
}
