package model

import (
	"errors"
	"fmt"
)

// Error classes. Use errors.Is against these; the typed errors below carry
// the details and unwrap to them.
var (
	ErrInput          = errors.New("input error")
	ErrService        = errors.New("service error")
	ErrUnknownModel   = errors.New("unknown model")
	ErrMergeAmbiguity = errors.New("merge ambiguity")
)

// InputError means a source could not be opened or parsed. Fatal, and always
// raised before any service call.
type InputError struct {
	Source string
	Err    error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input %s: %v", e.Source, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

func (e *InputError) Is(target error) bool { return target == ErrInput }

// ServiceError is a failed call to the extraction/inference service.
// Retryable reports whether another attempt could succeed.
type ServiceError struct {
	Provider  string
	Retryable bool
	Err       error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) Is(target error) bool { return target == ErrService }

// UnknownModelError is returned when no rate table entry exists for a model
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q: no rate table entry", e.Model)
}

func (e *UnknownModelError) Is(target error) bool { return target == ErrUnknownModel }
