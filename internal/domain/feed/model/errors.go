package model

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNetworkFailure = errors.New("network failure")
	ErrUploadFailure  = errors.New("upload failure")
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
)

// MutationError 变更失败. errors.Is matches both Kind and the wrapped cause.
type MutationError struct {
	Op   string
	Kind error
	Err  error
}

func NewMutationError(op string, kind, err error) *MutationError {
	return &MutationError{Op: op, Kind: kind, Err: err}
}

func (e *MutationError) Error() string {
	if e.Err == nil || e.Err == e.Kind {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *MutationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
