package graph

import (
	"errors"
)

// Errors shared by every layer that works on the customer graph.
//
// Callers test with errors.Is; the concrete error returned by an operation
// wraps one of these with context ("customer c-42: not found").
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrGraphNotBuilt = errors.New("graph not built")
	ErrResourceBound = errors.New("resource bound applied")
	ErrPersistence   = errors.New("persistence error")
	ErrInternal      = errors.New("internal error")

	ErrFrozen    = errors.New("graph is frozen")
	ErrDuplicate = errors.New("duplicate key")
)

// ErrorCode is the tag an outer layer uses to map an error onto a response.
type ErrorCode string

const (
	CodeOK            ErrorCode = "ok"
	CodeValidation    ErrorCode = "validation_error"
	CodeNotFound      ErrorCode = "not_found"
	CodeGraphNotBuilt ErrorCode = "graph_not_built"
	CodeResourceBound ErrorCode = "resource_bound"
	CodePersistence   ErrorCode = "persistence_error"
	CodeInternal      ErrorCode = "internal_error"
)

// Code classifies err. Unknown errors are reported as internal.
func Code(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrGraphNotBuilt):
		return CodeGraphNotBuilt
	case errors.Is(err, ErrResourceBound):
		return CodeResourceBound
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	default:
		return CodeInternal
	}
}
