package rescache

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("rescache: manager closed")
	// ErrUnknownType is returned when no factory is registered for a type.
	ErrUnknownType = errors.New("rescache: unknown resource type")
	// ErrFactoryExists is returned when registering a second factory for a type.
	ErrFactoryExists = errors.New("rescache: factory already registered")
	// ErrFactoryInUse is returned when unregistering a factory that still has entries.
	ErrFactoryInUse = errors.New("rescache: factory in use")
	// ErrNoConverter is returned when no converter accepts a source file.
	ErrNoConverter = errors.New("rescache: no converter")
	// ErrConversionInProgress is returned by Convert while the entry is converting.
	ErrConversionInProgress = errors.New("rescache: conversion in progress")
	// ErrLoadFailed is matched by every *LoadError.
	ErrLoadFailed = errors.New("rescache: resource failed to load")
)

// ConvertError is a diagnostic reported by a converter.
type ConvertError struct {
	File    string
	Line    int
	Message string
}

func (e ConvertError) Error() string {
	if e.File == "" {
		return e.Message
	}
	return fmt.Sprintf("%s(%d): %s", e.File, e.Line, e.Message)
}

// Stage names the part of a chain that failed.
type Stage string

const (
	StageConvert Stage = "convert"
	StageLoad    Stage = "load"
)

// LoadError describes the last failed chain of a resource.
//
// The underlying error can be accessed via errors.Unwrap; errors.Is(err,
// ErrLoadFailed) always holds.
type LoadError struct {
	Name  string
	Type  Type
	Stage Stage
	// Diagnostics holds the errors a converter reported during the stage.
	Diagnostics []ConvertError
	cause       error
}

func (e *LoadError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("rescache: %s %q (%s) failed", e.Stage, e.Name, e.Type)
	}
	return fmt.Sprintf("rescache: %s %q (%s): %v", e.Stage, e.Name, e.Type, e.cause)
}

func (e *LoadError) Unwrap() error { return e.cause }

// Is reports whether target is ErrLoadFailed.
func (e *LoadError) Is(target error) bool { return target == ErrLoadFailed }
