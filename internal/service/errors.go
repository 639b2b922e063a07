package service

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyActive  = errors.New("training is already in progress")
	ErrNotActive      = errors.New("training is not in progress")
	ErrUnknownJobType = errors.New("unknown job type")
	ErrNotImplemented = errors.New("training data conversion not implemented")
)

// ConversionError reports that the training data could not be prepared.
// No process has been spawned.
type ConversionError struct {
	JobType string
	Err     error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("preparing %s training data: %v", e.JobType, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// SpawnError reports that the trainer could not be launched.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("starting trainer %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
