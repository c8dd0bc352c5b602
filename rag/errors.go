package rag

import (
	"context"
	"errors"
)

// Error kinds. Adapters wrap one of these with fmt.Errorf("...: %w", kind)
// so callers can tell them apart with errors.Is.
var (
	ErrRateLimited       = errors.New("rate limited")
	ErrTimeout           = errors.New("timeout")
	ErrInvalidInput      = errors.New("invalid input")
	ErrAuth              = errors.New("authentication failed")
	ErrContextTooLarge   = errors.New("context too large")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrParse             = errors.New("parse error")
	ErrConnection        = errors.New("connection failure")
	ErrUnavailable       = errors.New("service unavailable")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrConflict          = errors.New("concurrent rebuild conflict")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrConnection),
		errors.Is(err, ErrUnavailable):
		return true
	default:
		return false
	}
}

type Stage string

const (
	StageIngestion  Stage = "ingestion"
	StageIndex      Stage = "index"
	StageRetrieval  Stage = "retrieval"
	StageGeneration Stage = "generation"
)

// Error is the terminal error of a pipeline stage.
type Error struct {
	Stage Stage
	Op    string
	Err   error
}

func (e *Error) Error() string {
	msg := string(e.Stage)
	if e.Op != "" {
		msg += ": " + e.Op
	}

	return msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with a stage. An error that already carries a stage is
// returned unchanged so the caller sees the stage that actually failed.
func Wrap(stage Stage, op string, err error) error {
	if err == nil {
		return nil
	}

	var staged *Error
	if errors.As(err, &staged) {
		return err
	}

	return &Error{
		Stage: stage,
		Op:    op,
		Err:   err,
	}
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) (Stage, bool) {
	var staged *Error
	if errors.As(err, &staged) {
		return staged.Stage, true
	}

	return "", false
}
