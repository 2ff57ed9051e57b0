package models

import "errors"

var (
	// ErrDataAccess means the dataset is missing, unreadable or empty.
	ErrDataAccess = errors.New("dataset unavailable")

	// ErrCredential means a remote credential is missing or rejected. Not retried.
	ErrCredential = errors.New("credential missing or invalid")

	// ErrRetryable marks transient network or service failures.
	ErrRetryable = errors.New("transient remote failure")

	ErrGeneration = errors.New("answer generation failed")

	// ErrEmptyContext means retrieval produced no usable chunk text.
	ErrEmptyContext = errors.New("no relevant context")

	ErrNotReady = errors.New("pipeline not ready")
)
