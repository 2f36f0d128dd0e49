package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	// ErrQueueBusy is returned when another invocation holds the drain lease for a queue.
	ErrQueueBusy = errors.New("queue is being processed by another invocation")
)
