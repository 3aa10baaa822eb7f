package transcript

import "errors"

var (
	// ErrPersistenceDegraded marks a live write (stream or durable) that did not land.
	// The conversation continues; shutdown reconciliation retries durable turns.
	ErrPersistenceDegraded = errors.New("transcript: persistence degraded")
	// ErrArchivalFailed marks a shutdown that could not complete the session.
	ErrArchivalFailed = errors.New("transcript: archival failed")

	ErrUnknownRoom  = errors.New("transcript: unknown room")
	ErrRoomExists   = errors.New("transcript: room already open")
	ErrInvalidEvent = errors.New("transcript: invalid event")
	ErrDropped      = errors.New("transcript: job dropped from full queue")
	ErrQueueClosed  = errors.New("transcript: queue closed")
)
