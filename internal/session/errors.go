package session

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBatchRunning    = errors.New("a batch is already running in this session")
	ErrServerBusy      = errors.New("too many batches in progress")
)
