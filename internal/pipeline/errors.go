package pipeline

import "errors"

var (
	// ErrEmpty means there is nothing to take right now.
	ErrEmpty = errors.New("nothing to process")
	// ErrTooManyRefresh means a submission was refreshed too often within the refresh window.
	ErrTooManyRefresh = errors.New("too many refreshes")
	// ErrShutdown is returned by waits and retry loops when the pipeline is stopping.
	ErrShutdown = errors.New("pipeline shutting down")
)
