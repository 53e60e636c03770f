package model

import "errors"

// Errors reported by the upstream source, media uploader and transport.
var (
	// ErrNotFound means the item does not exist (deleted or never created).
	ErrNotFound = errors.New("submission not found")
	// ErrUpstreamProtection means the upstream is rate limiting or behind a challenge.
	ErrUpstreamProtection = errors.New("upstream protection active")
	// ErrMediaGone means the media file disappeared while downloading it.
	ErrMediaGone = errors.New("media not found during download")
	// ErrTransportRecoverable covers disconnects and retryable server errors.
	ErrTransportRecoverable = errors.New("recoverable transport error")
	// ErrDestinationBlocked means the destination blocked the bot, was deactivated or is invalid.
	ErrDestinationBlocked = errors.New("destination blocked")
)
