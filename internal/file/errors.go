package file

import "errors"

var (
	// ErrNotFound covers missing, expired, exhausted and password-rejected
	// files alike, so a response never reveals whether an id ever existed.
	ErrNotFound = errors.New("file not found")
	// ErrPayloadTooLarge signals that the upload exceeds the configured cap.
	ErrPayloadTooLarge = errors.New("payload too large")
)
