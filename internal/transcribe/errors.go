package transcribe

import "errors"

var (
	// ErrInference means the model rejected the audio (corrupt stream,
	// zero-length decode). Not retried automatically.
	ErrInference = errors.New("inference failure")

	// ErrTimeout means inference exceeded the configured ceiling.
	ErrTimeout = errors.New("inference timeout")
)
