package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrShutdownPending = errors.New("kill scheduled, not accepting new tasks")
	ErrPayloadTooLarge = errors.New("result payload too large")
	ErrTruncatedBody   = errors.New("result body shorter than Content-Length")
)
