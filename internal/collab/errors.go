// Package collab implements the collaborative synchronization engine: the
// optimistic-concurrency mutation pipeline for live single operations and the
// delta reconciler for offline-accumulated batches.
package collab

import "errors"

// ErrValidation marks malformed input: unknown operation or entity kinds,
// missing required fields, references to members that do not exist. Not
// retryable without a client-side fix; nothing is ever partially applied.
var ErrValidation = errors.New("validation error")
