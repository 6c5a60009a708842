package client

import "errors"

// Error taxonomy. Transports wrap the underlying cause with one of these so
// the supervisor can classify failures with errors.Is.
var (
	// ErrTransport is a transient network or protocol failure; retried.
	ErrTransport = errors.New("client: transport failure")
	// ErrAuthRejected means the credential was refused; never retried.
	ErrAuthRejected = errors.New("client: credential rejected")
	// ErrRateLimited is retried at the maximum backoff with the queue shed.
	ErrRateLimited = errors.New("client: rate limited by server")
	// ErrSessionClosed is a clean server-initiated close; no retry.
	ErrSessionClosed = errors.New("client: session closed by server")
	// ErrMaxAttemptsExceeded is the give-up signal.
	ErrMaxAttemptsExceeded = errors.New("client: max reconnect attempts exceeded")
	// ErrNoCredential is reported when Connect is called without a token.
	ErrNoCredential = errors.New("client: no credential supplied")
	// ErrWriteBufferFull means the per-connection writer fell behind.
	ErrWriteBufferFull = errors.New("client: write buffer full")
)
