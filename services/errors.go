package services

import "errors"

// State-machine and stream errors surfaced to callers. AI-service failures
// are never in this list; they are absorbed by the fallback paths.
var (
	// ErrInvalidTransition means the operation is forbidden in the session's
	// current state (e.g. activating a completed session). Never retried.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrStaleQuestion means the submitted question ID does not match the
	// session's current question. The caller should refetch and retry.
	ErrStaleQuestion = errors.New("question is not the session's current question")

	// ErrSessionBusy means another submission or question generation is in
	// flight for this session. The caller should retry, not queue.
	ErrSessionBusy = errors.New("session has an operation in flight")

	// ErrIncompleteStream means voice chunk reassembly is missing chunks.
	// The buffer is retained for a grace period so the client can retry.
	ErrIncompleteStream = errors.New("voice stream is missing chunks")

	// ErrMalformedPayload means an AI response failed to parse after
	// reasoning-stripping. Treated like a timeout: triggers the fallback.
	ErrMalformedPayload = errors.New("malformed AI payload")

	// ErrBufferExists means a voice turn is already in progress for the session.
	ErrBufferExists = errors.New("voice buffer already active for session")

	// ErrNoBuffer means no voice turn is in progress for the session.
	ErrNoBuffer = errors.New("no active voice buffer for session")
)
