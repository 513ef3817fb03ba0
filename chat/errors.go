package chat

import (
	"fmt"
	"time"
)

// LoginError indicates that authentication failed. It is returned
// synchronously from Login and is never retried.
type LoginError struct {
	Reason string
}

func (e *LoginError) Error() string {
	return "chat: login failed: " + e.Reason
}

// ActionError is the terminal failure of a queued action, surfaced through
// its handle after the retry budget is exhausted or a non-recoverable
// response is received.
type ActionError struct {
	Attempts int
	Reason   string
	Cause    error
}

func (e *ActionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("chat: action failed after %d attempt(s): %s: %v", e.Attempts, e.Reason, e.Cause)
	}
	return fmt.Sprintf("chat: action failed after %d attempt(s): %s", e.Attempts, e.Reason)
}

func (e *ActionError) Unwrap() error { return e.Cause }

// AttemptError indicates a single failed attempt that may be retried after
// MinInterval has elapsed. The executor absorbs these until the attempt
// budget runs out.
type AttemptError struct {
	MinInterval time.Duration
	Reason      string
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("chat: attempt denied (retry after %s): %s", e.MinInterval, e.Reason)
}
