package errors

import "errors"

// UnrecoverableError marks a message that must not be retried. The consumer
// acknowledges it and counts it as rejected.
type UnrecoverableError struct {
	Reason string
	Err    error
	// Replay asks the consumer to keep a copy of the message on the
	// dead-letter queue for manual replay.
	Replay bool
}

func (e *UnrecoverableError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *UnrecoverableError) Unwrap() error {
	return e.Err
}

// NewUnrecoverableError creates an UnrecoverableError with the provided reason.
func NewUnrecoverableError(reason string, err error) *UnrecoverableError {
	return &UnrecoverableError{Reason: reason, Err: err}
}

// NewReplayableError creates an UnrecoverableError that is kept for manual replay.
func NewReplayableError(reason string, err error) *UnrecoverableError {
	return &UnrecoverableError{Reason: reason, Err: err, Replay: true}
}

// IsUnrecoverableError reports whether err is an UnrecoverableError (even when wrapped).
func IsUnrecoverableError(err error) bool {
	var target *UnrecoverableError
	return errors.As(err, &target)
}

// IsReplayable reports whether err asks for a dead-letter copy.
func IsReplayable(err error) bool {
	var target *UnrecoverableError
	return errors.As(err, &target) && target.Replay
}

// RequeueError asks the consumer to publish the message again, once, with the
// redelivered flag set.
type RequeueError struct {
	Err error
}

func (e *RequeueError) Error() string {
	return "requeue: " + e.Err.Error()
}

func (e *RequeueError) Unwrap() error {
	return e.Err
}

// NewRequeueError wraps err as a RequeueError.
func NewRequeueError(err error) *RequeueError {
	return &RequeueError{Err: err}
}

// IsRequeueError reports whether err is a RequeueError (even when wrapped).
func IsRequeueError(err error) bool {
	var target *RequeueError
	return errors.As(err, &target)
}

// SkipError is an expected no-op outcome: the message is acknowledged and
// logged without alerting.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return e.Reason
}

// NewSkipError creates a SkipError with the provided reason.
func NewSkipError(reason string) *SkipError {
	return &SkipError{Reason: reason}
}

// IsSkipError reports whether err is a SkipError (even when wrapped).
func IsSkipError(err error) bool {
	var target *SkipError
	return errors.As(err, &target)
}
