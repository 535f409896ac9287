package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestRateLimitError(t *testing.T) {
	err := NewRateLimitError("slow down")

	if err.Error() != "slow down" {
		t.Fatalf("Error message = %q, want %q", err.Error(), "slow down")
	}

	if !IsRateLimitError(err) {
		t.Fatalf("IsRateLimitError returned false for RateLimitError")
	}

	wrapped := stdErrors.Join(err)
	if !IsRateLimitError(wrapped) {
		t.Fatalf("IsRateLimitError returned false for wrapped RateLimitError")
	}
}

func TestRateLimitErrorWithRetry_VariousDurations(t *testing.T) {
	tests := []struct {
		name            string
		duration        time.Duration
		expectedMessage string
	}{
		{
			name:            "zero",
			duration:        0,
			expectedMessage: "rate limited",
		},
		{
			name:            "30 seconds",
			duration:        30 * time.Second,
			expectedMessage: "rate limited (retry after 30s)",
		},
		{
			name:            "1 hour",
			duration:        1 * time.Hour,
			expectedMessage: "rate limited (retry after 1h0m0s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRateLimitErrorWithRetry("rate limited", tt.duration)
			if err.Error() != tt.expectedMessage {
				t.Fatalf("Error message = %q, want %q", err.Error(), tt.expectedMessage)
			}
		})
	}
}

func TestUnrecoverableError(t *testing.T) {
	cause := stdErrors.New("source row missing")
	err := fmt.Errorf("vendor image: %w", NewUnrecoverableError("logic error", cause))

	if !IsUnrecoverableError(err) {
		t.Fatalf("IsUnrecoverableError returned false for wrapped UnrecoverableError")
	}
	if IsReplayable(err) {
		t.Fatalf("IsReplayable returned true for plain UnrecoverableError")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("UnrecoverableError does not unwrap to its cause")
	}
	if got := NewUnrecoverableError("logic error", cause).Error(); got != "logic error: source row missing" {
		t.Fatalf("Error message = %q", got)
	}
	if got := NewUnrecoverableError("not found", nil).Error(); got != "not found" {
		t.Fatalf("Error message = %q", got)
	}
}

func TestReplayableError(t *testing.T) {
	err := NewReplayableError("unexpected store failure", stdErrors.New("502"))

	if !IsUnrecoverableError(err) || !IsReplayable(err) {
		t.Fatalf("replayable error not classified as unrecoverable+replayable")
	}
}

func TestRequeueAndSkipErrors(t *testing.T) {
	requeue := fmt.Errorf("upload: %w", NewRequeueError(stdErrors.New("store busy")))
	if !IsRequeueError(requeue) {
		t.Fatalf("IsRequeueError returned false for wrapped RequeueError")
	}
	if IsUnrecoverableError(requeue) || IsSkipError(requeue) {
		t.Fatalf("RequeueError misclassified")
	}

	skip := NewSkipError("not updated")
	if !IsSkipError(skip) {
		t.Fatalf("IsSkipError returned false for SkipError")
	}
	if skip.Error() != "not updated" {
		t.Fatalf("Error message = %q", skip.Error())
	}
}
