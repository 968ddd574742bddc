package errors

import (
	"context"
	"fmt"
	"testing"
)

func TestValidationErrorMatchesInvalidArgument(t *testing.T) {
	err := Wrap(NewValidationError("leverage", 200, "must be within [1,125]"), "opening position")

	if !Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument in chain, got %v", err)
	}

	var ve *ValidationError
	if !As(err, &ve) {
		t.Fatalf("expected ValidationError in chain")
	}
	if ve.Field != "leverage" {
		t.Errorf("Field = %q, want leverage", ve.Field)
	}
}

func TestCollaboratorErrorKinds(t *testing.T) {
	timeout := NewCollaboratorTimeout("reader:rsi", "execute", context.DeadlineExceeded)
	if !Is(timeout, ErrCollaboratorTimeout) {
		t.Errorf("timeout should match ErrCollaboratorTimeout")
	}
	if Is(timeout, ErrCollaboratorFailed) {
		t.Errorf("timeout should not match ErrCollaboratorFailed")
	}
	if !Is(timeout, context.DeadlineExceeded) {
		t.Errorf("timeout should unwrap to the context error")
	}

	failed := NewCollaboratorError("oracle", "micro_decision", fmt.Errorf("bad json"))
	if !Is(failed, ErrCollaboratorFailed) {
		t.Errorf("failure should match ErrCollaboratorFailed")
	}
	if Is(failed, ErrCollaboratorTimeout) {
		t.Errorf("failure should not match ErrCollaboratorTimeout")
	}
}

func TestHeartbeatRunningIsConflict(t *testing.T) {
	err := Wrapf(NewHeartbeatRunningError("trader-1"), "starting heartbeat")

	if !Is(err, ErrConcurrencyConflict) {
		t.Errorf("expected ErrConcurrencyConflict")
	}
	if !Is(err, ErrHeartbeatRunning) {
		t.Errorf("expected ErrHeartbeatRunning")
	}
	if got := NewConflictError("position", "p1", "version changed"); !Is(got, ErrConcurrencyConflict) {
		t.Errorf("plain conflict should match ErrConcurrencyConflict")
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("trader", "t-9")
	if err.Error() != "trader not found: t-9" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound")
	}
	if Wrap(nil, "x") != nil {
		t.Errorf("Wrap(nil) must be nil")
	}
}
