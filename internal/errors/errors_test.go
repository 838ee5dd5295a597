package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestInvalidStateErrorMatching(t *testing.T) {
	err := NewInvalidStateError("edit", "planning")

	if !Is(err, ErrInvalidState) {
		t.Error("expected error to match ErrInvalidState")
	}
	if !IsInvalidState(err) {
		t.Error("IsInvalidState should report true")
	}
	if IsConflict(err) {
		t.Error("IsConflict should report false")
	}

	var ise *InvalidStateError
	if !As(err, &ise) {
		t.Fatal("expected As to extract InvalidStateError")
	}
	if ise.Op != "edit" || ise.Status != "planning" {
		t.Errorf("unexpected fields: op=%q status=%q", ise.Op, ise.Status)
	}
}

func TestInvalidStateErrorWrapped(t *testing.T) {
	err := fmt.Errorf("handler: %w", NewInvalidStateError("retry", "completed"))

	if !IsInvalidState(err) {
		t.Error("wrapped invalid-state error should still match")
	}
}

func TestConflictErrorCarriesVersions(t *testing.T) {
	err := NewConflictError(1, 2)

	if !Is(err, ErrVersionConflict) {
		t.Error("expected error to match ErrVersionConflict")
	}
	var conflict *ConflictError
	if !As(err, &conflict) {
		t.Fatal("expected As to extract ConflictError")
	}
	if conflict.ExpectedVersion != 1 || conflict.StoredVersion != 2 {
		t.Errorf("unexpected versions: expected=%d stored=%d",
			conflict.ExpectedVersion, conflict.StoredVersion)
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("session", "proj-1/feat-2")

	if !IsNotFound(err) {
		t.Error("IsNotFound should report true")
	}
	want := "session 'proj-1/feat-2' not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestProcessErrorClassification(t *testing.T) {
	err := NewProcessError(2, New("exit status 1")).WithExitCode(1)

	if !IsProcessFailure(err) {
		t.Error("IsProcessFailure should report true")
	}
	if Is(err, ErrProcessTimeout) {
		t.Error("non-timeout process error should not match ErrProcessTimeout")
	}

	timeoutErr := NewProcessError(1, nil).WithTimeout(30 * time.Second)
	if !Is(timeoutErr, ErrProcessTimeout) {
		t.Error("timeout process error should match ErrProcessTimeout")
	}
	if !IsProcessFailure(timeoutErr) {
		t.Error("timeouts are process failures too")
	}
}

func TestQueueInvariantError(t *testing.T) {
	err := NewQueueInvariantError("proj-1", "feat-a", "feat-b")

	if !Is(err, ErrQueueInvariant) {
		t.Error("expected error to match ErrQueueInvariant")
	}
	if IsInvalidState(err) {
		t.Error("queue invariant errors are not invalid-state errors")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrapf(ErrNotFound, "loading session %s", "abc")
	if !IsNotFound(err) {
		t.Error("wrapped sentinel should still match")
	}
}
