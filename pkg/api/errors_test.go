package api

import (
	"errors"
	"fmt"
	"testing"
)

func TestStorageError(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("save: %w", &StorageError{Op: "write", Key: "k", Err: cause})

	if !IsStorageError(err) {
		t.Fatalf("expected IsStorageError to see through wrapping")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected the cause to be reachable")
	}
	if got := err.Error(); got != "save: storage write k: disk full" {
		t.Fatalf("unexpected message %q", got)
	}
	if IsStorageError(cause) {
		t.Fatalf("a plain error is not a storage error")
	}
}

func TestValidationError(t *testing.T) {
	if got := (&ValidationError{QuestionID: "q1", Message: "bad"}).Error(); got != "question q1: bad" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := (&ValidationError{Message: "bad"}).Error(); got != "bad" {
		t.Fatalf("unexpected message %q", got)
	}
}
