package api

import (
	"errors"
	"fmt"
)

// ValidationError reports a response that does not satisfy its question.
// It is delivered through callbacks and return values, never panicked.
type ValidationError struct {
	QuestionID string
	Message    string
}

func (e *ValidationError) Error() string {
	if e.QuestionID == "" {
		return e.Message
	}
	return fmt.Sprintf("question %s: %s", e.QuestionID, e.Message)
}

// StorageError wraps a failed storage operation (encode, write, read,
// evict). The session store recovers from these locally and only exposes
// their message as a last-save error.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
