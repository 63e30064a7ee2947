// Package storage defines the durable key/value medium sessions are written
// to, plus the embedded backends (in-memory and SQLite).
//
// The medium is string-valued and may be quota-bounded. Each Set replaces the
// whole value of one key in a single call, so a reader sees either the old or
// the new text, never a partial write.
package storage

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("storage: key not found")

	// ErrQuotaExceeded is returned by Set when the medium is full.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
)

// Storage is a string-valued key/value medium.
type Storage interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value atomically.
	// It returns an error wrapping ErrQuotaExceeded when the medium is full.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists the keys that start with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// IsQuotaExceeded reports whether err signals a full medium.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// transientError marks a backend error that is worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so that IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked as retryable by a backend.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// QuotaError wraps a backend-native "full" error so that it matches
// ErrQuotaExceeded while keeping the original message.
func QuotaError(err error) error {
	if err == nil {
		return nil
	}
	return &quotaError{err: err}
}

type quotaError struct {
	err error
}

func (e *quotaError) Error() string { return ErrQuotaExceeded.Error() + ": " + e.err.Error() }
func (e *quotaError) Unwrap() []error {
	return []error{ErrQuotaExceeded, e.err}
}

// HasPrefix is the prefix test shared by backends that filter in Go.
func HasPrefix(key, prefix string) bool {
	return strings.HasPrefix(key, prefix)
}
