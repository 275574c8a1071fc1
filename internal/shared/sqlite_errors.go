// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// IsSQLiteConflictError reports whether err is a SQLITE_BUSY or "database is
// locked" error. Both are transient under concurrent writers.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// RetryOnConflict runs fn, retrying with exponential backoff while it fails
// with a SQLite conflict. Other errors are returned immediately.
func RetryOnConflict(ctx context.Context, op string, attempts uint, fn func() error) error {
	if attempts == 0 {
		attempts = 3
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	try := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		try++
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		if !IsSQLiteConflictError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		slog.Debug("SQLite conflict, retrying", "op", op, "attempt", try, "error", err)
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(attempts))
	return err
}
