// Package repository implements MySQL persistence for consumers,
// acceptances, request tokens and users. Domain-visible failures are
// reported as apperr kinds; low-level driver errors are wrapped as the
// storage_error kind so callers can retry whole operations. Duplicate
// rows are detected by MySQL error 1062 on the unique constraints,
// which doubles as the lock-free backstop for the row-locked
// duplicate checks.
package repository

import (
	"errors"
	"strings"
)

// ErrEmailExists is returned when registering a user whose email is
// already taken. Handlers translate this into an HTTP 409 response.
var ErrEmailExists = errors.New("email already exists")

// isDuplicate reports whether err is a MySQL duplicate-entry (1062)
// violation.
func isDuplicate(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "1062")
}
