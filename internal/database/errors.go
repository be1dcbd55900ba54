package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrPersistenceConflict is returned when a transaction lost a lock race on a
// subscription lineage. The whole unit of work can be retried.
var ErrPersistenceConflict = errors.New("persistence conflict")

// Postgres SQLSTATEs that indicate lock contention.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// classify wraps lock contention errors with ErrPersistenceConflict.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrPersistenceConflict) {
		return err
	}
	if isConflict(err) {
		return fmt.Errorf("%w: %v", ErrPersistenceConflict, err)
	}
	return err
}
