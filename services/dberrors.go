package services

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// MySQL server error numbers.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlDuplicateEntry  = 1062
)

// PostgreSQL SQLSTATE codes.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
)

// isTransientDBError reports lock timeouts, deadlocks and serialization failures
// for every supported driver.
func isTransientDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlLockWaitTimeout || myErr.Number == mysqlDeadlock
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return true
		}
		return false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// isDuplicateKey reports unique constraint violations.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// wrapDBError turns driver failures into TransientError where retrying is safe
// and passes typed service errors through untouched.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		ne *NotFoundError
		ie *InsufficientBalanceError
		ae *InactiveBenefitError
		ce *ConflictError
		te *TransientError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &ne), errors.As(err, &ie),
		errors.As(err, &ae), errors.As(err, &ce), errors.As(err, &te):
		return err
	case isTransientDBError(err):
		return &TransientError{Op: op, Err: err}
	}
	return err
}
