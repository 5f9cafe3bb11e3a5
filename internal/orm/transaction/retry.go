package transaction

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

const (
	// DefaultMaxAttempts is the default number of attempts, the first included
	DefaultMaxAttempts = 3
	// DefaultBaseBackoff is the wait before the second attempt; it doubles after that
	DefaultBaseBackoff = 50 * time.Millisecond
)

// PostgreSQL SQLSTATE codes worth retrying
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// RetryConfig configures retry behavior for transactions
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: DefaultMaxAttempts,
		BaseBackoff: DefaultBaseBackoff,
	}
}

// IsRetryableError reports whether err is a serialization failure or
// deadlock from PostgreSQL, or a busy or locked database from SQLite
func IsRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	return false
}
