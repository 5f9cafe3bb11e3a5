// Package transaction runs prepared queries and the relation loads they
// trigger inside one read-only transaction, so every statement sees the
// same snapshot.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrRetriesExhausted is returned when a retryable failure persists past the
// configured number of attempts
var ErrRetriesExhausted = errors.New("transaction retries exhausted")

// IsolationLevel represents the transaction isolation level
type IsolationLevel int

const (
	// LevelDefault leaves the isolation level to the driver
	LevelDefault IsolationLevel = iota
	// ReadCommitted sees rows committed before each statement
	ReadCommitted
	// RepeatableRead sees rows committed before the first statement
	RepeatableRead
	// Serializable provides full isolation
	Serializable
)

// String returns the string representation of the isolation level
func (l IsolationLevel) String() string {
	switch l {
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "DEFAULT"
	}
}

// TxOptions returns read-only transaction options at level l
func (l IsolationLevel) TxOptions() *sql.TxOptions {
	level := sql.LevelDefault
	switch l {
	case ReadCommitted:
		level = sql.LevelReadCommitted
	case RepeatableRead:
		level = sql.LevelRepeatableRead
	case Serializable:
		level = sql.LevelSerializable
	}
	return &sql.TxOptions{Isolation: level, ReadOnly: true}
}

// Manager runs functions inside read-only transactions
type Manager struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewManager creates a manager for db
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db, logger: zap.NewNop()}
}

// WithLogger sets the logger used to report rollbacks and retries
func (m *Manager) WithLogger(logger *zap.Logger) *Manager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// ReadOnly runs fn in a read-only transaction at level. The transaction is
// committed when fn succeeds and rolled back when it fails or panics.
func (m *Manager) ReadOnly(ctx context.Context, level IsolationLevel, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, level.TxOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		m.logger.Debug("transaction rolled back", zap.Stringer("isolation", level), zap.Error(err))
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ReadOnlyWithRetry runs ReadOnly again when it fails with a retryable
// error, backing off exponentially between attempts
func (m *Manager) ReadOnlyWithRetry(ctx context.Context, level IsolationLevel, config *RetryConfig, fn func(tx *sql.Tx) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("transaction cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}

		err := m.ReadOnly(ctx, level, fn)
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return err
		}
		lastErr = err

		backoff := config.BaseBackoff * time.Duration(1<<uint(attempt))
		m.logger.Info("retrying transaction",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, config.MaxAttempts, lastErr)
}
