package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLIdempotencyChecker is the second dedup tier: it looks the command up
// in the persisted audit log.
type SQLIdempotencyChecker struct {
	db      *DB
	timeout time.Duration
}

func NewSQLIdempotencyChecker(db *DB) *SQLIdempotencyChecker {
	return &SQLIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate checks if the command exists in audit_envelopes.
func (c *SQLIdempotencyChecker) IsDuplicate(commandType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var exists int
	err := c.db.queryRow(ctx, `
		SELECT 1
		FROM audit_envelopes
		WHERE command_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, commandType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
