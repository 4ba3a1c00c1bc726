package database

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	readAttempts = 3
	readBackoff  = 50 * time.Millisecond
)

// RetryRead runs an idempotent read, retrying transient connection failures.
// Writes must not go through here.
func RetryRead[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 0; attempt < readAttempts; attempt++ {
		out, err = fn(ctx)
		if err == nil || !IsTransient(err) {
			return out, err
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(readBackoff * time.Duration(attempt+1)):
		}
	}
	return out, err
}

// IsTransient reports whether err is a connection-level failure worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, pgx.ErrNoRows) || errors.Is(err, context.Canceled) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P01", "57P03", "08000", "08003", "08006":
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
