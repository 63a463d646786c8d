// Package postgres stores the ledger state and its event journal in
// PostgreSQL. Amounts are NUMERIC(78,0) and travel as decimal text.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"token-ledger/internal/domain"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
)

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	// Use pgconn.PgError for reliable error code detection
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}

	return false
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// addressText stores the null identifier as an empty string.
func addressText(a domain.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

func parseAddressText(s string) (domain.Address, error) {
	if s == "" {
		return domain.ZeroAddress, nil
	}
	return domain.ParseAddress(s)
}

// amountText renders an amount for a NUMERIC(78,0) parameter. Nil is NULL.
func amountText(a *domain.Amount) *string {
	if a == nil {
		return nil
	}
	s := a.Dec()
	return &s
}

func parseAmountText(s *string) (*domain.Amount, error) {
	if s == nil {
		return nil, nil
	}
	return domain.ParseAmount(*s)
}
