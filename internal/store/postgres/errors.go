package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// classify maps driver errors onto domain sentinels. Anything that is not a
// missing row, a constraint violation or a cancelled context is treated as a
// transient store failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", op, domain.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("postgres: %s: %w", op, domain.ErrAlreadyExists)
		case pgForeignKeyViolation:
			return fmt.Errorf("postgres: %s: %w", op, domain.ErrNotFound)
		case pgCheckViolation:
			return fmt.Errorf("postgres: %s: %s: %w", op, pgErr.ConstraintName, domain.ErrValidation)
		}
	}
	return fmt.Errorf("postgres: %s: %w: %w", op, domain.ErrTransientStore, err)
}
