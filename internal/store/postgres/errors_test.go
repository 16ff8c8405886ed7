package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no_rows", err: pgx.ErrNoRows, want: domain.ErrNotFound},
		{name: "wrapped_no_rows", err: fmt.Errorf("scan: %w", pgx.ErrNoRows), want: domain.ErrNotFound},
		{name: "unique", err: &pgconn.PgError{Code: pgUniqueViolation}, want: domain.ErrAlreadyExists},
		{name: "foreign_key", err: &pgconn.PgError{Code: pgForeignKeyViolation}, want: domain.ErrNotFound},
		{name: "check", err: &pgconn.PgError{Code: pgCheckViolation, ConstraintName: "bids_amount_check"}, want: domain.ErrValidation},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: domain.ErrTransientStore},
		{name: "network", err: errors.New("connection reset by peer"), want: domain.ErrTransientStore},
		{name: "cancelled", err: context.Canceled, want: context.Canceled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classify("op", tc.err)
			require.ErrorIs(t, got, tc.want)
			assert.Contains(t, got.Error(), "postgres: op")
		})
	}
	assert.NoError(t, classify("op", nil))
	assert.NotErrorIs(t, classify("op", context.Canceled), domain.ErrTransientStore)
}

func TestDSN(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "postgres://u:p@db:5432/auctions?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "auctions", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/auctions?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "auctions", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: " postgres://explicit ", Host: "ignored"}))
}
