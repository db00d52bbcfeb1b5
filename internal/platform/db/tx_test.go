package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	require.True(t, IsRetryable(fmt.Errorf("decrement: %w", &pgconn.PgError{Code: "40P01"})))
	require.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsRetryable(errors.New("boom")))
}

func TestUniqueViolation(t *testing.T) {
	name, ok := UniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_number_key"}))
	require.True(t, ok)
	require.Equal(t, "orders_order_number_key", name)

	_, ok = UniqueViolation(errors.New("boom"))
	require.False(t, ok)
}

func TestPgx5URL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", pgx5URL("postgres://u:p@h:5432/db?sslmode=disable"))
	require.Equal(t, "pgx5://u@h/db", pgx5URL("postgresql://u@h/db"))
}

func TestRetryBackOffIsJitteredAndCapped(t *testing.T) {
	seen := map[time.Duration]struct{}{}
	for range 20 {
		b := newRetryBackOff()
		first := b.NextBackOff()
		require.GreaterOrEqual(t, first, retryInitialInterval/2)
		require.LessOrEqual(t, first, retryInitialInterval*3/2)
		seen[first] = struct{}{}
		for range 10 {
			require.LessOrEqual(t, b.NextBackOff(), retryMaxInterval*3/2)
		}
	}
	require.Greater(t, len(seen), 1, "delays are not randomised")
}

func TestSleepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	require.Less(t, time.Since(start), time.Second)
	require.NoError(t, sleep(context.Background(), time.Millisecond))
}
