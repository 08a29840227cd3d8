package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func serializationErr() error {
	return fmt.Errorf("platform/db: commit tx: %w", &pgconn.PgError{Code: "40001"})
}

func TestRetrySerializableRerunsLostRaces(t *testing.T) {
	calls := 0
	err := retrySerializable(context.Background(), func() error {
		calls++
		if calls < MaxTxAttempts {
			return serializationErr()
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, MaxTxAttempts, calls)
}

func TestRetrySerializableGivesUp(t *testing.T) {
	calls := 0
	err := retrySerializable(context.Background(), func() error {
		calls++
		return serializationErr()
	})
	require.True(t, IsSerializationFailure(err))
	require.Equal(t, MaxTxAttempts, calls)

	calls = 0
	deadlock := &pgconn.PgError{Code: "40P01"}
	err = retrySerializable(context.Background(), func() error {
		calls++
		return deadlock
	})
	require.ErrorIs(t, err, deadlock)
	require.Equal(t, MaxTxAttempts, calls)
}

func TestRetrySerializableStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := retrySerializable(context.Background(), func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls = 0
	err = retrySerializable(ctx, func() error {
		calls++
		return serializationErr()
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
