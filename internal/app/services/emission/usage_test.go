package emission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
)

type transferReaderFunc func(ctx context.Context, since time.Time) ([]ledger.TransferTotal, error)

func (f transferReaderFunc) SumTransfersByRecipient(ctx context.Context, since time.Time) ([]ledger.TransferTotal, error) {
	return f(ctx, since)
}

func TestComputeUsageScoresBySqrtCount(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reader := transferReaderFunc(func(_ context.Context, got time.Time) ([]ledger.TransferTotal, error) {
		require.True(t, got.Equal(since))
		return []ledger.TransferTotal{
			{AccountID: "a", Total: d("100"), Count: 1},
			{AccountID: "b", Total: d("10"), Count: 4},
			{AccountID: "c", Total: d("0"), Count: 0},
		}, nil
	})

	usage, err := ComputeUsage(context.Background(), reader, since)
	require.NoError(t, err)
	require.Len(t, usage.Recipients, 2)
	require.True(t, usage.Recipients[0].Weight.Equal(d("100")))
	require.True(t, usage.Recipients[1].Weight.Equal(d("20")))
	require.True(t, usage.Score.Equal(d("120")))
}

func TestComputeUsageEmptyWindow(t *testing.T) {
	reader := transferReaderFunc(func(context.Context, time.Time) ([]ledger.TransferTotal, error) {
		return nil, nil
	})
	usage, err := ComputeUsage(context.Background(), reader, time.Time{})
	require.NoError(t, err)
	require.True(t, usage.Score.IsZero())
	require.Empty(t, usage.Recipients)
}

func TestComputeUsagePropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	reader := transferReaderFunc(func(context.Context, time.Time) ([]ledger.TransferTotal, error) {
		return nil, boom
	})
	_, err := ComputeUsage(context.Background(), reader, time.Time{})
	require.ErrorIs(t, err, boom)
}
