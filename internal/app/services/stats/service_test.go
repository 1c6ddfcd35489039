package stats

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/services/emission"
	"github.com/R3E-Network/karma_ledger/internal/app/services/wallets"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
	"github.com/R3E-Network/karma_ledger/internal/app/storage/memory"
	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

func TestNetworkBeforeAnyEmission(t *testing.T) {
	out, err := New(memory.New()).Network(context.Background())
	require.NoError(t, err)
	require.Nil(t, out.LastBlockID)
	require.True(t, out.FoundationBalance.IsZero())
	require.Zero(t, out.Users)
}

func TestNetworkAfterEmission(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		for _, h := range []string{"alice", "bob"} {
			if _, err := tx.CreateAccount(ctx, ledger.Account{Handle: h}); err != nil {
				return err
			}
		}
		return nil
	}))

	w := wallets.New(store, logger.NewNop())
	_, err := w.Mint(ctx, "alice", ledger.UnitKarma, decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = w.Send(ctx, "alice", "bob", decimal.NewFromInt(100))
	require.NoError(t, err)

	_, err = emission.New(store, emission.DefaultConfig(), logger.NewNop()).RunOnce(ctx)
	require.NoError(t, err)

	out, err := New(store).Network(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), out.Users)
	require.Equal(t, int64(1), out.Transfers)
	require.True(t, out.Minted.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, out.LastBlockID)
	require.Equal(t, int64(1), *out.LastBlockID)
	require.Equal(t, "0.500", out.FoundationBalance.StringFixed(3))
	// Buckets are excluded: only alice's 0 and bob's 103 are in circulation.
	require.Equal(t, "103.000", out.Circulation.StringFixed(3))
}
