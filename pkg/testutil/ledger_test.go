package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
	"github.com/R3E-Network/karma_ledger/internal/app/storage/memory"
)

func TestStepClockIsMonotonic(t *testing.T) {
	c := NewStepClock(time.Millisecond)
	first := c.Now()
	require.Equal(t, Epoch.Add(time.Millisecond), first)
	require.True(t, c.Now().After(first))
}

func TestTransferMovesKarma(t *testing.T) {
	store := memory.New()
	a := CreateAccount(t, store, ledger.Account{Handle: "alice", Karma: decimal.NewFromInt(10)})
	b := CreateAccount(t, store, ledger.Account{Handle: "bob"})

	Transfer(t, store, a, b, decimal.NewFromInt(4))

	got, err := store.GetAccount(context.Background(), b.ID)
	require.NoError(t, err)
	require.True(t, got.Karma.Equal(decimal.NewFromInt(4)))

	n, err := store.CountTransfers(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestRecordingPublisherCopies(t *testing.T) {
	var p RecordingPublisher
	require.NoError(t, p.PublishBlock(context.Background(), protocol.Block{BlockID: 1}))
	blocks := p.Blocks()
	blocks[0].BlockID = 99
	require.Equal(t, int64(1), p.Blocks()[0].BlockID)
}
