package sqlstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
	"github.com/R3E-Network/karma_ledger/internal/platform/migrations"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	dsn := SQLiteDSN(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, migrations.Apply(ctx, migrations.DriverSQLite, dsn))

	store, err := Open(ctx, DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustCreate(t *testing.T, store storage.LedgerStore, acct ledger.Account) ledger.Account {
	t.Helper()
	var out ledger.Account
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx storage.LedgerTx) error {
		var err error
		out, err = tx.CreateAccount(ctx, acct)
		return err
	})
	require.NoError(t, err)
	return out
}

func TestSQLiteAccountLifecycle(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	alice := mustCreate(t, store, ledger.Account{Handle: "alice", Karma: dec("12.5")})
	got, err := store.GetAccountByHandle(ctx, "ALICE")
	require.NoError(t, err)
	require.Equal(t, alice.ID, got.ID)
	require.True(t, got.Karma.Equal(dec("12.5")))

	err = store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		_, err := tx.CreateAccount(ctx, ledger.Account{Handle: "alice"})
		return err
	})
	require.ErrorIs(t, err, storage.ErrDuplicate)

	err = store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		_, err := tx.AdjustBalances(ctx, alice.ID, ledger.Delta{Karma: dec("-2.5"), Staked: dec("2.5")})
		return err
	})
	require.NoError(t, err)

	got, err = store.GetAccount(ctx, alice.ID)
	require.NoError(t, err)
	require.True(t, got.Karma.Equal(dec("10")))
	require.True(t, got.Staked.Equal(dec("2.5")))

	err = store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		_, err := tx.AdjustBalances(ctx, alice.ID, ledger.Delta{Karma: dec("-11")})
		return err
	})
	require.ErrorIs(t, err, storage.ErrInsufficientFunds)

	stakers, err := store.ListStakers(ctx)
	require.NoError(t, err)
	require.Len(t, stakers, 1)

	staked, err := store.SumStakedAmount(ctx)
	require.NoError(t, err)
	require.True(t, staked.Equal(dec("2.5")))

	err = store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		return tx.DeleteAccount(ctx, alice.ID)
	})
	require.NoError(t, err)
	_, err = store.GetAccount(ctx, alice.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLiteRollbackDiscardsWrites(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	acct := mustCreate(t, store, ledger.Account{Handle: "bob"})
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		if _, err := tx.CreditBalance(ctx, acct.ID, ledger.UnitKarma, dec("3")); err != nil {
			return err
		}
		if _, err := tx.LockProtocolState(ctx); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.True(t, got.Karma.IsZero())

	st, err := store.GetProtocolState(ctx)
	require.NoError(t, err)
	require.Nil(t, st.LastEmittedBlockID)
	require.True(t, st.UpdatedAt.IsZero())
}

func TestSQLiteProtocolStateAndBlocks(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		st, err := tx.LockProtocolState(ctx)
		if err != nil {
			return err
		}
		if st.LastProcessedAt != nil || st.LastEmittedBlockID != nil {
			return errors.New("fresh state should be empty")
		}
		id := int64(1)
		st.LastProcessedAt = &at
		st.LastEmittedBlockID = &id
		st.DeferredRewards = dec("100.123456789")
		st.UpdatedAt = at
		if err := tx.SaveProtocolState(ctx, st); err != nil {
			return err
		}
		_, err = tx.InsertProtocolBlock(ctx, protocol.Block{
			BlockID:     1,
			EmittedAt:   at,
			RewardTotal: dec("5"),
			Allocation: protocol.Allocation{
				Splits:              protocol.Splits{Stakers: dec("0.5"), DevCo: dec("0.75"), Validators: dec("0.25"), Foundation: dec("0.5"), Eligible: dec("3")},
				EligibleDistributed: dec("3"),
			},
			ProcessedTxCount: 1,
		})
		return err
	})
	require.NoError(t, err)

	st, err := store.GetProtocolState(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.LastProcessedAt)
	require.True(t, st.LastProcessedAt.Equal(at))
	require.Equal(t, int64(2), st.NextBlockID())
	require.True(t, st.DeferredRewards.Equal(dec("100.123456789")))

	blk, err := store.LatestBlock(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), blk.BlockID)
	require.True(t, blk.Allocation.Eligible.Equal(dec("3")))

	err = store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		_, err := tx.InsertProtocolBlock(ctx, protocol.Block{BlockID: 1, EmittedAt: at})
		return err
	})
	require.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestSQLiteTransferAggregation(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	a := mustCreate(t, store, ledger.Account{Handle: "a"})
	b := mustCreate(t, store, ledger.Account{Handle: "b"})
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	err := store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		pool, err := tx.GetOrCreateReservedAccount(ctx, protocol.StakersPool)
		if err != nil {
			return err
		}
		again, err := tx.GetOrCreateReservedAccount(ctx, protocol.StakersPool)
		if err != nil {
			return err
		}
		if again.ID != pool.ID {
			return errors.New("bucket account duplicated")
		}
		for _, entry := range []ledger.Transaction{
			{Type: ledger.TxSend, FromID: a.ID, ToID: b.ID, Karma: ledger.Amount(dec("0.1")), CreatedAt: since},
			{Type: ledger.TxSend, FromID: a.ID, ToID: b.ID, Karma: ledger.Amount(dec("0.2")), CreatedAt: since.Add(time.Second)},
			{Type: ledger.TxSend, FromID: b.ID, ToID: a.ID, Karma: ledger.Amount(dec("9")), CreatedAt: since.Add(-time.Millisecond)},
			{Type: ledger.TxSend, FromID: b.ID, ToID: pool.ID, Karma: ledger.Amount(dec("9")), CreatedAt: since.Add(time.Second)},
			{Type: ledger.TxMint, ToID: a.ID, Karma: ledger.Amount(dec("1")), CreatedAt: since.Add(time.Second), Metadata: map[string]any{"note": "seed"}},
		} {
			if _, err := tx.AppendTransaction(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	totals, err := store.SumTransfersByRecipient(ctx, since)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	require.Equal(t, b.ID, totals[0].AccountID)
	require.True(t, totals[0].Total.Equal(dec("0.3")), totals[0].Total.String())
	require.Equal(t, int64(2), totals[0].Count)

	count, err := store.CountTransfers(ctx, since)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	history, total, err := store.ListTransactions(ctx, ledger.HistoryQuery{AccountID: a.ID, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Len(t, history, 2)
	require.True(t, history[0].CreatedAt.Equal(since.Add(time.Second)))

	users, n, err := store.ListAccounts(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, users, 2)
}

func TestSQLiteConcurrentWritersSerialize(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	acct := mustCreate(t, store, ledger.Account{Handle: "counter"})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
				_, err := tx.CreditBalance(ctx, acct.ID, ledger.UnitKarma, dec("1"))
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.True(t, got.Karma.Equal(dec("20")))
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}
	ctx := context.Background()
	require.NoError(t, migrations.Apply(ctx, migrations.DriverPostgres, dsn))

	store, err := Open(ctx, DriverPostgres, dsn)
	require.NoError(t, err)
	defer store.Close()

	acct := mustCreate(t, store, ledger.Account{Handle: "it-" + time.Now().Format("150405.000000")})
	err = store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		if _, err := tx.LockProtocolState(ctx); err != nil {
			return err
		}
		_, err := tx.CreditBalance(ctx, acct.ID, ledger.UnitKarma, dec("1.5"))
		return err
	})
	require.NoError(t, err)

	got, err := store.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.True(t, got.Karma.Equal(dec("1.5")))
}

func TestSQLiteReferrals(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	alice := mustCreate(t, store, ledger.Account{Handle: "alice"})
	bob := mustCreate(t, store, ledger.Account{Handle: "bob"})

	_, err := store.GetReferral(ctx, bob.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	var ref ledger.Referral
	err = store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		var err error
		ref, err = tx.CreateReferral(ctx, ledger.Referral{InviteeID: bob.ID, InviterID: alice.ID})
		return err
	})
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		_, err := tx.CreateReferral(ctx, ledger.Referral{InviteeID: bob.ID, InviterID: alice.ID})
		return err
	})
	require.ErrorIs(t, err, storage.ErrDuplicate)

	var first, second bool
	err = store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		var err error
		if first, err = tx.MarkReferralRewarded(ctx, ref.ID); err != nil {
			return err
		}
		second, err = tx.MarkReferralRewarded(ctx, ref.ID)
		return err
	})
	require.NoError(t, err)
	require.True(t, first)
	require.False(t, second)

	got, err := store.GetReferral(ctx, bob.ID)
	require.NoError(t, err)
	require.Equal(t, alice.ID, got.InviterID)
	require.True(t, got.Rewarded)

	// Deleting the inviter drops the referral with it.
	err = store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		return tx.DeleteAccount(ctx, alice.ID)
	})
	require.NoError(t, err)
	_, err = store.GetReferral(ctx, bob.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLiteWindowedAggregates(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	a := mustCreate(t, store, ledger.Account{Handle: "a"})
	b := mustCreate(t, store, ledger.Account{Handle: "b"})
	until := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	since := until.Add(-time.Hour)

	err := store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		for _, entry := range []ledger.Transaction{
			{Type: ledger.TxMint, ToID: a.ID, Karma: ledger.Amount(dec("1.25")), CreatedAt: since},
			{Type: ledger.TxMint, ToID: a.ID, Karma: ledger.Amount(dec("0.75")), CreatedAt: until},
			{Type: ledger.TxMint, ToID: a.ID, Karma: ledger.Amount(dec("100")), CreatedAt: since.Add(-time.Second)},
			{Type: ledger.TxSend, ActorID: a.ID, FromID: a.ID, ToID: b.ID, Karma: ledger.Amount(dec("0.5")), CreatedAt: since.Add(time.Minute)},
			{Type: ledger.TxSend, ActorID: a.ID, FromID: a.ID, ToID: b.ID, Karma: ledger.Amount(dec("0.5")), CreatedAt: since.Add(2 * time.Minute)},
			{Type: ledger.TxSwap, ActorID: b.ID, Karma: ledger.Amount(dec("2")), Chiliz: ledger.Amount(dec("2")), CreatedAt: since.Add(3 * time.Minute)},
		} {
			if _, err := tx.AppendTransaction(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	totals, err := store.SumTransactionsByType(ctx, since, until)
	require.NoError(t, err)
	require.Len(t, totals, 3)
	require.Equal(t, ledger.TxMint, totals[0].Type)
	require.Equal(t, int64(2), totals[0].Count)
	require.True(t, totals[0].Karma.Equal(dec("2")), totals[0].Karma.String())
	require.Equal(t, ledger.TxSend, totals[1].Type)
	require.True(t, totals[1].Karma.Equal(dec("1")))
	require.Equal(t, ledger.TxSwap, totals[2].Type)
	require.True(t, totals[2].Chiliz.Equal(dec("2")))

	active, err := store.CountActiveSenders(ctx, since)
	require.NoError(t, err)
	require.Equal(t, int64(1), active)
}
