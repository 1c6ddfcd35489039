// Package testutil provides ledger fixtures shared by service tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
)

// Epoch is the first instant handed out by a StepClock.
var Epoch = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// StepClock advances by a fixed step on every reading, so consecutive writes
// get distinct, ordered timestamps.
type StepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

// NewStepClock starts at Epoch. A non-positive step defaults to one second.
func NewStepClock(step time.Duration) *StepClock {
	if step <= 0 {
		step = time.Second
	}
	return &StepClock{t: Epoch, step: step}
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

// CreateAccount inserts acct directly, bypassing handle validation.
func CreateAccount(t testing.TB, store storage.LedgerStore, acct ledger.Account) ledger.Account {
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

// Transfer moves Karma between two accounts and logs the send.
func Transfer(t testing.TB, store storage.LedgerStore, from, to ledger.Account, amount decimal.Decimal) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx storage.LedgerTx) error {
		if _, err := tx.AdjustBalances(ctx, from.ID, ledger.Delta{Karma: amount.Neg()}); err != nil {
			return err
		}
		if _, err := tx.AdjustBalances(ctx, to.ID, ledger.Delta{Karma: amount}); err != nil {
			return err
		}
		_, err := tx.AppendTransaction(ctx, ledger.Transaction{
			Type:    ledger.TxSend,
			ActorID: from.ID,
			FromID:  from.ID,
			ToID:    to.ID,
			Karma:   ledger.Amount(amount),
		})
		return err
	})
	require.NoError(t, err)
}

// RecordingPublisher keeps every block it is handed.
type RecordingPublisher struct {
	mu     sync.Mutex
	blocks []protocol.Block
}

func (p *RecordingPublisher) PublishBlock(_ context.Context, blk protocol.Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks = append(p.blocks, blk)
	return nil
}

// Blocks returns a copy of the recorded blocks.
func (p *RecordingPublisher) Blocks() []protocol.Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Block(nil), p.blocks...)
}
