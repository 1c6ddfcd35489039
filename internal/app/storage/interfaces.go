package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrReservedAccount   = errors.New("reserved account")
)

// LedgerReader exposes read-only account and transaction-log queries. Reserved
// accounts never appear in listings or transfer aggregates.
type LedgerReader interface {
	GetAccount(ctx context.Context, id string) (ledger.Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (ledger.Account, error)
	GetReservedAccount(ctx context.Context, bucket protocol.Bucket) (ledger.Account, error)
	ListAccounts(ctx context.Context, limit, offset int) ([]ledger.Account, int, error)
	ListTransactions(ctx context.Context, q ledger.HistoryQuery) ([]ledger.Transaction, int, error)

	// SumTransfersByRecipient groups peer transfers created at or after since
	// by non-reserved recipient, ordered by account ID.
	SumTransfersByRecipient(ctx context.Context, since time.Time) ([]ledger.TransferTotal, error)
	// CountTransfers counts the transfers SumTransfersByRecipient aggregates.
	CountTransfers(ctx context.Context, since time.Time) (int64, error)
	SumStakedAmount(ctx context.Context) (decimal.Decimal, error)
	// ListStakers returns non-reserved accounts with a positive stake,
	// ordered by account ID.
	ListStakers(ctx context.Context) ([]ledger.Account, error)

	NetworkTotals(ctx context.Context) (ledger.Totals, error)
	// SumTransactionsByType groups log entries created within [since, until]
	// by type, ordered by type.
	SumTransactionsByType(ctx context.Context, since, until time.Time) ([]ledger.TypeTotal, error)
	// CountActiveSenders counts distinct actors of transfers created at or
	// after since.
	CountActiveSenders(ctx context.Context, since time.Time) (int64, error)

	// GetReferral returns the referral recorded for an invitee.
	GetReferral(ctx context.Context, inviteeID string) (ledger.Referral, error)
}

// ProtocolReader exposes the emission state and block history to read-only
// consumers.
type ProtocolReader interface {
	// GetProtocolState returns the zero State when no run has happened yet.
	GetProtocolState(ctx context.Context) (protocol.State, error)
	LatestBlock(ctx context.Context) (protocol.Block, error)
	// ListBlocks returns up to limit blocks, most recent first.
	ListBlocks(ctx context.Context, limit int) ([]protocol.Block, error)
}

// LedgerTx is one atomic read-modify-write scope. Nothing written through it
// is visible to other callers until the enclosing WithinTx returns nil.
type LedgerTx interface {
	LedgerReader
	ProtocolReader

	CreateAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	GetOrCreateReservedAccount(ctx context.Context, bucket protocol.Bucket) (ledger.Account, error)
	// LockAccount reads an account and holds it against concurrent writers
	// until the scope ends.
	LockAccount(ctx context.Context, id string) (ledger.Account, error)
	// AdjustBalances applies a signed delta; it fails with ErrInsufficientFunds
	// when any resulting balance would be negative.
	AdjustBalances(ctx context.Context, id string, delta ledger.Delta) (ledger.Account, error)
	CreditBalance(ctx context.Context, id string, unit ledger.Unit, amount decimal.Decimal) (ledger.Account, error)
	CreditRewardsEarned(ctx context.Context, id string, amount decimal.Decimal) (ledger.Account, error)
	AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)

	// CreateReferral fails with ErrDuplicate when the invitee already has one.
	CreateReferral(ctx context.Context, ref ledger.Referral) (ledger.Referral, error)
	// MarkReferralRewarded flips the rewarded flag and reports whether this
	// call was the one that flipped it.
	MarkReferralRewarded(ctx context.Context, id string) (bool, error)

	// LockProtocolState loads the singleton state, creating it when absent,
	// and serializes concurrent scopes on it.
	LockProtocolState(ctx context.Context) (protocol.State, error)
	SaveProtocolState(ctx context.Context, state protocol.State) error
	InsertProtocolBlock(ctx context.Context, block protocol.Block) (protocol.Block, error)
}

// LedgerStore is the durable ledger. WithinTx runs fn atomically: if fn
// returns an error every write it made is discarded.
type LedgerStore interface {
	LedgerReader
	ProtocolReader
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

// CreditDelta builds the delta adding amount to the liquid balance of unit.
func CreditDelta(unit ledger.Unit, amount decimal.Decimal) ledger.Delta {
	if unit == ledger.UnitChiliz {
		return ledger.Delta{Chiliz: amount}
	}
	return ledger.Delta{Karma: amount}
}
