package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
)

// ledgerTx is the storage.LedgerTx bound to one open database transaction.
type ledgerTx struct {
	reader
	tx  *sqlx.Tx
	now func() time.Time
}

var _ storage.LedgerTx = (*ledgerTx)(nil)

func (t *ledgerTx) CreateAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = t.now()
	}
	acct.CreatedAt = stamp(acct.CreatedAt)
	acct.UpdatedAt = acct.CreatedAt
	acct.Reserved = acct.Reserved || acct.ReservedKey != ""
	acct = ledger.Delta{}.Apply(acct)

	_, err := t.tx.ExecContext(ctx, t.rebind(`
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), acct.ID, acct.Handle, nullString(acct.ReservedKey), acct.Reserved, acct.Event,
		acct.Karma, acct.Chiliz, acct.Staked, acct.RewardsEarned, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Account{}, fmt.Errorf("account %s: %w", acct.Handle, storage.ErrDuplicate)
		}
		return ledger.Account{}, fmt.Errorf("create account: %w", err)
	}
	return acct, nil
}

func (t *ledgerTx) DeleteAccount(ctx context.Context, id string) error {
	acct, err := t.LockAccount(ctx, id)
	if err != nil {
		return err
	}
	if acct.Reserved {
		return fmt.Errorf("account %s: %w", id, storage.ErrReservedAccount)
	}
	if _, err := t.tx.ExecContext(ctx, t.rebind(`DELETE FROM accounts WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	return nil
}

// GetOrCreateReservedAccount relies on the unique reserved_key so concurrent
// creators converge on one row.
func (t *ledgerTx) GetOrCreateReservedAccount(ctx context.Context, bucket protocol.Bucket) (ledger.Account, error) {
	now := stamp(t.now())
	_, err := t.tx.ExecContext(ctx, t.rebind(`
		INSERT INTO accounts (id, handle, reserved_key, is_reserved, is_event, karma_balance, chiliz_balance,
			staked_amount, rewards_earned, created_at, updated_at)
		VALUES (?, ?, ?, TRUE, FALSE, 0, 0, 0, 0, ?, ?)
		ON CONFLICT (reserved_key) DO NOTHING
	`), uuid.NewString(), bucket.Handle(), bucket.Key(), now, now)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("ensure bucket %s: %w", bucket, err)
	}
	return t.GetReservedAccount(ctx, bucket)
}

func (t *ledgerTx) LockAccount(ctx context.Context, id string) (ledger.Account, error) {
	acct, err := t.getAccountWhere(ctx, `id = ?`, true, id)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("account %s: %w", id, err)
	}
	return acct, nil
}

func (t *ledgerTx) AdjustBalances(ctx context.Context, id string, delta ledger.Delta) (ledger.Account, error) {
	acct, err := t.LockAccount(ctx, id)
	if err != nil {
		return ledger.Account{}, err
	}
	next := delta.Apply(acct)
	if ledger.Negative(next) {
		return ledger.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrInsufficientFunds)
	}
	next.UpdatedAt = stamp(t.now())

	_, err = t.tx.ExecContext(ctx, t.rebind(`
		UPDATE accounts
		SET karma_balance = ?, chiliz_balance = ?, staked_amount = ?, rewards_earned = ?, updated_at = ?
		WHERE id = ?
	`), next.Karma, next.Chiliz, next.Staked, next.RewardsEarned, next.UpdatedAt, id)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("update balances %s: %w", id, err)
	}
	return next, nil
}

func (t *ledgerTx) CreditBalance(ctx context.Context, id string, unit ledger.Unit, amount decimal.Decimal) (ledger.Account, error) {
	return t.AdjustBalances(ctx, id, storage.CreditDelta(unit, amount))
}

func (t *ledgerTx) CreditRewardsEarned(ctx context.Context, id string, amount decimal.Decimal) (ledger.Account, error) {
	return t.AdjustBalances(ctx, id, ledger.Delta{RewardsEarned: amount})
}

func (t *ledgerTx) AppendTransaction(ctx context.Context, entry ledger.Transaction) (ledger.Transaction, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.now()
	}
	entry.CreatedAt = stamp(entry.CreatedAt)

	meta, err := jsonText(entry.Metadata)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("encode metadata: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, t.rebind(`
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), entry.ID, entry.CreatedAt, string(entry.Type), nullString(entry.ActorID), nullString(entry.FromID),
		nullString(entry.ToID), nullDecimal(entry.Karma), nullDecimal(entry.Chiliz), meta, nullInt(entry.BlockID))
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("append %s transaction: %w", entry.Type, err)
	}
	return entry, nil
}

func (t *ledgerTx) CreateReferral(ctx context.Context, ref ledger.Referral) (ledger.Referral, error) {
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = t.now()
	}
	ref.CreatedAt = stamp(ref.CreatedAt)

	_, err := t.tx.ExecContext(ctx, t.rebind(`
		INSERT INTO referrals (`+referralColumns+`)
		VALUES (?, ?, ?, ?, ?)
	`), ref.ID, ref.InviteeID, ref.InviterID, ref.Rewarded, ref.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Referral{}, fmt.Errorf("referral for %s: %w", ref.InviteeID, storage.ErrDuplicate)
		}
		return ledger.Referral{}, fmt.Errorf("create referral: %w", err)
	}
	return ref, nil
}

// MarkReferralRewarded guards on the current flag so concurrent senders
// cannot both claim the bonus.
func (t *ledgerTx) MarkReferralRewarded(ctx context.Context, id string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.rebind(`UPDATE referrals SET rewarded = TRUE WHERE id = ? AND NOT rewarded`), id)
	if err != nil {
		return false, fmt.Errorf("mark referral %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark referral %s: %w", id, err)
	}
	return rows > 0, nil
}

// LockProtocolState creates the singleton row if needed, then reads it. On
// PostgreSQL the read holds a row lock; on SQLite the immediate transaction
// already holds the database write lock.
func (t *ledgerTx) LockProtocolState(ctx context.Context) (protocol.State, error) {
	now := stamp(t.now())
	_, err := t.tx.ExecContext(ctx, t.rebind(`
		INSERT INTO protocol_state (id, deferred_rewards, saturated_days, updated_at)
		VALUES (1, 0, 0, ?)
		ON CONFLICT (id) DO NOTHING
	`), now)
	if err != nil {
		return protocol.State{}, fmt.Errorf("ensure protocol state: %w", err)
	}
	st, err := t.getProtocolState(ctx, true)
	if err != nil {
		return protocol.State{}, fmt.Errorf("lock protocol state: %w", err)
	}
	return st, nil
}

func (t *ledgerTx) SaveProtocolState(ctx context.Context, st protocol.State) error {
	window, err := jsonText(st.UtilizationWindow)
	if err != nil {
		return fmt.Errorf("encode utilization window: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, t.rebind(`
		UPDATE protocol_state
		SET last_processed_ts = ?, last_emitted_block_id = ?, deferred_rewards = ?,
			utilization_window = ?, saturated_days = ?, updated_at = ?
		WHERE id = 1
	`), nullTime(st.LastProcessedAt), nullInt(st.LastEmittedBlockID), st.DeferredRewards,
		window, st.SaturatedDays, stamp(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save protocol state: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("protocol state: %w", storage.ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) InsertProtocolBlock(ctx context.Context, blk protocol.Block) (protocol.Block, error) {
	if blk.ID == "" {
		blk.ID = uuid.NewString()
	}
	blk.EmittedAt = stamp(blk.EmittedAt)
	splits, err := jsonText(blk.Allocation)
	if err != nil {
		return protocol.Block{}, fmt.Errorf("encode allocation: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, t.rebind(`
		INSERT INTO protocol_blocks (`+blockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`), blk.ID, blk.BlockID, blk.EmittedAt, blk.RewardTotal, splits, blk.ProcessedTxCount)
	if err != nil {
		if isUniqueViolation(err) {
			return protocol.Block{}, fmt.Errorf("block %d: %w", blk.BlockID, storage.ErrDuplicate)
		}
		return protocol.Block{}, fmt.Errorf("insert block %d: %w", blk.BlockID, err)
	}
	return blk, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
