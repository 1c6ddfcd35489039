// Package sqlstore implements storage.LedgerStore on PostgreSQL and SQLite
// through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Store implements storage.LedgerStore backed by a SQL database.
type Store struct {
	reader
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.LedgerStore = (*Store)(nil)

// New wraps an existing handle. The driver name of db selects the dialect.
func New(db *sqlx.DB) *Store {
	return &Store{
		reader: reader{q: db, postgres: db.DriverName() == DriverPostgres},
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Open connects to the database and applies per-dialect pool settings.
// SQLite is limited to a single connection so writers are serialized.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return New(db), nil
}

// SQLiteDSN builds a DSN for a file database with immediate write locks,
// a busy timeout and foreign keys enabled.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
}

// WithClock overrides the timestamp source for rows the caller does not stamp.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// DB exposes the underlying handle.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// WithinTx runs fn in one database transaction, committing only when fn
// returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.LedgerTx) error) (err error) {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &ledgerTx{reader: reader{q: sqlTx, postgres: s.postgres}, tx: sqlTx, now: s.now}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// reader holds the queries shared by the pool and open transactions.
type reader struct {
	q        sqlx.ExtContext
	postgres bool
}

func (r reader) rebind(query string) string {
	return r.q.Rebind(query)
}

// forUpdate returns the row-lock suffix for dialects that support it.
func (r reader) forUpdate() string {
	if r.postgres {
		return " FOR UPDATE"
	}
	return ""
}

func (r reader) getAccountWhere(ctx context.Context, where string, lock bool, args ...any) (ledger.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where
	if lock {
		query += r.forUpdate()
	}
	var row accountRow
	if err := sqlx.GetContext(ctx, r.q, &row, r.rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, storage.ErrNotFound
		}
		return ledger.Account{}, err
	}
	return row.toDomain(), nil
}

func (r reader) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	acct, err := r.getAccountWhere(ctx, `id = ?`, false, id)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("account %s: %w", id, err)
	}
	return acct, nil
}

func (r reader) GetAccountByHandle(ctx context.Context, handle string) (ledger.Account, error) {
	acct, err := r.getAccountWhere(ctx, `LOWER(handle) = LOWER(?)`, false, handle)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("account %s: %w", handle, err)
	}
	return acct, nil
}

func (r reader) GetReservedAccount(ctx context.Context, bucket protocol.Bucket) (ledger.Account, error) {
	acct, err := r.getAccountWhere(ctx, `reserved_key = ?`, false, bucket.Key())
	if err != nil {
		return ledger.Account{}, fmt.Errorf("bucket %s: %w", bucket, err)
	}
	return acct, nil
}

func (r reader) ListAccounts(ctx context.Context, limit, offset int) ([]ledger.Account, int, error) {
	var total int
	if err := sqlx.GetContext(ctx, r.q, &total, `SELECT COUNT(*) FROM accounts WHERE NOT is_reserved`); err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE NOT is_reserved ORDER BY created_at, id` + r.pageClause(limit, offset)
	var rows []accountRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.rebind(query)); err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]ledger.Account, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, total, nil
}

func (r reader) ListTransactions(ctx context.Context, q ledger.HistoryQuery) ([]ledger.Transaction, int, error) {
	where, args := "1 = 1", []any{}
	if q.AccountID != "" {
		where = "(actor_id = ? OR from_id = ? OR to_id = ?)"
		args = append(args, q.AccountID, q.AccountID, q.AccountID)
	}
	var total int
	if err := sqlx.GetContext(ctx, r.q, &total, r.rebind(`SELECT COUNT(*) FROM transactions WHERE `+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	order := "DESC"
	if q.Ascending {
		order = "ASC"
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + where +
		` ORDER BY created_at ` + order + `, id ` + order + r.pageClause(q.Limit, q.Offset)
	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.rebind(query), args...); err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := row.toDomain()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, tx)
	}
	return out, total, nil
}

const transfersFrom = ` FROM transactions t JOIN accounts a ON a.id = t.to_id
	WHERE t.type = ? AND t.created_at >= ? AND t.amount_karma IS NOT NULL AND NOT a.is_reserved`

// SumTransfersByRecipient aggregates in Go so both dialects add decimals
// exactly.
func (r reader) SumTransfersByRecipient(ctx context.Context, since time.Time) ([]ledger.TransferTotal, error) {
	var rows []struct {
		ToID   string          `db:"to_id"`
		Amount decimal.Decimal `db:"amount_karma"`
	}
	query := `SELECT t.to_id, t.amount_karma` + transfersFrom + ` ORDER BY t.to_id`
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.rebind(query), string(ledger.TxSend), stamp(since)); err != nil {
		return nil, fmt.Errorf("sum transfers: %w", err)
	}
	var out []ledger.TransferTotal
	for _, row := range rows {
		if n := len(out); n > 0 && out[n-1].AccountID == row.ToID {
			out[n-1].Total = out[n-1].Total.Add(row.Amount)
			out[n-1].Count++
			continue
		}
		out = append(out, ledger.TransferTotal{AccountID: row.ToID, Total: row.Amount, Count: 1})
	}
	return out, nil
}

func (r reader) CountTransfers(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	query := `SELECT COUNT(*)` + transfersFrom
	if err := sqlx.GetContext(ctx, r.q, &n, r.rebind(query), string(ledger.TxSend), stamp(since)); err != nil {
		return 0, fmt.Errorf("count transfers: %w", err)
	}
	return n, nil
}

func (r reader) ListStakers(ctx context.Context) ([]ledger.Account, error) {
	// The CAST keeps the comparison numeric for SQLite TEXT columns.
	query := `SELECT ` + accountColumns + ` FROM accounts
		WHERE NOT is_reserved AND CAST(staked_amount AS REAL) > 0 ORDER BY id`
	var rows []accountRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.rebind(query)); err != nil {
		return nil, fmt.Errorf("list stakers: %w", err)
	}
	out := make([]ledger.Account, 0, len(rows))
	for _, row := range rows {
		if row.Staked.IsPositive() {
			out = append(out, row.toDomain())
		}
	}
	return out, nil
}

func (r reader) SumStakedAmount(ctx context.Context) (decimal.Decimal, error) {
	stakers, err := r.ListStakers(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, acct := range stakers {
		total = total.Add(acct.Staked)
	}
	return total, nil
}

// NetworkTotals is display-only; SQLite sums TEXT decimals as floating point.
func (r reader) NetworkTotals(ctx context.Context) (ledger.Totals, error) {
	var totals ledger.Totals
	var acc struct {
		Users   int64               `db:"users"`
		Karma   decimal.NullDecimal `db:"karma"`
		Chiliz  decimal.NullDecimal `db:"chiliz"`
		Staked  decimal.NullDecimal `db:"staked"`
		Rewards decimal.NullDecimal `db:"rewards"`
	}
	err := sqlx.GetContext(ctx, r.q, &acc, `
		SELECT COUNT(*) AS users,
		       SUM(karma_balance) AS karma,
		       SUM(chiliz_balance) AS chiliz,
		       SUM(staked_amount) AS staked,
		       SUM(rewards_earned) AS rewards
		FROM accounts WHERE NOT is_reserved`)
	if err != nil {
		return totals, fmt.Errorf("account totals: %w", err)
	}
	totals.Users = acc.Users
	totals.Karma = acc.Karma.Decimal
	totals.Chiliz = acc.Chiliz.Decimal
	totals.Staked = acc.Staked.Decimal
	totals.RewardsEarned = acc.Rewards.Decimal

	var tx struct {
		Transfers   int64               `db:"transfers"`
		Transferred decimal.NullDecimal `db:"transferred"`
		Minted      decimal.NullDecimal `db:"minted"`
	}
	err = sqlx.GetContext(ctx, r.q, &tx, r.rebind(`
		SELECT COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0) AS transfers,
		       SUM(CASE WHEN type = ? THEN amount_karma END) AS transferred,
		       SUM(CASE WHEN type = ? THEN amount_karma END) AS minted
		FROM transactions WHERE amount_karma IS NOT NULL`),
		string(ledger.TxSend), string(ledger.TxSend), string(ledger.TxMint))
	if err != nil {
		return totals, fmt.Errorf("transaction totals: %w", err)
	}
	totals.Transfers = tx.Transfers
	totals.Transferred = tx.Transferred.Decimal
	totals.Minted = tx.Minted.Decimal
	return totals, nil
}

// SumTransactionsByType aggregates in Go so both dialects add decimals
// exactly.
func (r reader) SumTransactionsByType(ctx context.Context, since, until time.Time) ([]ledger.TypeTotal, error) {
	var rows []struct {
		Type   string              `db:"type"`
		Karma  decimal.NullDecimal `db:"amount_karma"`
		Chiliz decimal.NullDecimal `db:"amount_chiliz"`
	}
	query := `SELECT type, amount_karma, amount_chiliz FROM transactions
		WHERE created_at >= ? AND created_at <= ? ORDER BY type`
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.rebind(query), stamp(since), stamp(until)); err != nil {
		return nil, fmt.Errorf("sum transactions by type: %w", err)
	}
	var out []ledger.TypeTotal
	for _, row := range rows {
		n := len(out)
		if n == 0 || out[n-1].Type != ledger.TxType(row.Type) {
			out = append(out, ledger.TypeTotal{Type: ledger.TxType(row.Type)})
			n++
		}
		agg := &out[n-1]
		agg.Count++
		if row.Karma.Valid {
			agg.Karma = agg.Karma.Add(row.Karma.Decimal)
		}
		if row.Chiliz.Valid {
			agg.Chiliz = agg.Chiliz.Add(row.Chiliz.Decimal)
		}
	}
	return out, nil
}

func (r reader) CountActiveSenders(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	query := `SELECT COUNT(DISTINCT actor_id) FROM transactions
		WHERE type = ? AND created_at >= ? AND actor_id IS NOT NULL`
	if err := sqlx.GetContext(ctx, r.q, &n, r.rebind(query), string(ledger.TxSend), stamp(since)); err != nil {
		return 0, fmt.Errorf("count active senders: %w", err)
	}
	return n, nil
}

func (r reader) GetReferral(ctx context.Context, inviteeID string) (ledger.Referral, error) {
	var row referralRow
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE invitee_id = ?`
	if err := sqlx.GetContext(ctx, r.q, &row, r.rebind(query), inviteeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Referral{}, fmt.Errorf("referral for %s: %w", inviteeID, storage.ErrNotFound)
		}
		return ledger.Referral{}, fmt.Errorf("get referral: %w", err)
	}
	return row.toDomain(), nil
}

func (r reader) getProtocolState(ctx context.Context, lock bool) (protocol.State, error) {
	query := `SELECT last_processed_ts, last_emitted_block_id, deferred_rewards, utilization_window,
		saturated_days, updated_at FROM protocol_state WHERE id = 1`
	if lock {
		query += r.forUpdate()
	}
	var row stateRow
	if err := sqlx.GetContext(ctx, r.q, &row, query); err != nil {
		return protocol.State{}, err
	}
	return row.toDomain()
}

func (r reader) GetProtocolState(ctx context.Context) (protocol.State, error) {
	st, err := r.getProtocolState(ctx, false)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.State{DeferredRewards: decimal.Zero}, nil
	}
	if err != nil {
		return protocol.State{}, fmt.Errorf("protocol state: %w", err)
	}
	return st, nil
}

func (r reader) LatestBlock(ctx context.Context) (protocol.Block, error) {
	blocks, err := r.ListBlocks(ctx, 1)
	if err != nil {
		return protocol.Block{}, err
	}
	if len(blocks) == 0 {
		return protocol.Block{}, fmt.Errorf("protocol block: %w", storage.ErrNotFound)
	}
	return blocks[0], nil
}

func (r reader) ListBlocks(ctx context.Context, limit int) ([]protocol.Block, error) {
	query := `SELECT ` + blockColumns + ` FROM protocol_blocks ORDER BY block_id DESC` + r.pageClause(limit, 0)
	var rows []blockRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query); err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	out := make([]protocol.Block, 0, len(rows))
	for _, row := range rows {
		blk, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, blk)
	}
	return out, nil
}

func (r reader) pageClause(limit, offset int) string {
	var b strings.Builder
	switch {
	case limit > 0:
		fmt.Fprintf(&b, " LIMIT %d", limit)
	case offset > 0 && !r.postgres:
		// SQLite requires a LIMIT before OFFSET.
		b.WriteString(" LIMIT -1")
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}
