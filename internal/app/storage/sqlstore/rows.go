package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
)

const accountColumns = `id, handle, reserved_key, is_reserved, is_event, karma_balance, chiliz_balance,
	staked_amount, rewards_earned, created_at, updated_at`

type accountRow struct {
	ID            string          `db:"id"`
	Handle        string          `db:"handle"`
	ReservedKey   sql.NullString  `db:"reserved_key"`
	Reserved      bool            `db:"is_reserved"`
	Event         bool            `db:"is_event"`
	Karma         decimal.Decimal `db:"karma_balance"`
	Chiliz        decimal.Decimal `db:"chiliz_balance"`
	Staked        decimal.Decimal `db:"staked_amount"`
	RewardsEarned decimal.Decimal `db:"rewards_earned"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func (r accountRow) toDomain() ledger.Account {
	return ledger.Account{
		ID:            r.ID,
		Handle:        r.Handle,
		ReservedKey:   r.ReservedKey.String,
		Reserved:      r.Reserved,
		Event:         r.Event,
		Karma:         r.Karma,
		Chiliz:        r.Chiliz,
		Staked:        r.Staked,
		RewardsEarned: r.RewardsEarned,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

const transactionColumns = `id, created_at, type, actor_id, from_id, to_id, amount_karma, amount_chiliz,
	metadata, block_id`

type transactionRow struct {
	ID        string              `db:"id"`
	CreatedAt time.Time           `db:"created_at"`
	Type      string              `db:"type"`
	ActorID   sql.NullString      `db:"actor_id"`
	FromID    sql.NullString      `db:"from_id"`
	ToID      sql.NullString      `db:"to_id"`
	Karma     decimal.NullDecimal `db:"amount_karma"`
	Chiliz    decimal.NullDecimal `db:"amount_chiliz"`
	Metadata  []byte              `db:"metadata"`
	BlockID   sql.NullInt64       `db:"block_id"`
}

func (r transactionRow) toDomain() (ledger.Transaction, error) {
	tx := ledger.Transaction{
		ID:        r.ID,
		CreatedAt: r.CreatedAt.UTC(),
		Type:      ledger.TxType(r.Type),
		ActorID:   r.ActorID.String,
		FromID:    r.FromID.String,
		ToID:      r.ToID.String,
	}
	if r.Karma.Valid {
		tx.Karma = ledger.Amount(r.Karma.Decimal)
	}
	if r.Chiliz.Valid {
		tx.Chiliz = ledger.Amount(r.Chiliz.Decimal)
	}
	if r.BlockID.Valid {
		id := r.BlockID.Int64
		tx.BlockID = &id
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &tx.Metadata); err != nil {
			return ledger.Transaction{}, fmt.Errorf("transaction %s metadata: %w", r.ID, err)
		}
	}
	return tx, nil
}

const referralColumns = `id, invitee_id, inviter_id, rewarded, created_at`

type referralRow struct {
	ID        string    `db:"id"`
	InviteeID string    `db:"invitee_id"`
	InviterID string    `db:"inviter_id"`
	Rewarded  bool      `db:"rewarded"`
	CreatedAt time.Time `db:"created_at"`
}

func (r referralRow) toDomain() ledger.Referral {
	return ledger.Referral{
		ID:        r.ID,
		InviteeID: r.InviteeID,
		InviterID: r.InviterID,
		Rewarded:  r.Rewarded,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type stateRow struct {
	LastProcessedAt    sql.NullTime    `db:"last_processed_ts"`
	LastEmittedBlockID sql.NullInt64   `db:"last_emitted_block_id"`
	DeferredRewards    decimal.Decimal `db:"deferred_rewards"`
	UtilizationWindow  []byte          `db:"utilization_window"`
	SaturatedDays      int             `db:"saturated_days"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

func (r stateRow) toDomain() (protocol.State, error) {
	st := protocol.State{
		DeferredRewards: r.DeferredRewards,
		SaturatedDays:   r.SaturatedDays,
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.LastProcessedAt.Valid {
		ts := r.LastProcessedAt.Time.UTC()
		st.LastProcessedAt = &ts
	}
	if r.LastEmittedBlockID.Valid {
		id := r.LastEmittedBlockID.Int64
		st.LastEmittedBlockID = &id
	}
	if len(r.UtilizationWindow) > 0 {
		if err := json.Unmarshal(r.UtilizationWindow, &st.UtilizationWindow); err != nil {
			return protocol.State{}, fmt.Errorf("utilization window: %w", err)
		}
	}
	return st, nil
}

const blockColumns = `id, block_id, emitted_at, reward_total, splits_applied, processed_tx_count`

type blockRow struct {
	ID               string          `db:"id"`
	BlockID          int64           `db:"block_id"`
	EmittedAt        time.Time       `db:"emitted_at"`
	RewardTotal      decimal.Decimal `db:"reward_total"`
	SplitsApplied    []byte          `db:"splits_applied"`
	ProcessedTxCount int64           `db:"processed_tx_count"`
}

func (r blockRow) toDomain() (protocol.Block, error) {
	blk := protocol.Block{
		ID:               r.ID,
		BlockID:          r.BlockID,
		EmittedAt:        r.EmittedAt.UTC(),
		RewardTotal:      r.RewardTotal,
		ProcessedTxCount: r.ProcessedTxCount,
	}
	if err := json.Unmarshal(r.SplitsApplied, &blk.Allocation); err != nil {
		return protocol.Block{}, fmt.Errorf("block %d allocation: %w", r.BlockID, err)
	}
	return blk, nil
}

// jsonText encodes v for a JSON/JSONB column. It is passed as a string since
// lib/pq sends []byte parameters as bytea.
func jsonText(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: stamp(*t), Valid: true}
}

// stamp normalizes a timestamp to the precision both dialects store.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
