package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxType tags an entry of the append-only transaction log.
type TxType string

const (
	TxMint               TxType = "mint"
	TxSend               TxType = "send"
	TxStakeDeposit       TxType = "stake_deposit"
	TxUnstakeWithdraw    TxType = "unstake_withdraw"
	TxStakeReward        TxType = "stake_reward"
	TxReferralInvite     TxType = "referral_invite"
	TxReferralBonus      TxType = "referral_bonus"
	TxProtocolEmission   TxType = "protocol_emission"
	TxSwap               TxType = "swap"
	TxEventWalletCreated TxType = "event_wallet_created"
)

// Transaction is an immutable ledger entry. Optional references are empty
// strings and optional amounts are nil.
type Transaction struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Type      TxType           `json:"type"`
	ActorID   string           `json:"actor_id,omitempty"`
	FromID    string           `json:"from_id,omitempty"`
	ToID      string           `json:"to_id,omitempty"`
	Karma     *decimal.Decimal `json:"amount_karma,omitempty"`
	Chiliz    *decimal.Decimal `json:"amount_chiliz,omitempty"`
	Metadata  map[string]any   `json:"meta,omitempty"`
	BlockID   *int64           `json:"block_id,omitempty"`
}

// Amount returns a pointer to a copy of v, for optional amount fields.
func Amount(v decimal.Decimal) *decimal.Decimal {
	return &v
}

// TransferTotal aggregates peer transfers received by one account.
type TransferTotal struct {
	AccountID string
	Total     decimal.Decimal
	Count     int64
}

// TypeTotal aggregates the transaction log for one type over a time range.
type TypeTotal struct {
	Type   TxType
	Count  int64
	Karma  decimal.Decimal
	Chiliz decimal.Decimal
}

// HistoryQuery selects a page of an account's transaction history.
type HistoryQuery struct {
	AccountID string
	Limit     int
	Offset    int
	Ascending bool
}
