// Package validator serves read-only aggregates for external validators:
// windowed transaction volume, Karma inflation by source, and the wallet
// leaderboard.
package validator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
	apperrors "github.com/R3E-Network/karma_ledger/internal/errors"
)

// Reader is the read-only view the validator service needs.
type Reader interface {
	storage.LedgerReader
	storage.ProtocolReader
}

// reportPlaces is the precision of every reported amount.
const reportPlaces = 2

// Window labels.
const (
	Window1h  = "1h"
	Window24h = "24h"
	Window7d  = "7d"
	Window30d = "30d"
)

var windowSpans = map[string]time.Duration{
	Window1h:  time.Hour,
	Window24h: 24 * time.Hour,
	Window7d:  7 * 24 * time.Hour,
	Window30d: 30 * 24 * time.Hour,
}

var (
	inflationWindows   = []string{Window1h, Window24h, Window7d, Window30d}
	transactionWindows = []string{Window24h, Window7d, Window30d}
)

// AllowedLimits are the accepted leaderboard and snapshot sizes.
var AllowedLimits = []int{10, 25, 50, 100}

// SortBy orders the leaderboard.
type SortBy string

const (
	SortByTotal   SortBy = "total"
	SortByBalance SortBy = "balance"
)

// Window is an inclusive time range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TxMetrics summarises peer transfers in a window.
type TxMetrics struct {
	Count        int64           `json:"count"`
	VolumeKarma  decimal.Decimal `json:"volume_karma"`
	VolumeChiliz decimal.Decimal `json:"volume_chiliz"`
}

// Breakdown splits newly issued Karma by source.
type Breakdown struct {
	MintAdmin        decimal.Decimal `json:"mint_admin"`
	ProtocolEmission decimal.Decimal `json:"protocol_emission"`
	StakeRewards     decimal.Decimal `json:"stake_rewards"`
	ReferralRewards  decimal.Decimal `json:"referral_rewards"`
}

// Inflation is the Karma issued in a window.
type Inflation struct {
	KarmaMinted decimal.Decimal `json:"karma_minted"`
	Breakdown   Breakdown       `json:"breakdown"`
}

// Users counts participants.
type Users struct {
	UserCount        int64 `json:"user_count"`
	WalletCount      int64 `json:"wallet_count"`
	ActiveWallets24h int64 `json:"active_wallets_24h"`
}

// Balances sums balances over user accounts.
type Balances struct {
	TotalKarma   decimal.Decimal `json:"total_karma_balance"`
	TotalChiliz  decimal.Decimal `json:"total_chiliz_balance"`
	TotalStaked  decimal.Decimal `json:"total_staked"`
	TotalRewards decimal.Decimal `json:"total_rewards_earned"`
}

// RankedWallet is one leaderboard row.
type RankedWallet struct {
	Rank   int             `json:"rank"`
	Handle string          `json:"handle"`
	Karma  decimal.Decimal `json:"karma_balance"`
	Staked decimal.Decimal `json:"staked"`
	Total  decimal.Decimal `json:"total"`
}

// Snapshot is the full validator view.
type Snapshot struct {
	SnapshotAt   time.Time            `json:"snapshot_at"`
	Windows      map[string]Window    `json:"windows"`
	Users        Users                `json:"users"`
	Balances     Balances             `json:"balances"`
	Transactions map[string]TxMetrics `json:"transactions"`
	Inflation    map[string]Inflation `json:"inflation"`
	TopWallets   []RankedWallet       `json:"top_wallets"`
}

// InflationReport carries inflation windows only.
type InflationReport struct {
	SnapshotAt time.Time            `json:"snapshot_at"`
	Windows    map[string]Window    `json:"windows"`
	Inflation  map[string]Inflation `json:"inflation"`
}

// TransactionReport carries transfer metrics only.
type TransactionReport struct {
	SnapshotAt   time.Time            `json:"snapshot_at"`
	Windows      map[string]Window    `json:"windows"`
	Transactions map[string]TxMetrics `json:"transactions"`
}

// Leaderboard lists the top wallets.
type Leaderboard struct {
	GeneratedAt time.Time      `json:"generated_at"`
	TopWallets  []RankedWallet `json:"top_wallets"`
}

// Health reports store reachability and emission liveness.
type Health struct {
	Status              string     `json:"status"`
	Database            string     `json:"database"`
	LastProtocolBlockAt *time.Time `json:"last_protocol_block_at"`
	Timestamp           time.Time  `json:"timestamp"`
}

// Service computes validator aggregates.
type Service struct {
	reader Reader
	now    func() time.Time
}

// New constructs a validator service.
func New(reader Reader) *Service {
	return &Service{
		reader: reader,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ParseLimit validates a leaderboard size; empty selects the smallest.
func ParseLimit(raw string) (int, error) {
	if raw == "" {
		return AllowedLimits[0], nil
	}
	for _, n := range AllowedLimits {
		if raw == fmt.Sprint(n) {
			return n, nil
		}
	}
	return 0, apperrors.BadRequest(fmt.Sprintf("limit must be one of %v", AllowedLimits), nil)
}

// ParseSortBy validates a leaderboard ordering; empty selects total.
func ParseSortBy(raw string) (SortBy, error) {
	switch SortBy(raw) {
	case "", SortByTotal:
		return SortByTotal, nil
	case SortByBalance:
		return SortByBalance, nil
	}
	return "", apperrors.BadRequest(`sort_by must be "total" or "balance"`, nil)
}

// Snapshot assembles the full validator view with the top wallets by total.
func (s *Service) Snapshot(ctx context.Context, top int) (Snapshot, error) {
	now := s.now()
	users, _, err := s.reader.ListAccounts(ctx, 0, 0)
	if err != nil {
		return Snapshot{}, err
	}
	active, err := s.reader.CountActiveSenders(ctx, now.Add(-windowSpans[Window24h]))
	if err != nil {
		return Snapshot{}, err
	}
	inflation, err := s.inflation(ctx, now)
	if err != nil {
		return Snapshot{}, err
	}
	transactions, err := s.transactions(ctx, now)
	if err != nil {
		return Snapshot{}, err
	}

	out := Snapshot{
		SnapshotAt:   now,
		Windows:      windows(now, inflationWindows),
		Users:        Users{UserCount: int64(len(users)), ActiveWallets24h: active},
		Transactions: transactions,
		Inflation:    inflation,
		TopWallets:   rank(users, top, SortByTotal),
	}
	var b Balances
	for _, acct := range users {
		if acct.Karma.IsPositive() || acct.Chiliz.IsPositive() || acct.Staked.IsPositive() || acct.RewardsEarned.IsPositive() {
			out.Users.WalletCount++
		}
		b.TotalKarma = b.TotalKarma.Add(acct.Karma)
		b.TotalChiliz = b.TotalChiliz.Add(acct.Chiliz)
		b.TotalStaked = b.TotalStaked.Add(acct.Staked)
		b.TotalRewards = b.TotalRewards.Add(acct.RewardsEarned)
	}
	out.Balances = Balances{
		TotalKarma:   round(b.TotalKarma),
		TotalChiliz:  round(b.TotalChiliz),
		TotalStaked:  round(b.TotalStaked),
		TotalRewards: round(b.TotalRewards),
	}
	return out, nil
}

// Inflation reports Karma issued per window.
func (s *Service) Inflation(ctx context.Context) (InflationReport, error) {
	now := s.now()
	inflation, err := s.inflation(ctx, now)
	if err != nil {
		return InflationReport{}, err
	}
	return InflationReport{SnapshotAt: now, Windows: windows(now, inflationWindows), Inflation: inflation}, nil
}

// Transactions reports transfer counts and volume per window.
func (s *Service) Transactions(ctx context.Context) (TransactionReport, error) {
	now := s.now()
	transactions, err := s.transactions(ctx, now)
	if err != nil {
		return TransactionReport{}, err
	}
	return TransactionReport{SnapshotAt: now, Windows: windows(now, transactionWindows), Transactions: transactions}, nil
}

// Leaderboard ranks user wallets.
func (s *Service) Leaderboard(ctx context.Context, limit int, by SortBy) (Leaderboard, error) {
	users, _, err := s.reader.ListAccounts(ctx, 0, 0)
	if err != nil {
		return Leaderboard{}, err
	}
	return Leaderboard{GeneratedAt: s.now(), TopWallets: rank(users, limit, by)}, nil
}

// Health pings the store and reports when the last block was emitted.
func (s *Service) Health(ctx context.Context, ping func(context.Context) error) Health {
	out := Health{Status: "operational", Database: "ok", Timestamp: s.now()}
	if ping != nil {
		if err := ping(ctx); err != nil {
			out.Database = "error"
		}
	}
	latest, err := s.reader.LatestBlock(ctx)
	switch {
	case err == nil:
		at := latest.EmittedAt
		out.LastProtocolBlockAt = &at
	case !errors.Is(err, storage.ErrNotFound):
		out.Database = "error"
	}
	return out
}

func (s *Service) inflation(ctx context.Context, now time.Time) (map[string]Inflation, error) {
	out := make(map[string]Inflation, len(inflationWindows))
	for _, label := range inflationWindows {
		totals, err := s.reader.SumTransactionsByType(ctx, now.Add(-windowSpans[label]), now)
		if err != nil {
			return nil, err
		}
		out[label] = inflationOf(totals)
	}
	return out, nil
}

func (s *Service) transactions(ctx context.Context, now time.Time) (map[string]TxMetrics, error) {
	out := make(map[string]TxMetrics, len(transactionWindows))
	for _, label := range transactionWindows {
		totals, err := s.reader.SumTransactionsByType(ctx, now.Add(-windowSpans[label]), now)
		if err != nil {
			return nil, err
		}
		m := TxMetrics{VolumeKarma: decimal.Zero, VolumeChiliz: decimal.Zero}
		for _, t := range totals {
			if t.Type == ledger.TxSend {
				m = TxMetrics{Count: t.Count, VolumeKarma: round(t.Karma), VolumeChiliz: round(t.Chiliz)}
			}
		}
		out[label] = m
	}
	return out, nil
}

// inflationOf classifies issuing transaction types. Protocol emission covers
// bucket credits and eligible-usage rewards; stake rewards are reported apart.
func inflationOf(totals []ledger.TypeTotal) Inflation {
	var b Breakdown
	for _, t := range totals {
		switch t.Type {
		case ledger.TxMint:
			b.MintAdmin = b.MintAdmin.Add(t.Karma)
		case ledger.TxProtocolEmission:
			b.ProtocolEmission = b.ProtocolEmission.Add(t.Karma)
		case ledger.TxStakeReward:
			b.StakeRewards = b.StakeRewards.Add(t.Karma)
		case ledger.TxReferralInvite, ledger.TxReferralBonus:
			b.ReferralRewards = b.ReferralRewards.Add(t.Karma)
		}
	}
	minted := b.MintAdmin.Add(b.ProtocolEmission).Add(b.StakeRewards).Add(b.ReferralRewards)
	return Inflation{
		KarmaMinted: round(minted),
		Breakdown: Breakdown{
			MintAdmin:        round(b.MintAdmin),
			ProtocolEmission: round(b.ProtocolEmission),
			StakeRewards:     round(b.StakeRewards),
			ReferralRewards:  round(b.ReferralRewards),
		},
	}
}

func windows(now time.Time, labels []string) map[string]Window {
	out := make(map[string]Window, len(labels))
	for _, label := range labels {
		out[label] = Window{Start: now.Add(-windowSpans[label]), End: now}
	}
	return out
}

// rank orders accounts descending by the chosen key, breaking ties by handle.
func rank(accts []ledger.Account, limit int, by SortBy) []RankedWallet {
	rows := make([]RankedWallet, 0, len(accts))
	for _, acct := range accts {
		rows = append(rows, RankedWallet{
			Handle: acct.Handle,
			Karma:  acct.Karma,
			Staked: acct.Staked,
			Total:  acct.Karma.Add(acct.Staked),
		})
	}
	key := func(w RankedWallet) decimal.Decimal {
		if by == SortByBalance {
			return w.Karma
		}
		return w.Total
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if c := key(rows[i]).Cmp(key(rows[j])); c != 0 {
			return c > 0
		}
		return rows[i].Handle < rows[j].Handle
	})
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	for i := range rows {
		rows[i].Rank = i + 1
		rows[i].Karma = round(rows[i].Karma)
		rows[i].Staked = round(rows[i].Staked)
		rows[i].Total = round(rows[i].Total)
	}
	return rows
}

func round(v decimal.Decimal) decimal.Decimal {
	return v.RoundBank(reportPlaces)
}
