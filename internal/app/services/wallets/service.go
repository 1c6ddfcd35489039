package wallets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/metrics"
	"github.com/R3E-Network/karma_ledger/internal/app/services/accounts"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
	apperrors "github.com/R3E-Network/karma_ledger/internal/errors"
	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

// Swap directions recorded in swap transaction metadata.
const (
	DirectionKarmaToChiliz = "karma_to_chiliz"
	DirectionChilizToKarma = "chiliz_to_karma"
)

// StakeInfo summarises an account's stake against the network total.
type StakeInfo struct {
	Handle        string          `json:"handle"`
	Staked        decimal.Decimal `json:"staked_amount"`
	Available     decimal.Decimal `json:"available_karma"`
	RewardsEarned decimal.Decimal `json:"rewards_earned"`
	TotalStaked   decimal.Decimal `json:"total_staked"`
	SharePercent  decimal.Decimal `json:"share_percent"`
}

// Service moves value between and within accounts. Every mutation runs in a
// single ledger transaction with the balance check.
type Service struct {
	store storage.LedgerStore
	log   *logger.Logger
}

// New constructs a wallet service.
func New(store storage.LedgerStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("wallets")
	}
	return &Service{store: store, log: log}
}

// Send transfers Karma from one participant to another.
func (s *Service) Send(ctx context.Context, fromHandle, toHandle string, amount decimal.Decimal) (ledger.Transaction, error) {
	var out ledger.Transaction
	err := s.mutate(ctx, "send", amount, func(ctx context.Context, tx storage.LedgerTx, amount decimal.Decimal) error {
		from, err := participant(ctx, tx, fromHandle)
		if err != nil {
			return err
		}
		to, err := participant(ctx, tx, toHandle)
		if err != nil {
			return err
		}
		if from.ID == to.ID {
			return apperrors.BadRequest("cannot send to yourself", nil)
		}
		if _, err := tx.AdjustBalances(ctx, from.ID, ledger.Delta{Karma: amount.Neg()}); err != nil {
			return err
		}
		if _, err := tx.AdjustBalances(ctx, to.ID, ledger.Delta{Karma: amount}); err != nil {
			return err
		}
		out, err = tx.AppendTransaction(ctx, ledger.Transaction{
			Type:    ledger.TxSend,
			ActorID: from.ID,
			FromID:  from.ID,
			ToID:    to.ID,
			Karma:   ledger.Amount(amount),
		})
		if err != nil {
			return err
		}
		return s.payReferralBonus(ctx, tx, from, to)
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	s.log.WithField("from", fromHandle).
		WithField("to", toHandle).
		WithField("amount", out.Karma.String()).
		Info("karma sent")
	return out, nil
}

// Mint credits newly issued units to a participant. Admin only.
func (s *Service) Mint(ctx context.Context, handle string, unit ledger.Unit, amount decimal.Decimal) (ledger.Transaction, error) {
	if !unit.Valid() {
		return ledger.Transaction{}, apperrors.BadRequest(fmt.Sprintf("unknown unit %q", unit), nil)
	}
	var out ledger.Transaction
	err := s.mutate(ctx, "mint", amount, func(ctx context.Context, tx storage.LedgerTx, amount decimal.Decimal) error {
		acct, err := participant(ctx, tx, handle)
		if err != nil {
			return err
		}
		if _, err := tx.CreditBalance(ctx, acct.ID, unit, amount); err != nil {
			return err
		}
		entry := ledger.Transaction{
			Type:     ledger.TxMint,
			ToID:     acct.ID,
			Metadata: map[string]any{"unit": string(unit)},
		}
		if unit == ledger.UnitChiliz {
			entry.Chiliz = ledger.Amount(amount)
		} else {
			entry.Karma = ledger.Amount(amount)
		}
		out, err = tx.AppendTransaction(ctx, entry)
		return err
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	s.log.WithField("handle", handle).
		WithField("unit", string(unit)).
		Info("units minted")
	return out, nil
}

// Stake locks liquid Karma into the staking balance.
func (s *Service) Stake(ctx context.Context, handle string, amount decimal.Decimal) (ledger.Account, error) {
	var acct ledger.Account
	err := s.mutate(ctx, "stake", amount, func(ctx context.Context, tx storage.LedgerTx, amount decimal.Decimal) error {
		current, err := participant(ctx, tx, handle)
		if err != nil {
			return err
		}
		acct, err = tx.AdjustBalances(ctx, current.ID, ledger.Delta{Karma: amount.Neg(), Staked: amount})
		if err != nil {
			return err
		}
		_, err = tx.AppendTransaction(ctx, ledger.Transaction{
			Type:    ledger.TxStakeDeposit,
			ActorID: current.ID,
			FromID:  current.ID,
			Karma:   ledger.Amount(amount),
		})
		return err
	})
	return acct, err
}

// Unstake releases staked Karma back to the liquid balance.
func (s *Service) Unstake(ctx context.Context, handle string, amount decimal.Decimal) (ledger.Account, error) {
	var acct ledger.Account
	err := s.mutate(ctx, "unstake", amount, func(ctx context.Context, tx storage.LedgerTx, amount decimal.Decimal) error {
		current, err := participant(ctx, tx, handle)
		if err != nil {
			return err
		}
		if current.Staked.LessThan(amount) {
			return apperrors.BadRequest("insufficient staked balance", storage.ErrInsufficientFunds)
		}
		acct, err = tx.AdjustBalances(ctx, current.ID, ledger.Delta{Karma: amount, Staked: amount.Neg()})
		if err != nil {
			return err
		}
		_, err = tx.AppendTransaction(ctx, ledger.Transaction{
			Type:    ledger.TxUnstakeWithdraw,
			ActorID: current.ID,
			ToID:    current.ID,
			Karma:   ledger.Amount(amount),
		})
		return err
	})
	return acct, err
}

// Swap converts between Karma and Chiliz at a fixed 1:1 rate. from names the
// unit being spent.
func (s *Service) Swap(ctx context.Context, handle string, from ledger.Unit, amount decimal.Decimal) (ledger.Account, error) {
	var delta func(decimal.Decimal) ledger.Delta
	var direction string
	switch from {
	case ledger.UnitKarma:
		direction = DirectionKarmaToChiliz
		delta = func(a decimal.Decimal) ledger.Delta { return ledger.Delta{Karma: a.Neg(), Chiliz: a} }
	case ledger.UnitChiliz:
		direction = DirectionChilizToKarma
		delta = func(a decimal.Decimal) ledger.Delta { return ledger.Delta{Karma: a, Chiliz: a.Neg()} }
	default:
		return ledger.Account{}, apperrors.BadRequest(fmt.Sprintf("unknown unit %q", from), nil)
	}

	var acct ledger.Account
	err := s.mutate(ctx, "swap", amount, func(ctx context.Context, tx storage.LedgerTx, amount decimal.Decimal) error {
		current, err := participant(ctx, tx, handle)
		if err != nil {
			return err
		}
		acct, err = tx.AdjustBalances(ctx, current.ID, delta(amount))
		if err != nil {
			return err
		}
		_, err = tx.AppendTransaction(ctx, ledger.Transaction{
			Type:     ledger.TxSwap,
			ActorID:  current.ID,
			FromID:   current.ID,
			ToID:     current.ID,
			Karma:    ledger.Amount(amount),
			Chiliz:   ledger.Amount(amount),
			Metadata: map[string]any{"direction": direction, "rate": "1"},
		})
		return err
	})
	return acct, err
}

// StakeInfo reports a participant's stake and its share of the network.
func (s *Service) StakeInfo(ctx context.Context, handle string) (StakeInfo, error) {
	acct, err := participant(ctx, s.store, handle)
	if err != nil {
		return StakeInfo{}, translate(err)
	}
	total, err := s.store.SumStakedAmount(ctx)
	if err != nil {
		return StakeInfo{}, err
	}
	info := StakeInfo{
		Handle:        acct.Handle,
		Staked:        acct.Staked,
		Available:     acct.Karma,
		RewardsEarned: acct.RewardsEarned,
		TotalStaked:   total,
		SharePercent:  decimal.Zero,
	}
	if total.IsPositive() {
		info.SharePercent = acct.Staked.Mul(decimal.NewFromInt(100)).DivRound(total, 4)
	}
	return info, nil
}

// History pages through the transactions an account took part in.
func (s *Service) History(ctx context.Context, handle string, limit, offset int, ascending bool) ([]ledger.Transaction, int, error) {
	acct, err := participant(ctx, s.store, handle)
	if err != nil {
		return nil, 0, translate(err)
	}
	limit, offset = accounts.ClampPage(limit, offset)
	return s.store.ListTransactions(ctx, ledger.HistoryQuery{
		AccountID: acct.ID,
		Limit:     limit,
		Offset:    offset,
		Ascending: ascending,
	})
}

// mutate validates and rounds amount, runs fn atomically and records the
// outcome.
func (s *Service) mutate(ctx context.Context, op string, amount decimal.Decimal, fn func(ctx context.Context, tx storage.LedgerTx, amount decimal.Decimal) error) error {
	amount = ledger.Round(amount)
	if amount.LessThan(ledger.MinAmount) {
		metrics.RecordWalletOperation(op, false)
		return apperrors.BadRequest(fmt.Sprintf("amount must be at least %s", ledger.MinAmount), nil)
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		return fn(ctx, tx, amount)
	})
	metrics.RecordWalletOperation(op, err == nil)
	if err != nil {
		s.log.WithError(err).WithField("operation", op).Debug("wallet operation rejected")
		return translate(err)
	}
	return nil
}

type accountLookup interface {
	GetAccountByHandle(ctx context.Context, handle string) (ledger.Account, error)
}

func participant(ctx context.Context, r accountLookup, handle string) (ledger.Account, error) {
	acct, err := r.GetAccountByHandle(ctx, strings.TrimSpace(handle))
	if err != nil {
		return ledger.Account{}, err
	}
	if acct.Reserved {
		return ledger.Account{}, fmt.Errorf("account %s: %w", handle, storage.ErrReservedAccount)
	}
	return acct, nil
}

func translate(err error) error {
	if apperrors.GetServiceError(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, storage.ErrInsufficientFunds):
		return apperrors.BadRequest("insufficient balance", err)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrReservedAccount):
		return apperrors.NotFound("account not found", err)
	}
	return err
}
