package wallets

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/metrics"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
	apperrors "github.com/R3E-Network/karma_ledger/internal/errors"
)

var (
	// InviteReward is credited to the inviter when a referral is recorded.
	InviteReward = decimal.NewFromInt(1)
	// ReferralBonus is paid once, on the inviter's first send to the invitee.
	ReferralBonus = decimal.NewFromInt(3)
)

// ReferralOutcome reports a RecordReferral call. Recorded is false when the
// invitee was already referred, in which case nothing is credited.
type ReferralOutcome struct {
	Referral ledger.Referral `json:"referral"`
	Recorded bool            `json:"recorded"`
}

// ReferralStatus tells a participant who invited them and whether the
// inviter's bonus has been paid.
type ReferralStatus struct {
	InvitedBy *string `json:"invited_by"`
	Rewarded  bool    `json:"rewarded"`
}

// RecordReferral links invitee to inviter and credits the inviter the invite
// reward. Repeating it for an invitee is a no-op.
func (s *Service) RecordReferral(ctx context.Context, inviterHandle, inviteeHandle string) (ReferralOutcome, error) {
	if strings.EqualFold(strings.TrimSpace(inviterHandle), strings.TrimSpace(inviteeHandle)) {
		return ReferralOutcome{}, apperrors.BadRequest("cannot refer yourself", nil)
	}

	var out ReferralOutcome
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		inviter, err := participant(ctx, tx, inviterHandle)
		if err != nil {
			return err
		}
		invitee, err := participant(ctx, tx, inviteeHandle)
		if err != nil {
			return err
		}

		existing, err := tx.GetReferral(ctx, invitee.ID)
		switch {
		case err == nil:
			out = ReferralOutcome{Referral: existing}
			return nil
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		ref, err := tx.CreateReferral(ctx, ledger.Referral{InviteeID: invitee.ID, InviterID: inviter.ID})
		if err != nil {
			return err
		}
		if _, err := tx.CreditBalance(ctx, inviter.ID, ledger.UnitKarma, InviteReward); err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(ctx, ledger.Transaction{
			Type:     ledger.TxReferralInvite,
			ActorID:  inviter.ID,
			ToID:     inviter.ID,
			Karma:    ledger.Amount(InviteReward),
			Metadata: map[string]any{"invitee": invitee.Handle},
		}); err != nil {
			return err
		}
		out = ReferralOutcome{Referral: ref, Recorded: true}
		return nil
	})
	metrics.RecordWalletOperation("referral", err == nil)
	if err != nil {
		return ReferralOutcome{}, translate(err)
	}
	if out.Recorded {
		s.log.WithField("inviter", inviterHandle).
			WithField("invitee", inviteeHandle).
			Info("referral recorded")
	}
	return out, nil
}

// ReferralStatus reports the referral recorded for handle, if any.
func (s *Service) ReferralStatus(ctx context.Context, handle string) (ReferralStatus, error) {
	acct, err := participant(ctx, s.store, handle)
	if err != nil {
		return ReferralStatus{}, translate(err)
	}
	ref, err := s.store.GetReferral(ctx, acct.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return ReferralStatus{}, nil
	}
	if err != nil {
		return ReferralStatus{}, err
	}
	status := ReferralStatus{Rewarded: ref.Rewarded}
	if inviter, err := s.store.GetAccount(ctx, ref.InviterID); err == nil {
		status.InvitedBy = &inviter.Handle
	} else if !errors.Is(err, storage.ErrNotFound) {
		return ReferralStatus{}, err
	}
	return status, nil
}

// payReferralBonus credits the sender when they invited the recipient and
// have not been paid for it yet.
func (s *Service) payReferralBonus(ctx context.Context, tx storage.LedgerTx, from, to ledger.Account) error {
	ref, err := tx.GetReferral(ctx, to.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if ref.InviterID != from.ID || ref.Rewarded {
		return nil
	}
	claimed, err := tx.MarkReferralRewarded(ctx, ref.ID)
	if err != nil || !claimed {
		return err
	}
	if _, err := tx.CreditBalance(ctx, from.ID, ledger.UnitKarma, ReferralBonus); err != nil {
		return err
	}
	_, err = tx.AppendTransaction(ctx, ledger.Transaction{
		Type:     ledger.TxReferralBonus,
		ActorID:  from.ID,
		ToID:     from.ID,
		Karma:    ledger.Amount(ReferralBonus),
		Metadata: map[string]any{"invitee": to.Handle},
	})
	return err
}
