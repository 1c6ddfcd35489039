package wallets

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
)

func countType(t *testing.T, store interface {
	ListTransactions(context.Context, ledger.HistoryQuery) ([]ledger.Transaction, int, error)
}, kind ledger.TxType) int {
	t.Helper()
	txs, _, err := store.ListTransactions(context.Background(), ledger.HistoryQuery{})
	require.NoError(t, err)
	n := 0
	for _, tx := range txs {
		if tx.Type == kind {
			n++
		}
	}
	return n
}

func TestRecordReferralCreditsInviterOnce(t *testing.T) {
	svc, store := setup(t, "alice", "bob")
	ctx := context.Background()

	out, err := svc.RecordReferral(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, out.Recorded)
	assert.Equal(t, balance(t, store, "bob").ID, out.Referral.InviteeID)
	assert.Equal(t, balance(t, store, "alice").ID, out.Referral.InviterID)
	assert.Equal(t, "1.000", balance(t, store, "alice").Karma.StringFixed(3))

	again, err := svc.RecordReferral(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, again.Recorded)
	assert.Equal(t, out.Referral.ID, again.Referral.ID)
	assert.Equal(t, "1.000", balance(t, store, "alice").Karma.StringFixed(3))
	assert.Equal(t, 1, countType(t, store, ledger.TxReferralInvite))

	status, err := svc.ReferralStatus(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, status.InvitedBy)
	assert.Equal(t, "alice", *status.InvitedBy)
	assert.False(t, status.Rewarded)

	none, err := svc.ReferralStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, none.InvitedBy)
}

func TestRecordReferralValidation(t *testing.T) {
	svc, _ := setup(t, "alice", "bob")
	ctx := context.Background()

	_, err := svc.RecordReferral(ctx, "alice", "ALICE")
	requireStatus(t, err, http.StatusBadRequest)

	_, err = svc.RecordReferral(ctx, "alice", "carol")
	requireStatus(t, err, http.StatusNotFound)

	_, err = svc.ReferralStatus(ctx, "carol")
	requireStatus(t, err, http.StatusNotFound)
}

func TestSendPaysReferralBonusOnce(t *testing.T) {
	svc, store := setup(t, "alice", "bob", "carol")
	ctx := context.Background()

	_, err := svc.Mint(ctx, "alice", ledger.UnitKarma, dec("10"))
	require.NoError(t, err)
	_, err = svc.RecordReferral(ctx, "alice", "bob")
	require.NoError(t, err)

	// A send to someone alice did not invite earns nothing.
	_, err = svc.Send(ctx, "alice", "carol", dec("1"))
	require.NoError(t, err)
	assert.Equal(t, "10.000", balance(t, store, "alice").Karma.StringFixed(3))

	// The invitee sending back does not trigger the bonus either.
	_, err = svc.Mint(ctx, "bob", ledger.UnitKarma, dec("1"))
	require.NoError(t, err)
	_, err = svc.Send(ctx, "bob", "alice", dec("1"))
	require.NoError(t, err)
	assert.Equal(t, 0, countType(t, store, ledger.TxReferralBonus))

	// 10 + 1 received - 2 sent + 3 bonus.
	_, err = svc.Send(ctx, "alice", "bob", dec("2"))
	require.NoError(t, err)
	assert.Equal(t, "12.000", balance(t, store, "alice").Karma.StringFixed(3))
	assert.Equal(t, 1, countType(t, store, ledger.TxReferralBonus))

	_, err = svc.Send(ctx, "alice", "bob", dec("1"))
	require.NoError(t, err)
	assert.Equal(t, "11.000", balance(t, store, "alice").Karma.StringFixed(3))
	assert.Equal(t, 1, countType(t, store, ledger.TxReferralBonus))

	status, err := svc.ReferralStatus(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, status.Rewarded)
}

func TestFailedSendDoesNotPayReferralBonus(t *testing.T) {
	svc, store := setup(t, "alice", "bob")
	ctx := context.Background()

	_, err := svc.RecordReferral(ctx, "alice", "bob")
	require.NoError(t, err)

	// Alice holds only the invite reward.
	_, err = svc.Send(ctx, "alice", "bob", dec("5"))
	requireStatus(t, err, http.StatusBadRequest)
	assert.Equal(t, "1.000", balance(t, store, "alice").Karma.StringFixed(3))

	status, err := svc.ReferralStatus(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, status.Rewarded)
}
