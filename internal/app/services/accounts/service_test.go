package accounts

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
	"github.com/R3E-Network/karma_ledger/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/karma_ledger/internal/errors"
)

func statusOf(err error) int {
	if se := apperrors.GetServiceError(err); se != nil {
		return se.HTTPStatus
	}
	return 0
}

func TestService(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	acct, err := svc.Register(ctx, " alice ")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acct.ID == "" || acct.Handle != "alice" {
		t.Fatalf("unexpected account %+v", acct)
	}
	if !acct.Karma.IsZero() || !acct.Staked.IsZero() {
		t.Fatalf("expected zero balances, got %+v", acct)
	}

	if _, err := svc.Register(ctx, "ALICE"); statusOf(err) != http.StatusConflict {
		t.Fatalf("expected conflict for duplicate handle, got %v", err)
	}

	got, err := svc.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != acct.ID {
		t.Fatalf("expected %s, got %s", acct.ID, got.ID)
	}

	if _, err := svc.Register(ctx, "bob"); err != nil {
		t.Fatalf("register bob: %v", err)
	}
	list, total, err := svc.List(ctx, 1, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(list) != 1 {
		t.Fatalf("expected 1 of 2 accounts, got %d of %d", len(list), total)
	}

	if err := svc.Delete(ctx, "bob"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, "bob"); statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestRegisterRejectsInvalidHandles(t *testing.T) {
	svc := New(memory.New(), nil)
	for _, handle := range []string{"", "ab", "bucket_devco", "Bucket_anything", "has space", "-leading"} {
		if _, err := svc.Register(context.Background(), handle); statusOf(err) != http.StatusBadRequest {
			t.Fatalf("handle %q: expected bad request, got %v", handle, err)
		}
	}
}

func TestReservedAccountsAreHidden(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		_, err := tx.GetOrCreateReservedAccount(ctx, protocol.Foundation)
		return err
	})
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}

	handle := protocol.Foundation.Handle()
	if _, err := svc.Get(ctx, handle); statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected bucket to be hidden, got %v", err)
	}
	if err := svc.Delete(ctx, handle); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected forbidden deleting bucket, got %v", err)
	}
	if _, total, _ := svc.List(ctx, 0, 0); total != 0 {
		t.Fatalf("expected no listed accounts, got %d", total)
	}
}

func TestCreateEventAccount(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	acct, err := svc.CreateEventAccount(ctx, "launch-party", "launch")
	if err != nil {
		t.Fatalf("create event account: %v", err)
	}
	if !acct.Event {
		t.Fatalf("expected event flag")
	}

	history, total, err := store.ListTransactions(ctx, ledger.HistoryQuery{AccountID: acct.ID})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if total != 1 || history[0].Type != ledger.TxEventWalletCreated {
		t.Fatalf("expected event_wallet_created entry, got %+v", history)
	}
	if history[0].Metadata["event"] != "launch" {
		t.Fatalf("unexpected metadata %v", history[0].Metadata)
	}

	if _, err := svc.CreateEventAccount(ctx, "launch-party", "again"); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}
