package accounts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
	apperrors "github.com/R3E-Network/karma_ledger/internal/errors"
	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

// reservedPrefix is claimed by the system bucket accounts.
const reservedPrefix = "bucket_"

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{2,63}$`)

// Service manages ledger participants.
type Service struct {
	store storage.LedgerStore
	log   *logger.Logger
}

// New constructs an account service.
func New(store storage.LedgerStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{store: store, log: log}
}

// ValidateHandle normalises a handle and rejects malformed or reserved ones.
func ValidateHandle(handle string) (string, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", apperrors.BadRequest("handle is required", nil)
	}
	if strings.HasPrefix(strings.ToLower(handle), reservedPrefix) {
		return "", apperrors.BadRequest(fmt.Sprintf("handles starting with %q are reserved", reservedPrefix), nil)
	}
	if !handlePattern.MatchString(handle) {
		return "", apperrors.BadRequest("handle must be 3-64 letters, digits, '.', '_' or '-'", nil)
	}
	return handle, nil
}

// Register creates an account with zero balances.
func (s *Service) Register(ctx context.Context, handle string) (ledger.Account, error) {
	handle, err := ValidateHandle(handle)
	if err != nil {
		return ledger.Account{}, err
	}

	var acct ledger.Account
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		acct, err = tx.CreateAccount(ctx, ledger.Account{Handle: handle})
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return ledger.Account{}, apperrors.Conflict("handle already registered", err)
		}
		return ledger.Account{}, fmt.Errorf("register %s: %w", handle, err)
	}
	s.log.WithField("account_id", acct.ID).
		WithField("handle", acct.Handle).
		Info("account registered")
	return acct, nil
}

// CreateEventAccount registers a promotional account and logs its creation
// in the transaction history.
func (s *Service) CreateEventAccount(ctx context.Context, handle, event string) (ledger.Account, error) {
	handle, err := ValidateHandle(handle)
	if err != nil {
		return ledger.Account{}, err
	}
	event = strings.TrimSpace(event)

	var acct ledger.Account
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		acct, err = tx.CreateAccount(ctx, ledger.Account{Handle: handle, Event: true})
		if err != nil {
			return err
		}
		meta := map[string]any{"handle": acct.Handle}
		if event != "" {
			meta["event"] = event
		}
		_, err = tx.AppendTransaction(ctx, ledger.Transaction{
			Type:     ledger.TxEventWalletCreated,
			ActorID:  acct.ID,
			ToID:     acct.ID,
			Metadata: meta,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return ledger.Account{}, apperrors.Conflict("handle already registered", err)
		}
		return ledger.Account{}, fmt.Errorf("create event account %s: %w", handle, err)
	}
	s.log.WithField("account_id", acct.ID).
		WithField("handle", acct.Handle).
		WithField("event", event).
		Info("event account created")
	return acct, nil
}

// Get resolves a participant by handle. Bucket accounts are never returned.
func (s *Service) Get(ctx context.Context, handle string) (ledger.Account, error) {
	acct, err := s.store.GetAccountByHandle(ctx, strings.TrimSpace(handle))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ledger.Account{}, apperrors.NotFound("account not found", err)
		}
		return ledger.Account{}, err
	}
	if acct.Reserved {
		return ledger.Account{}, apperrors.NotFound("account not found", storage.ErrReservedAccount)
	}
	return acct, nil
}

// List pages through participants ordered by creation time.
func (s *Service) List(ctx context.Context, limit, offset int) ([]ledger.Account, int, error) {
	limit, offset = ClampPage(limit, offset)
	return s.store.ListAccounts(ctx, limit, offset)
}

// Delete removes a participant. Its transaction history is kept.
func (s *Service) Delete(ctx context.Context, handle string) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		acct, err := tx.GetAccountByHandle(ctx, strings.TrimSpace(handle))
		if err != nil {
			return err
		}
		return tx.DeleteAccount(ctx, acct.ID)
	})
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NotFound("account not found", err)
	case errors.Is(err, storage.ErrReservedAccount):
		return apperrors.Forbidden("system accounts cannot be deleted")
	default:
		return fmt.Errorf("delete %s: %w", handle, err)
	}
	s.log.WithField("handle", handle).Warn("account deleted")
	return nil
}

// ClampPage applies the default and maximum page size.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
