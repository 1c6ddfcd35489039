package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
)

// Store is an in-memory implementation of storage.LedgerStore. It is safe for
// concurrent use and is primarily intended for tests and local development.
//
// Transactions are serialized by a writer mutex and operate on a private copy
// of the dataset that replaces the live one only when the callback succeeds.
type Store struct {
	writer sync.Mutex
	mu     sync.RWMutex
	data   *dataset
	now    func() time.Time
}

var _ storage.LedgerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		data: newDataset(),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source used for rows the caller does not
// stamp explicitly.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// WithinTx runs fn against a snapshot and commits it on success.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.LedgerTx) error) error {
	s.writer.Lock()
	defer s.writer.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &memTx{data: work, now: s.now}); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

// read runs fn against the committed dataset under the read lock.
func (s *Store) read(fn func(d *dataset)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

// LedgerReader implementation -------------------------------------------------

func (s *Store) GetAccount(_ context.Context, id string) (acct ledger.Account, err error) {
	s.read(func(d *dataset) { acct, err = d.getAccount(id) })
	return
}

func (s *Store) GetAccountByHandle(_ context.Context, handle string) (acct ledger.Account, err error) {
	s.read(func(d *dataset) { acct, err = d.getAccountByHandle(handle) })
	return
}

func (s *Store) GetReservedAccount(_ context.Context, bucket protocol.Bucket) (acct ledger.Account, err error) {
	s.read(func(d *dataset) { acct, err = d.getReserved(bucket) })
	return
}

func (s *Store) ListAccounts(_ context.Context, limit, offset int) (out []ledger.Account, total int, err error) {
	s.read(func(d *dataset) { out, total = d.listAccounts(limit, offset) })
	return
}

func (s *Store) ListTransactions(_ context.Context, q ledger.HistoryQuery) (out []ledger.Transaction, total int, err error) {
	s.read(func(d *dataset) { out, total = d.listTransactions(q) })
	return
}

func (s *Store) SumTransfersByRecipient(_ context.Context, since time.Time) (out []ledger.TransferTotal, err error) {
	s.read(func(d *dataset) { out = d.sumTransfers(since) })
	return
}

func (s *Store) CountTransfers(_ context.Context, since time.Time) (n int64, err error) {
	s.read(func(d *dataset) { n = d.countTransfers(since) })
	return
}

func (s *Store) SumStakedAmount(_ context.Context) (total decimal.Decimal, err error) {
	s.read(func(d *dataset) { total = d.sumStaked() })
	return
}

func (s *Store) ListStakers(_ context.Context) (out []ledger.Account, err error) {
	s.read(func(d *dataset) { out = d.listStakers() })
	return
}

func (s *Store) NetworkTotals(_ context.Context) (totals ledger.Totals, err error) {
	s.read(func(d *dataset) { totals = d.totals() })
	return
}

func (s *Store) SumTransactionsByType(_ context.Context, since, until time.Time) (out []ledger.TypeTotal, err error) {
	s.read(func(d *dataset) { out = d.sumByType(since, until) })
	return
}

func (s *Store) CountActiveSenders(_ context.Context, since time.Time) (n int64, err error) {
	s.read(func(d *dataset) { n = d.countActiveSenders(since) })
	return
}

func (s *Store) GetReferral(_ context.Context, inviteeID string) (ref ledger.Referral, err error) {
	s.read(func(d *dataset) { ref, err = d.getReferral(inviteeID) })
	return
}

// ProtocolReader implementation -----------------------------------------------

func (s *Store) GetProtocolState(_ context.Context) (st protocol.State, err error) {
	s.read(func(d *dataset) { st = d.protocolState() })
	return
}

func (s *Store) LatestBlock(_ context.Context) (blk protocol.Block, err error) {
	s.read(func(d *dataset) { blk, err = d.latestBlock() })
	return
}

func (s *Store) ListBlocks(_ context.Context, limit int) (out []protocol.Block, err error) {
	s.read(func(d *dataset) { out = d.listBlocks(limit) })
	return
}

// memTx is the transactional view handed to WithinTx callbacks. It owns its
// dataset exclusively, so no locking is needed.
type memTx struct {
	data *dataset
	now  func() time.Time
}

var _ storage.LedgerTx = (*memTx)(nil)

func (t *memTx) GetAccount(_ context.Context, id string) (ledger.Account, error) {
	return t.data.getAccount(id)
}

func (t *memTx) GetAccountByHandle(_ context.Context, handle string) (ledger.Account, error) {
	return t.data.getAccountByHandle(handle)
}

func (t *memTx) GetReservedAccount(_ context.Context, bucket protocol.Bucket) (ledger.Account, error) {
	return t.data.getReserved(bucket)
}

func (t *memTx) ListAccounts(_ context.Context, limit, offset int) ([]ledger.Account, int, error) {
	out, total := t.data.listAccounts(limit, offset)
	return out, total, nil
}

func (t *memTx) ListTransactions(_ context.Context, q ledger.HistoryQuery) ([]ledger.Transaction, int, error) {
	out, total := t.data.listTransactions(q)
	return out, total, nil
}

func (t *memTx) SumTransfersByRecipient(_ context.Context, since time.Time) ([]ledger.TransferTotal, error) {
	return t.data.sumTransfers(since), nil
}

func (t *memTx) CountTransfers(_ context.Context, since time.Time) (int64, error) {
	return t.data.countTransfers(since), nil
}

func (t *memTx) SumStakedAmount(context.Context) (decimal.Decimal, error) {
	return t.data.sumStaked(), nil
}

func (t *memTx) ListStakers(context.Context) ([]ledger.Account, error) {
	return t.data.listStakers(), nil
}

func (t *memTx) NetworkTotals(context.Context) (ledger.Totals, error) {
	return t.data.totals(), nil
}

func (t *memTx) SumTransactionsByType(_ context.Context, since, until time.Time) ([]ledger.TypeTotal, error) {
	return t.data.sumByType(since, until), nil
}

func (t *memTx) CountActiveSenders(_ context.Context, since time.Time) (int64, error) {
	return t.data.countActiveSenders(since), nil
}

func (t *memTx) GetReferral(_ context.Context, inviteeID string) (ledger.Referral, error) {
	return t.data.getReferral(inviteeID)
}

func (t *memTx) GetProtocolState(context.Context) (protocol.State, error) {
	return t.data.protocolState(), nil
}

func (t *memTx) LatestBlock(context.Context) (protocol.Block, error) {
	return t.data.latestBlock()
}

func (t *memTx) ListBlocks(_ context.Context, limit int) ([]protocol.Block, error) {
	return t.data.listBlocks(limit), nil
}

func (t *memTx) CreateAccount(_ context.Context, acct ledger.Account) (ledger.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if _, exists := t.data.accounts[acct.ID]; exists {
		return ledger.Account{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrDuplicate)
	}
	key := strings.ToLower(acct.Handle)
	if _, exists := t.data.byHandle[key]; exists {
		return ledger.Account{}, fmt.Errorf("handle %s: %w", acct.Handle, storage.ErrDuplicate)
	}
	if acct.ReservedKey != "" {
		if _, exists := t.data.byReserved[acct.ReservedKey]; exists {
			return ledger.Account{}, fmt.Errorf("reserved key %s: %w", acct.ReservedKey, storage.ErrDuplicate)
		}
		acct.Reserved = true
		t.data.byReserved[acct.ReservedKey] = acct.ID
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = t.now()
	}
	acct.UpdatedAt = acct.CreatedAt
	acct = ledger.Delta{}.Apply(acct)

	t.data.accounts[acct.ID] = acct
	t.data.byHandle[key] = acct.ID
	return acct, nil
}

func (t *memTx) DeleteAccount(_ context.Context, id string) error {
	acct, ok := t.data.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	if acct.Reserved {
		return fmt.Errorf("account %s: %w", id, storage.ErrReservedAccount)
	}
	delete(t.data.accounts, id)
	delete(t.data.byHandle, strings.ToLower(acct.Handle))
	for invitee, ref := range t.data.referrals {
		if ref.InviteeID == id || ref.InviterID == id {
			delete(t.data.referrals, invitee)
		}
	}
	return nil
}

func (t *memTx) GetOrCreateReservedAccount(ctx context.Context, bucket protocol.Bucket) (ledger.Account, error) {
	if acct, err := t.data.getReserved(bucket); err == nil {
		return acct, nil
	}
	return t.CreateAccount(ctx, ledger.Account{
		Handle:      bucket.Handle(),
		ReservedKey: bucket.Key(),
		Reserved:    true,
	})
}

func (t *memTx) LockAccount(_ context.Context, id string) (ledger.Account, error) {
	return t.data.getAccount(id)
}

func (t *memTx) AdjustBalances(_ context.Context, id string, delta ledger.Delta) (ledger.Account, error) {
	acct, err := t.data.getAccount(id)
	if err != nil {
		return ledger.Account{}, err
	}
	next := delta.Apply(acct)
	if ledger.Negative(next) {
		return ledger.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrInsufficientFunds)
	}
	next.UpdatedAt = t.now()
	t.data.accounts[id] = next
	return next, nil
}

func (t *memTx) CreditBalance(ctx context.Context, id string, unit ledger.Unit, amount decimal.Decimal) (ledger.Account, error) {
	return t.AdjustBalances(ctx, id, storage.CreditDelta(unit, amount))
}

func (t *memTx) CreditRewardsEarned(ctx context.Context, id string, amount decimal.Decimal) (ledger.Account, error) {
	return t.AdjustBalances(ctx, id, ledger.Delta{RewardsEarned: amount})
}

func (t *memTx) AppendTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = t.now()
	}
	tx.Metadata = cloneMap(tx.Metadata)
	t.data.transactions = append(t.data.transactions, tx)
	return tx, nil
}

func (t *memTx) CreateReferral(_ context.Context, ref ledger.Referral) (ledger.Referral, error) {
	if _, exists := t.data.referrals[ref.InviteeID]; exists {
		return ledger.Referral{}, fmt.Errorf("referral for %s: %w", ref.InviteeID, storage.ErrDuplicate)
	}
	for _, id := range []string{ref.InviteeID, ref.InviterID} {
		if _, err := t.data.getAccount(id); err != nil {
			return ledger.Referral{}, err
		}
	}
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = t.now()
	}
	t.data.referrals[ref.InviteeID] = ref
	return ref, nil
}

func (t *memTx) MarkReferralRewarded(_ context.Context, id string) (bool, error) {
	for invitee, ref := range t.data.referrals {
		if ref.ID != id {
			continue
		}
		if ref.Rewarded {
			return false, nil
		}
		ref.Rewarded = true
		t.data.referrals[invitee] = ref
		return true, nil
	}
	return false, fmt.Errorf("referral %s: %w", id, storage.ErrNotFound)
}

func (t *memTx) LockProtocolState(context.Context) (protocol.State, error) {
	if t.data.state == nil {
		st := protocol.State{DeferredRewards: decimal.Zero, UpdatedAt: t.now()}
		t.data.state = &st
	}
	return t.data.protocolState(), nil
}

func (t *memTx) SaveProtocolState(_ context.Context, st protocol.State) error {
	if t.data.state == nil {
		return fmt.Errorf("protocol state: %w", storage.ErrNotFound)
	}
	st.UtilizationWindow = cloneMap(st.UtilizationWindow)
	t.data.state = &st
	return nil
}

func (t *memTx) InsertProtocolBlock(_ context.Context, blk protocol.Block) (protocol.Block, error) {
	for _, existing := range t.data.blocks {
		if existing.BlockID == blk.BlockID {
			return protocol.Block{}, fmt.Errorf("block %d: %w", blk.BlockID, storage.ErrDuplicate)
		}
	}
	if blk.ID == "" {
		blk.ID = uuid.NewString()
	}
	t.data.blocks = append(t.data.blocks, blk)
	return blk, nil
}

// dataset ---------------------------------------------------------------------

type dataset struct {
	accounts     map[string]ledger.Account
	byHandle     map[string]string
	byReserved   map[string]string
	transactions []ledger.Transaction
	referrals    map[string]ledger.Referral
	state        *protocol.State
	blocks       []protocol.Block
}

func newDataset() *dataset {
	return &dataset{
		accounts:   make(map[string]ledger.Account),
		byHandle:   make(map[string]string),
		byReserved: make(map[string]string),
		referrals:  make(map[string]ledger.Referral),
	}
}

// clone copies every container. Stored values are never mutated in place, so
// a shallow copy of each element is sufficient.
func (d *dataset) clone() *dataset {
	out := &dataset{
		accounts:     make(map[string]ledger.Account, len(d.accounts)),
		byHandle:     make(map[string]string, len(d.byHandle)),
		byReserved:   make(map[string]string, len(d.byReserved)),
		transactions: append([]ledger.Transaction(nil), d.transactions...),
		referrals:    make(map[string]ledger.Referral, len(d.referrals)),
		blocks:       append([]protocol.Block(nil), d.blocks...),
	}
	for k, v := range d.referrals {
		out.referrals[k] = v
	}
	for k, v := range d.accounts {
		out.accounts[k] = v
	}
	for k, v := range d.byHandle {
		out.byHandle[k] = v
	}
	for k, v := range d.byReserved {
		out.byReserved[k] = v
	}
	if d.state != nil {
		st := *d.state
		out.state = &st
	}
	return out
}

func (d *dataset) getAccount(id string) (ledger.Account, error) {
	acct, ok := d.accounts[id]
	if !ok {
		return ledger.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	return acct, nil
}

func (d *dataset) getAccountByHandle(handle string) (ledger.Account, error) {
	id, ok := d.byHandle[strings.ToLower(handle)]
	if !ok {
		return ledger.Account{}, fmt.Errorf("account %s: %w", handle, storage.ErrNotFound)
	}
	return d.getAccount(id)
}

func (d *dataset) getReserved(bucket protocol.Bucket) (ledger.Account, error) {
	id, ok := d.byReserved[bucket.Key()]
	if !ok {
		return ledger.Account{}, fmt.Errorf("bucket %s: %w", bucket, storage.ErrNotFound)
	}
	return d.getAccount(id)
}

// users returns non-reserved accounts ordered by creation time then ID.
func (d *dataset) users() []ledger.Account {
	out := make([]ledger.Account, 0, len(d.accounts))
	for _, acct := range d.accounts {
		if !acct.Reserved {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *dataset) listAccounts(limit, offset int) ([]ledger.Account, int) {
	all := d.users()
	return page(all, limit, offset), len(all)
}

func (d *dataset) listTransactions(q ledger.HistoryQuery) ([]ledger.Transaction, int) {
	var matched []ledger.Transaction
	for _, tx := range d.transactions {
		if q.AccountID == "" || tx.ActorID == q.AccountID || tx.FromID == q.AccountID || tx.ToID == q.AccountID {
			matched = append(matched, tx)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if q.Ascending {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return page(matched, q.Limit, q.Offset), len(matched)
}

// transfers yields peer transfers at or after since whose recipient is a
// live, non-reserved account.
func (d *dataset) transfers(since time.Time, fn func(tx ledger.Transaction)) {
	for _, tx := range d.transactions {
		if tx.Type != ledger.TxSend || tx.Karma == nil || tx.CreatedAt.Before(since) {
			continue
		}
		acct, ok := d.accounts[tx.ToID]
		if !ok || acct.Reserved {
			continue
		}
		fn(tx)
	}
}

func (d *dataset) sumTransfers(since time.Time) []ledger.TransferTotal {
	byID := map[string]*ledger.TransferTotal{}
	d.transfers(since, func(tx ledger.Transaction) {
		agg, ok := byID[tx.ToID]
		if !ok {
			agg = &ledger.TransferTotal{AccountID: tx.ToID}
			byID[tx.ToID] = agg
		}
		agg.Total = agg.Total.Add(*tx.Karma)
		agg.Count++
	})
	out := make([]ledger.TransferTotal, 0, len(byID))
	for _, agg := range byID {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

func (d *dataset) countTransfers(since time.Time) int64 {
	var n int64
	d.transfers(since, func(ledger.Transaction) { n++ })
	return n
}

func (d *dataset) listStakers() []ledger.Account {
	var out []ledger.Account
	for _, acct := range d.accounts {
		if !acct.Reserved && acct.Staked.IsPositive() {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *dataset) sumStaked() decimal.Decimal {
	total := decimal.Zero
	for _, acct := range d.listStakers() {
		total = total.Add(acct.Staked)
	}
	return total
}

func (d *dataset) totals() ledger.Totals {
	var t ledger.Totals
	for _, acct := range d.users() {
		t.Users++
		t.Karma = t.Karma.Add(acct.Karma)
		t.Chiliz = t.Chiliz.Add(acct.Chiliz)
		t.Staked = t.Staked.Add(acct.Staked)
		t.RewardsEarned = t.RewardsEarned.Add(acct.RewardsEarned)
	}
	for _, tx := range d.transactions {
		if tx.Karma == nil {
			continue
		}
		switch tx.Type {
		case ledger.TxSend:
			t.Transfers++
			t.Transferred = t.Transferred.Add(*tx.Karma)
		case ledger.TxMint:
			t.Minted = t.Minted.Add(*tx.Karma)
		}
	}
	return t
}

func (d *dataset) sumByType(since, until time.Time) []ledger.TypeTotal {
	byType := map[ledger.TxType]*ledger.TypeTotal{}
	for _, tx := range d.transactions {
		if tx.CreatedAt.Before(since) || tx.CreatedAt.After(until) {
			continue
		}
		agg, ok := byType[tx.Type]
		if !ok {
			agg = &ledger.TypeTotal{Type: tx.Type}
			byType[tx.Type] = agg
		}
		agg.Count++
		if tx.Karma != nil {
			agg.Karma = agg.Karma.Add(*tx.Karma)
		}
		if tx.Chiliz != nil {
			agg.Chiliz = agg.Chiliz.Add(*tx.Chiliz)
		}
	}
	out := make([]ledger.TypeTotal, 0, len(byType))
	for _, agg := range byType {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

func (d *dataset) countActiveSenders(since time.Time) int64 {
	seen := map[string]struct{}{}
	for _, tx := range d.transactions {
		if tx.Type == ledger.TxSend && tx.ActorID != "" && !tx.CreatedAt.Before(since) {
			seen[tx.ActorID] = struct{}{}
		}
	}
	return int64(len(seen))
}

func (d *dataset) getReferral(inviteeID string) (ledger.Referral, error) {
	ref, ok := d.referrals[inviteeID]
	if !ok {
		return ledger.Referral{}, fmt.Errorf("referral for %s: %w", inviteeID, storage.ErrNotFound)
	}
	return ref, nil
}

func (d *dataset) protocolState() protocol.State {
	if d.state == nil {
		return protocol.State{DeferredRewards: decimal.Zero}
	}
	st := *d.state
	st.UtilizationWindow = cloneMap(st.UtilizationWindow)
	return st
}

func (d *dataset) latestBlock() (protocol.Block, error) {
	if len(d.blocks) == 0 {
		return protocol.Block{}, fmt.Errorf("protocol block: %w", storage.ErrNotFound)
	}
	latest := d.blocks[0]
	for _, blk := range d.blocks[1:] {
		if blk.BlockID > latest.BlockID {
			latest = blk
		}
	}
	return latest, nil
}

func (d *dataset) listBlocks(limit int) []protocol.Block {
	out := append([]protocol.Block(nil), d.blocks...)
	sort.Slice(out, func(i, j int) bool { return out[i].BlockID > out[j].BlockID })
	return page(out, limit, 0)
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return append([]T(nil), items...)
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
