// Package memory provides an in-process domain.Store.
//
// It keeps the same contract as the PostgreSQL store: GetForUpdate takes an
// exclusive per-account lock held until the unit of work ends, writes inside
// WithTransaction are staged and applied atomically on commit, and uniqueness
// of user ids and transaction ids is enforced at commit time.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/internal/errors"
)

type Store struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]domain.AccountState
	byUser       map[string]uuid.UUID
	transactions map[uuid.UUID]storedTransaction
	byTxID       map[domain.TransactionID]uuid.UUID
	entries      map[uuid.UUID][]domain.JournalEntry
	seq          int64

	locksMu sync.Mutex
	locks   map[uuid.UUID]chan struct{}
}

type storedTransaction struct {
	tx  *domain.LedgerTransaction
	seq int64
}

func NewStore() *Store {
	return &Store{
		accounts:     make(map[uuid.UUID]domain.AccountState),
		byUser:       make(map[string]uuid.UUID),
		transactions: make(map[uuid.UUID]storedTransaction),
		byTxID:       make(map[domain.TransactionID]uuid.UUID),
		entries:      make(map[uuid.UUID][]domain.JournalEntry),
		locks:        make(map[uuid.UUID]chan struct{}),
	}
}

func (s *Store) Accounts() domain.AccountRepository {
	return &accountRepository{uow: s.autocommit()}
}

func (s *Store) Transactions() domain.TransactionRepository {
	return &transactionRepository{uow: s.autocommit()}
}

func (s *Store) Journal() domain.JournalRepository {
	return &journalRepository{uow: s.autocommit()}
}

func (s *Store) Ping(context.Context) error {
	return nil
}

// WithTransaction runs fn against a staged unit of work. Nothing is visible
// to other callers until fn returns nil and the commit succeeds; account
// locks are released on every path.
func (s *Store) WithTransaction(ctx context.Context, fn func(domain.Store) error) error {
	uow := newUnitOfWork(s, false)
	defer uow.releaseLocks()

	defer func() {
		if p := recover(); p != nil {
			uow.discard()
			panic(p)
		}
	}()

	if err := fn(&txStore{uow: uow}); err != nil {
		uow.discard()
		return err
	}
	if err := ctx.Err(); err != nil {
		uow.discard()
		return err
	}
	return uow.commit()
}

func (s *Store) autocommit() *unitOfWork {
	return newUnitOfWork(s, true)
}

func (s *Store) acquire(ctx context.Context, id uuid.UUID) error {
	s.locksMu.Lock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	s.locksMu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release(id uuid.UUID) {
	s.locksMu.Lock()
	ch := s.locks[id]
	s.locksMu.Unlock()
	<-ch
}

// txStore is the domain.Store handed to WithTransaction callbacks.
type txStore struct {
	uow *unitOfWork
}

func (t *txStore) Accounts() domain.AccountRepository {
	return &accountRepository{uow: t.uow}
}

func (t *txStore) Transactions() domain.TransactionRepository {
	return &transactionRepository{uow: t.uow}
}

func (t *txStore) Journal() domain.JournalRepository {
	return &journalRepository{uow: t.uow}
}

func (t *txStore) Ping(context.Context) error {
	return nil
}

// WithTransaction on an open unit of work joins it.
func (t *txStore) WithTransaction(_ context.Context, fn func(domain.Store) error) error {
	return fn(t)
}

type unitOfWork struct {
	store      *Store
	autocommit bool

	accounts     map[uuid.UUID]domain.AccountState
	created      map[uuid.UUID]bool
	transactions []*domain.LedgerTransaction
	entries      []domain.JournalEntry
	held         map[uuid.UUID]bool
}

func newUnitOfWork(s *Store, autocommit bool) *unitOfWork {
	return &unitOfWork{
		store:      s,
		autocommit: autocommit,
		accounts:   make(map[uuid.UUID]domain.AccountState),
		created:    make(map[uuid.UUID]bool),
		held:       make(map[uuid.UUID]bool),
	}
}

func (u *unitOfWork) flush() error {
	if !u.autocommit {
		return nil
	}
	return u.commit()
}

func (u *unitOfWork) discard() {
	u.accounts = make(map[uuid.UUID]domain.AccountState)
	u.created = make(map[uuid.UUID]bool)
	u.transactions = nil
	u.entries = nil
}

func (u *unitOfWork) releaseLocks() {
	for id := range u.held {
		u.store.release(id)
	}
	u.held = make(map[uuid.UUID]bool)
}

func (u *unitOfWork) lock(ctx context.Context, id uuid.UUID) error {
	if u.held[id] {
		return nil
	}
	if err := u.store.acquire(ctx, id); err != nil {
		return err
	}
	u.held[id] = true
	return nil
}

func (u *unitOfWork) account(id uuid.UUID) (domain.AccountState, bool) {
	if st, ok := u.accounts[id]; ok {
		return st, true
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	st, ok := u.store.accounts[id]
	return st, ok
}

func (u *unitOfWork) transactionByTxID(txID domain.TransactionID) *domain.LedgerTransaction {
	for _, tx := range u.transactions {
		if tx.TransactionID == txID {
			return tx
		}
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	id, ok := u.store.byTxID[txID]
	if !ok {
		return nil
	}
	return u.store.transactions[id].tx
}

// commit validates uniqueness against committed state and applies every
// staged write under one lock.
func (u *unitOfWork) commit() error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range u.created {
		st := u.accounts[id]
		if _, exists := s.accounts[id]; exists {
			return errors.ErrDuplicateAccount
		}
		if _, exists := s.byUser[st.UserID]; exists {
			return errors.ErrDuplicateAccount
		}
	}
	for _, tx := range u.transactions {
		if _, exists := s.byTxID[tx.TransactionID]; exists {
			return errors.ErrDuplicateTransaction.WithDetails(tx.TransactionID.String())
		}
	}
	for id := range u.accounts {
		if _, exists := s.accounts[id]; !exists && !u.created[id] {
			return errors.ErrAccountNotFound
		}
	}

	for id, st := range u.accounts {
		s.accounts[id] = st
		if u.created[id] {
			s.byUser[st.UserID] = id
		}
	}
	for _, tx := range u.transactions {
		s.seq++
		s.transactions[tx.ID] = storedTransaction{tx: tx, seq: s.seq}
		s.byTxID[tx.TransactionID] = tx.ID
	}
	for _, e := range u.entries {
		s.entries[e.LedgerTransactionID] = append(s.entries[e.LedgerTransactionID], e)
	}

	u.discard()
	return nil
}

type accountRepository struct {
	uow *unitOfWork
}

func (r *accountRepository) Create(_ context.Context, account *domain.Account) error {
	st := account.State()
	if _, exists := r.uow.account(st.ID); exists {
		return errors.ErrDuplicateAccount
	}
	if existing, _ := r.GetByUserID(context.Background(), st.UserID); existing != nil {
		return errors.ErrDuplicateAccount
	}
	r.uow.accounts[st.ID] = st
	r.uow.created[st.ID] = true
	return r.uow.flush()
}

func (r *accountRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	st, ok := r.uow.account(id)
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return domain.RestoreAccount(st), nil
}

func (r *accountRepository) GetByUserID(_ context.Context, userID string) (*domain.Account, error) {
	for _, st := range r.uow.accounts {
		if st.UserID == userID {
			return domain.RestoreAccount(st), nil
		}
	}
	r.uow.store.mu.RLock()
	id, ok := r.uow.store.byUser[userID]
	st := r.uow.store.accounts[id]
	r.uow.store.mu.RUnlock()
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return domain.RestoreAccount(st), nil
}

func (r *accountRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if _, ok := r.uow.account(id); !ok {
		return nil, errors.ErrAccountNotFound
	}
	if err := r.uow.lock(ctx, id); err != nil {
		return nil, err
	}
	if r.uow.autocommit {
		defer r.uow.releaseLocks()
	}
	// re-read after the lock so the caller sees the last committed state
	return r.GetByID(ctx, id)
}

func (r *accountRepository) Update(_ context.Context, account *domain.Account) error {
	st := account.State()
	if _, ok := r.uow.account(st.ID); !ok {
		return errors.ErrAccountNotFound
	}
	r.uow.accounts[st.ID] = st
	return r.uow.flush()
}

type transactionRepository struct {
	uow *unitOfWork
}

func (r *transactionRepository) Create(_ context.Context, tx *domain.LedgerTransaction) error {
	if r.uow.transactionByTxID(tx.TransactionID) != nil {
		return errors.ErrDuplicateTransaction.WithDetails(tx.TransactionID.String())
	}
	r.uow.transactions = append(r.uow.transactions, cloneTransaction(tx))
	return r.uow.flush()
}

func (r *transactionRepository) GetByTransactionID(_ context.Context, txID domain.TransactionID) (*domain.LedgerTransaction, error) {
	tx := r.uow.transactionByTxID(txID)
	if tx == nil {
		return nil, nil
	}
	return cloneTransaction(tx), nil
}

func (r *transactionRepository) SumRefunds(_ context.Context, originalTxID domain.TransactionID) (decimal.Decimal, error) {
	total := decimal.Zero
	add := func(tx *domain.LedgerTransaction) {
		if tx.Type == domain.TransactionTypeRefund &&
			tx.Status == domain.TransactionStatusCompleted &&
			tx.OriginalTransactionID == originalTxID {
			total = total.Add(tx.Amount.Amount())
		}
	}
	for _, tx := range r.uow.transactions {
		add(tx)
	}
	r.uow.store.mu.RLock()
	defer r.uow.store.mu.RUnlock()
	for _, st := range r.uow.store.transactions {
		add(st.tx)
	}
	return total, nil
}

func (r *transactionRepository) List(_ context.Context, filter domain.HistoryFilter) ([]*domain.LedgerTransaction, int, error) {
	r.uow.store.mu.RLock()
	matched := make([]storedTransaction, 0)
	for _, st := range r.uow.store.transactions {
		if filter.Matches(st.tx) {
			matched = append(matched, st)
		}
	}
	r.uow.store.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.tx.TransactionDate.Equal(b.tx.TransactionDate) {
			return a.tx.TransactionDate.After(b.tx.TransactionDate)
		}
		return a.seq > b.seq
	})

	total := len(matched)
	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	page := make([]*domain.LedgerTransaction, 0, end-start)
	for _, st := range matched[start:end] {
		page = append(page, cloneTransaction(st.tx))
	}
	return page, total, nil
}

type journalRepository struct {
	uow *unitOfWork
}

func (r *journalRepository) CreateBatch(_ context.Context, entries []domain.JournalEntry) error {
	r.uow.entries = append(r.uow.entries, entries...)
	return r.uow.flush()
}

func (r *journalRepository) ListByLedgerTransaction(_ context.Context, ledgerTxID uuid.UUID) ([]domain.JournalEntry, error) {
	var out []domain.JournalEntry
	for _, e := range r.uow.entries {
		if e.LedgerTransactionID == ledgerTxID {
			out = append(out, e)
		}
	}
	r.uow.store.mu.RLock()
	defer r.uow.store.mu.RUnlock()
	out = append(out, r.uow.store.entries[ledgerTxID]...)
	return out, nil
}

func cloneTransaction(tx *domain.LedgerTransaction) *domain.LedgerTransaction {
	cp := *tx
	if tx.Metadata != nil {
		cp.Metadata = make(map[string]string, len(tx.Metadata))
		for k, v := range tx.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
