package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/eaglebank/ledger/shared/money"
	"github.com/shopspring/decimal"
)

var errLockTimeout = errors.New("timed out waiting for row lock")

const defaultMemoryLockTimeout = 5 * time.Second

// MemoryAccountStore is an in-process AccountStore with the same visibility
// and locking rules as the Postgres store: one exclusive lock per row, writes
// staged per transaction and published atomically on commit.
type MemoryAccountStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]models.Account

	lockMu sync.Mutex
	locks  map[int64]*rowLock

	lockTimeout time.Duration
	now         func() time.Time
}

type MemoryStoreOption func(*MemoryAccountStore)

// WithLockTimeout bounds how long a transaction waits for a row lock.
func WithLockTimeout(d time.Duration) MemoryStoreOption {
	return func(s *MemoryAccountStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryAccountStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryAccountStore(opts ...MemoryStoreOption) *MemoryAccountStore {
	s := &MemoryAccountStore{
		rows:        make(map[int64]models.Account),
		locks:       make(map[int64]*rowLock),
		lockTimeout: defaultMemoryLockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type memTxKey struct{}

// memTx is the private overlay of one transaction.
type memTx struct {
	held    map[int64]chan struct{}
	writes  map[int64]models.Account
	deleted map[int64]struct{}
}

func memTxFromContext(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

func (s *MemoryAccountStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if memTxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx := &memTx{
		held:    make(map[int64]chan struct{}),
		writes:  make(map[int64]models.Account),
		deleted: make(map[int64]struct{}),
	}
	defer s.release(tx)

	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

// autocommit runs fn in its own transaction unless ctx already has one.
func (s *MemoryAccountStore) autocommit(ctx context.Context, fn func(tx *memTx) error) error {
	if tx := memTxFromContext(ctx); tx != nil {
		return fn(tx)
	}
	return s.WithTx(ctx, func(ctx context.Context) error {
		return fn(memTxFromContext(ctx))
	})
}

func (s *MemoryAccountStore) Create(ctx context.Context, holder string, balance decimal.Decimal) (*models.Account, error) {
	holder, err := validateNewAccount(holder, balance)
	if err != nil {
		return nil, err
	}

	var account models.Account
	err = s.autocommit(ctx, func(tx *memTx) error {
		s.mu.Lock()
		s.nextID++
		id := s.nextID
		s.mu.Unlock()

		if err := s.lock(ctx, tx, id); err != nil {
			return err
		}
		now := s.now()
		account = models.Account{
			ID:        id,
			Holder:    holder,
			Balance:   money.Normalize(balance),
			CreatedAt: now,
			UpdatedAt: now,
		}
		tx.writes[id] = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *MemoryAccountStore) GetAll(ctx context.Context) ([]models.Account, error) {
	tx := memTxFromContext(ctx)

	s.mu.RLock()
	out := make([]models.Account, 0, len(s.rows))
	for id, row := range s.rows {
		if tx != nil {
			if _, gone := tx.deleted[id]; gone {
				continue
			}
			if staged, ok := tx.writes[id]; ok {
				row = staged
			}
		}
		out = append(out, row)
	}
	s.mu.RUnlock()

	if tx != nil {
		for id, row := range tx.writes {
			if !s.committed(id) {
				out = append(out, row)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryAccountStore) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	row, ok := s.visible(memTxFromContext(ctx), id)
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &row, nil
}

func (s *MemoryAccountStore) GetForUpdate(ctx context.Context, id int64) (*models.Account, error) {
	tx := memTxFromContext(ctx)
	if tx == nil {
		return nil, domain.StoreFault(errNoTransaction)
	}
	if err := s.lock(ctx, tx, id); err != nil {
		return nil, err
	}
	row, ok := s.visible(tx, id)
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &row, nil
}

func (s *MemoryAccountStore) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) (int64, error) {
	return s.write(ctx, id, func(row models.Account) (models.Account, error) {
		row.Balance = balance
		return row, nil
	})
}

func (s *MemoryAccountStore) AddToBalance(ctx context.Context, id int64, delta decimal.Decimal) (int64, error) {
	return s.write(ctx, id, func(row models.Account) (models.Account, error) {
		row.Balance = row.Balance.Add(delta)
		return row, nil
	})
}

func (s *MemoryAccountStore) Delete(ctx context.Context, id int64) (int64, error) {
	var affected int64
	err := s.autocommit(ctx, func(tx *memTx) error {
		if err := s.lock(ctx, tx, id); err != nil {
			return err
		}
		if _, ok := s.visible(tx, id); !ok {
			return nil
		}
		delete(tx.writes, id)
		tx.deleted[id] = struct{}{}
		affected = 1
		return nil
	})
	return affected, err
}

// write locks the row, applies change to its current value and stages the
// result, enforcing the same limits as the table's constraints.
func (s *MemoryAccountStore) write(ctx context.Context, id int64, change func(models.Account) (models.Account, error)) (int64, error) {
	var affected int64
	err := s.autocommit(ctx, func(tx *memTx) error {
		if err := s.lock(ctx, tx, id); err != nil {
			return err
		}
		row, ok := s.visible(tx, id)
		if !ok {
			return nil
		}
		updated, err := change(row)
		if err != nil {
			return err
		}
		if updated.Balance.IsNegative() {
			return domain.Validation("balance must not be negative")
		}
		if updated.Balance.GreaterThan(money.Max) {
			return domain.InvalidAmount(money.ErrTooLarge)
		}
		updated.Balance = money.Normalize(updated.Balance)
		updated.UpdatedAt = s.now()
		tx.writes[id] = updated
		affected = 1
		return nil
	})
	return affected, err
}

// visible returns the row as tx sees it: its own staged writes first, then
// committed state.
func (s *MemoryAccountStore) visible(tx *memTx, id int64) (models.Account, bool) {
	if tx != nil {
		if _, gone := tx.deleted[id]; gone {
			return models.Account{}, false
		}
		if row, ok := tx.writes[id]; ok {
			return row, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	return row, ok
}

func (s *MemoryAccountStore) committed(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[id]
	return ok
}

// rowLock is the lock of one row. refs counts the holder plus every waiter;
// the entry is dropped when it reaches zero.
type rowLock struct {
	ch   chan struct{}
	refs int
}

func (s *MemoryAccountStore) acquireRef(id int64) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &rowLock{ch: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	return l.ch
}

func (s *MemoryAccountStore) dropRef(id int64) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		return
	}
	if l.refs--; l.refs == 0 {
		delete(s.locks, id)
	}
}

// lock acquires the exclusive lock on id for tx, waiting at most lockTimeout
// and giving up early if ctx is cancelled.
func (s *MemoryAccountStore) lock(ctx context.Context, tx *memTx, id int64) error {
	if _, ok := tx.held[id]; ok {
		return nil
	}
	ch := s.acquireRef(id)

	select {
	case ch <- struct{}{}:
		tx.held[id] = ch
		return nil
	default:
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		tx.held[id] = ch
		return nil
	case <-ctx.Done():
		s.dropRef(id)
		return domain.StoreFault(ctx.Err())
	case <-timer.C:
		s.dropRef(id)
		return domain.StoreFault(errLockTimeout)
	}
}

func (s *MemoryAccountStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, row := range tx.writes {
		s.rows[id] = row
	}
	for id := range tx.deleted {
		delete(s.rows, id)
	}
}

func (s *MemoryAccountStore) release(tx *memTx) {
	for id, ch := range tx.held {
		<-ch
		delete(tx.held, id)
		s.dropRef(id)
	}
}

// Ping always succeeds; it lets the memory store stand in for a database in
// health checks.
func (s *MemoryAccountStore) Ping(context.Context) error { return nil }
