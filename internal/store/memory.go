package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"payments_core/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Store. Units of work are fully serialized and roll back on error.
// It backs tests and local tooling; it is not durable.
type Memory struct {
	mu      sync.Mutex
	users   map[int64]*domain.User
	txns    map[uuid.UUID]*domain.Transaction
	entries []*domain.LedgerEntry
	nextID  int64
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users: make(map[int64]*domain.User),
		txns:  make(map[uuid.UUID]*domain.Transaction),
		now:   time.Now,
	}
}

// AddUser registers a user. It is a seeding helper, not a balance mutation path.
func (m *Memory) AddUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.users[u.ID] = &cp
}

// Entries returns a copy of every ledger entry in insertion order.
func (m *Memory) Entries() []domain.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.LedgerEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out
}

// Backdate shifts a transaction's creation time, for age-based queries.
func (m *Memory) Backdate(id uuid.UUID, by time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.txns[id]; ok {
		t.CreatedAt = t.CreatedAt.Add(-by)
	}
}

type memSnapshot struct {
	users   map[int64]domain.User
	txns    map[uuid.UUID]domain.Transaction
	entries int
	nextID  int64
}

func (m *Memory) snapshot() memSnapshot {
	s := memSnapshot{
		users:   make(map[int64]domain.User, len(m.users)),
		txns:    make(map[uuid.UUID]domain.Transaction, len(m.txns)),
		entries: len(m.entries),
		nextID:  m.nextID,
	}
	for k, v := range m.users {
		s.users[k] = *v
	}
	for k, v := range m.txns {
		s.txns[k] = *v
	}
	return s
}

func (m *Memory) restore(s memSnapshot) {
	m.users = make(map[int64]*domain.User, len(s.users))
	for k, v := range s.users {
		v := v
		m.users[k] = &v
	}
	m.txns = make(map[uuid.UUID]*domain.Transaction, len(s.txns))
	for k, v := range s.txns {
		v := v
		m.txns[k] = &v
	}
	m.entries = m.entries[:s.entries]
	m.nextID = s.nextID
}

func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	if err := ctx.Err(); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func copyTxn(t *domain.Transaction) *domain.Transaction {
	cp := *t
	return &cp
}

func (m *Memory) TransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTxn(t), nil
}

func (m *Memory) TransactionByExternalID(ctx context.Context, provider, externalID string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txns {
		if t.Provider == provider && t.ExternalID == externalID && externalID != "" {
			return copyTxn(t), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) AttachExternalID(ctx context.Context, id uuid.UUID, externalID, paymentCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return ErrNotFound
	}
	if externalID != "" && t.ExternalID == "" {
		for _, other := range m.txns {
			if other.ID != id && other.Provider == t.Provider && other.ExternalID == externalID {
				return ErrDuplicateEntry
			}
		}
		t.ExternalID = externalID
	}
	if paymentCode != "" {
		t.PaymentCode = paymentCode
	}
	return nil
}

func (m *Memory) ClaimDispatch(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok || t.Status != domain.StatusPending || t.Kind != domain.KindWithdrawal || t.DispatchedAt != nil {
		return false, nil
	}
	now := m.now()
	t.DispatchedAt = &now
	return true, nil
}

func (m *Memory) PendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Transaction
	for _, t := range m.txns {
		if t.Status == domain.StatusPending && t.CreatedAt.Before(olderThan) {
			out = append(out, copyTxn(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UserTransactions(ctx context.Context, userID int64, limit int) ([]*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Transaction
	for _, t := range m.txns {
		if t.UserID == userID {
			out = append(out, copyTxn(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) User(ctx context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) Referrer(ctx context.Context, userID int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.ReferredBy == nil {
		return nil, ErrNotFound
	}
	ref, ok := m.users[*u.ReferredBy]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ref
	return &cp, nil
}

func (m *Memory) UserIDs(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) UserEntries(ctx context.Context, userID int64, limit int) ([]*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].UserID == userID {
			cp := *m.entries[i]
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) LedgerTotals(ctx context.Context, userID int64) (decimal.Decimal, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credit, debit := decimal.Zero, decimal.Zero
	for _, e := range m.entries {
		if e.UserID == userID {
			credit = credit.Add(e.Credit)
			debit = debit.Add(e.Debit)
		}
	}
	return credit, debit, nil
}

// memTx runs with Memory.mu held.
type memTx struct {
	m *Memory
}

func (t *memTx) LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tr, ok := t.m.txns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTxn(tr), nil
}

func (t *memTx) InsertTransaction(ctx context.Context, tr *domain.Transaction) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	if _, ok := t.m.txns[tr.ID]; ok {
		return ErrDuplicateEntry
	}
	if tr.ExternalID != "" {
		for _, other := range t.m.txns {
			if other.Provider == tr.Provider && other.ExternalID == tr.ExternalID {
				return ErrDuplicateEntry
			}
		}
	}
	tr.CreatedAt = t.m.now()
	if tr.Status.Terminal() {
		at := tr.CreatedAt
		tr.SettledAt = &at
	}
	t.m.txns[tr.ID] = copyTxn(tr)
	return nil
}

func (t *memTx) SettleTransaction(ctx context.Context, id uuid.UUID, status domain.Status, externalID string, settled *decimal.Decimal, payload json.RawMessage) error {
	tr, ok := t.m.txns[id]
	if !ok || tr.Status != domain.StatusPending {
		return ErrNotPending
	}
	tr.Status = status
	now := t.m.now()
	tr.SettledAt = &now
	if tr.ExternalID == "" && externalID != "" {
		tr.ExternalID = externalID
	}
	if settled != nil {
		v := *settled
		tr.SettledAmount = &v
	}
	if len(payload) > 0 {
		tr.RawPayload = payload
	}
	return nil
}

func (t *memTx) LockUser(ctx context.Context, userID int64) (*domain.User, error) {
	u, ok := t.m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (t *memTx) AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	u, ok := t.m.users[userID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	next := u.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, ErrInsufficientFunds
	}
	u.Balance = next
	return next, nil
}

func (t *memTx) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if e.SourceTransactionID != nil {
		for _, other := range t.m.entries {
			if other.SourceTransactionID != nil && *other.SourceTransactionID == *e.SourceTransactionID && other.Step == e.Step {
				return ErrDuplicateEntry
			}
		}
	}
	t.m.nextID++
	e.ID = t.m.nextID
	e.CreatedAt = t.m.now()
	cp := *e
	t.m.entries = append(t.m.entries, &cp)
	return nil
}

func (t *memTx) EntryExists(ctx context.Context, sourceTransactionID uuid.UUID, step int) (bool, error) {
	for _, e := range t.m.entries {
		if e.SourceTransactionID != nil && *e.SourceTransactionID == sourceTransactionID && e.Step == step {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) HasApproved(ctx context.Context, userID int64, kind domain.Kind, excluding uuid.UUID) (bool, error) {
	for _, tr := range t.m.txns {
		if tr.UserID == userID && tr.Kind == kind && tr.Status == domain.StatusApproved && tr.ID != excluding {
			return true, nil
		}
	}
	return false, nil
}
