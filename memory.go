package ledgerxgo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	_ Repository = (*MemoryStore)(nil)
)

// MemoryStore is an in-process Repository with the same locking and atomicity
// guarantees as PostgresEndpoint. It backs tests and local runs without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	accts    map[snowflake.ID]*memAccount
	byNumber map[string]snowflake.ID
	txns     map[string]*Transaction
	entryID  int64

	auditMu sync.Mutex
	audit   []AuditRecord

	// AfterApply, when set, runs after a posting's balances are applied and before the
	// transaction is recorded. An error from it makes the store revert the balances.
	AfterApply func(txnID string) error

	now func() time.Time
}

type memAccount struct {
	mu   sync.Mutex
	acct Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accts:    make(map[snowflake.ID]*memAccount),
		byNumber: make(map[string]snowflake.ID),
		txns:     make(map[string]*Transaction),
		now:      time.Now,
	}
}

func (m *MemoryStore) CreateAccount(_ context.Context, acct Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accts[acct.AcctID]; ok {
		return ErrBadRequest{Fields: map[string]string{"id": "already exists"}}
	}
	if _, ok := m.byNumber[acct.Number]; ok {
		return ErrBadRequest{Fields: map[string]string{"account_number": "already exists"}}
	}
	if acct.Status == "" {
		acct.Status = StatusActive
	}
	now := m.now()
	acct.CreatedAt, acct.UpdatedAt = now, now
	m.accts[acct.AcctID] = &memAccount{acct: acct}
	m.byNumber[acct.Number] = acct.AcctID
	return nil
}

func (m *MemoryStore) account(id snowflake.ID) (*memAccount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ma, ok := m.accts[id]
	return ma, ok
}

func (m *MemoryStore) GetAccount(_ context.Context, id snowflake.ID) (*Account, error) {
	ma, ok := m.account(id)
	if !ok {
		return nil, ErrAccountNotFound{ID: id.Int64()}
	}
	ma.mu.Lock()
	acct := ma.acct
	ma.mu.Unlock()
	return &acct, nil
}

func (m *MemoryStore) GetAccountByNumber(ctx context.Context, number string) (*Account, error) {
	m.mu.RLock()
	id, ok := m.byNumber[number]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrAccountNotFound{Number: number}
	}
	return m.GetAccount(ctx, id)
}

func (m *MemoryStore) UpdateAccountStatus(_ context.Context, id snowflake.ID, status AccountStatus) (*Account, *Account, error) {
	ma, ok := m.account(id)
	if !ok {
		return nil, nil, ErrAccountNotFound{ID: id.Int64()}
	}
	ma.mu.Lock()
	defer ma.mu.Unlock()
	before := ma.acct
	ma.acct.Status = status
	ma.acct.UpdatedAt = m.now()
	after := ma.acct
	return &before, &after, nil
}

func (m *MemoryStore) ClaimTransaction(_ context.Context, txn Transaction) (*Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, ok := m.txns[txn.ID]; ok {
		cp := *stored
		return &cp, false, nil
	}
	txn.Status = TxnPending
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = m.now()
	}
	stored := txn
	m.txns[txn.ID] = &stored
	return &txn, true, nil
}

func (m *MemoryStore) GetTransaction(_ context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txn, ok := m.txns[id]
	if !ok {
		return nil, ErrNotFound{ID: id}
	}
	cp := *txn
	return &cp, nil
}

func (m *MemoryStore) PostTransaction(_ context.Context, txnID string, ids []snowflake.ID, fn PostFunc) (*Posting, error) {
	ids = sortedUnique(ids)
	locked := make(map[snowflake.ID]*memAccount, len(ids))
	for _, id := range ids {
		ma, ok := m.account(id)
		if !ok {
			continue
		}
		ma.mu.Lock()
		defer ma.mu.Unlock()
		locked[id] = ma
	}

	m.mu.RLock()
	txn, ok := m.txns[txnID]
	var pending bool
	if ok {
		pending = txn.Status == TxnPending
	}
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound{ID: txnID}
	}
	if !pending {
		return nil, fmt.Errorf("transaction %s is not pending", txnID)
	}

	view := make(map[snowflake.ID]Account, len(locked))
	for id, ma := range locked {
		view[id] = ma.acct
	}
	entries, err := fn(view)
	if err != nil {
		return nil, err
	}

	balances := make(map[snowflake.ID]decimal.Decimal, len(locked))
	for id, ma := range locked {
		balances[id] = ma.acct.Balance
	}
	now := m.now()
	for i := range entries {
		id := entries[i].AcctID
		if _, ok := locked[id]; !ok {
			return nil, fmt.Errorf("entry references unlocked account %d", id)
		}
		balances[id] = balances[id].Add(entries[i].Amount)
		entries[i].TransactionID = txnID
		entries[i].BalanceAfter = balances[id]
		entries[i].CreatedAt = now
	}

	before := snapshots(locked, ids)
	prior := make(map[snowflake.ID]Account, len(locked))
	for id, ma := range locked {
		prior[id] = ma.acct
	}
	for id, bal := range balances {
		locked[id].acct.Balance = bal
		locked[id].acct.UpdatedAt = now
	}

	if m.AfterApply != nil {
		if err := m.AfterApply(txnID); err != nil {
			for id, acct := range prior {
				locked[id].acct = acct
			}
			return nil, ErrCompensated{Accounts: before, Err: err}
		}
	}
	after := snapshots(locked, ids)

	m.mu.Lock()
	for i := range entries {
		m.entryID++
		entries[i].ID = m.entryID
	}
	txn.Status = TxnCompleted
	txn.CompletedAt = &now
	txn.Entries = entries
	for i, snap := range before {
		if snap.AcctID == txn.Subject {
			txn.BalanceBefore = snap.Balance
			txn.BalanceAfter = after[i].Balance
		}
	}
	committed := *txn
	m.mu.Unlock()

	return &Posting{Transaction: committed, Before: before, After: after}, nil
}

func snapshots(locked map[snowflake.ID]*memAccount, ids []snowflake.ID) []AccountSnapshot {
	snaps := make([]AccountSnapshot, 0, len(ids))
	for _, id := range ids {
		if ma, ok := locked[id]; ok {
			snaps = append(snaps, ma.acct.Snapshot())
		}
	}
	return snaps
}

func (m *MemoryStore) FailTransaction(_ context.Context, failed Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[failed.ID]
	if !ok {
		return ErrNotFound{ID: failed.ID}
	}
	if txn.Status != TxnPending {
		return fmt.Errorf("transaction %s is not pending", failed.ID)
	}
	now := m.now()
	txn.Status = TxnFailed
	txn.FailureCode = failed.FailureCode
	txn.FailureReason = failed.FailureReason
	txn.FailureDetail = failed.FailureDetail
	txn.BalanceBefore = failed.BalanceBefore
	txn.BalanceAfter = failed.BalanceAfter
	txn.CompletedAt = &now
	return nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, acctID snowflake.ID, limit int) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var txns []Transaction
	for _, txn := range m.txns {
		if txn.From == acctID || txn.To == acctID {
			cp := *txn
			cp.Entries = append([]LedgerEntry(nil), txn.Entries...)
			txns = append(txns, cp)
		}
	}
	// created_at DESC, id DESC
	sort.Slice(txns, func(i, j int) bool {
		if !txns[i].CreatedAt.Equal(txns[j].CreatedAt) {
			return txns[i].CreatedAt.After(txns[j].CreatedAt)
		}
		return txns[i].ID > txns[j].ID
	})
	if limit > 0 && len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

func (m *MemoryStore) OutboundTotal(_ context.Context, ownerID string, since time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	accts := make(map[snowflake.ID]*memAccount, len(m.accts))
	for id, ma := range m.accts {
		accts[id] = ma
	}
	m.mu.RUnlock()

	owned := make(map[snowflake.ID]bool)
	for id, ma := range accts {
		ma.mu.Lock()
		if ma.acct.OwnerID == ownerID {
			owned[id] = true
		}
		ma.mu.Unlock()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, txn := range m.txns {
		if txn.Status == TxnCompleted && owned[txn.From] && !txn.CreatedAt.Before(since) {
			total = total.Add(txn.Amount)
		}
	}
	return total, nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, rec *AuditRecord, seal SealFunc) error {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()

	prev := ""
	if n := len(m.audit); n > 0 {
		prev = m.audit[n-1].Hash
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Seq = int64(len(m.audit) + 1)
	rec.PrevHash = prev
	rec.Hash = seal(prev)
	m.audit = append(m.audit, *rec)
	return nil
}

func (m *MemoryStore) ListAudit(_ context.Context, limit int) ([]AuditRecord, error) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()

	start := 0
	if limit > 0 && len(m.audit) > limit {
		start = len(m.audit) - limit
	}
	recs := make([]AuditRecord, len(m.audit)-start)
	copy(recs, m.audit[start:])
	return recs, nil
}

func sortedUnique(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]bool, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
