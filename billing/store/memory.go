// Package store provides in-memory billing.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	clients      map[billing.ClientID]billing.Client
	payments     map[billing.ClientID]map[int]billing.PaymentRecord
	transactions []billing.FinancialTransaction
	idempotency  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		clients:     make(map[billing.ClientID]billing.Client),
		payments:    make(map[billing.ClientID]map[int]billing.PaymentRecord),
		idempotency: make(map[string]bool),
	}
}

func (m *Memory) GetClient(_ context.Context, id billing.ClientID) (*billing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getClientLocked(id), nil
}

func (m *Memory) getClientLocked(id billing.ClientID) *billing.Client {
	c, ok := m.clients[id]
	if !ok {
		return nil
	}
	c = m.hydrateLocked(c)
	return &c
}

// hydrateLocked attaches payments, ordered by installment, and copies the
// contract so callers cannot mutate stored state.
func (m *Memory) hydrateLocked(c billing.Client) billing.Client {
	if c.Contract != nil {
		contract := *c.Contract
		c.Contract = &contract
	}
	c.Payments = nil
	for _, p := range m.payments[c.ID] {
		c.Payments = append(c.Payments, p)
	}
	sort.Slice(c.Payments, func(i, j int) bool {
		return c.Payments[i].InstallmentNumber < c.Payments[j].InstallmentNumber
	})
	return c
}

func (m *Memory) ListClients(_ context.Context) ([]billing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(false), nil
}

func (m *Memory) ListClientsWithFeeContract(_ context.Context) ([]billing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(true), nil
}

func (m *Memory) listLocked(withContract bool) []billing.Client {
	result := make([]billing.Client, 0, len(m.clients))
	for _, c := range m.clients {
		if withContract && !c.HasFeeContract() {
			continue
		}
		result = append(result, m.hydrateLocked(c))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (m *Memory) SaveClient(_ context.Context, c billing.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveClientLocked(c)
	return nil
}

func (m *Memory) saveClientLocked(c billing.Client) {
	if existing, ok := m.clients[c.ID]; ok && c.CreatedAt.IsZero() {
		c.CreatedAt = existing.CreatedAt
	}
	if c.Contract != nil {
		contract := *c.Contract
		c.Contract = &contract
	}
	c.Payments = nil
	m.clients[c.ID] = c
}

func (m *Memory) UpsertPayment(_ context.Context, rec billing.PaymentRecord, expectedRevision int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertPaymentLocked(rec, expectedRevision)
}

func (m *Memory) upsertPaymentLocked(rec billing.PaymentRecord, expectedRevision int) error {
	if _, ok := m.clients[rec.ClientID]; !ok {
		return billing.ErrClientNotFound
	}
	current, exists := m.payments[rec.ClientID][rec.InstallmentNumber]
	switch {
	case !exists && expectedRevision != 0:
		return billing.ErrConcurrentModification
	case exists && current.Revision != expectedRevision:
		return billing.ErrConcurrentModification
	}

	if m.payments[rec.ClientID] == nil {
		m.payments[rec.ClientID] = make(map[int]billing.PaymentRecord)
	}
	m.payments[rec.ClientID][rec.InstallmentNumber] = rec
	return nil
}

func (m *Memory) DeletePayment(_ context.Context, clientID billing.ClientID, installment int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletePaymentLocked(clientID, installment), nil
}

func (m *Memory) deletePaymentLocked(clientID billing.ClientID, installment int) bool {
	if _, ok := m.payments[clientID][installment]; !ok {
		return false
	}
	delete(m.payments[clientID], installment)
	return true
}

func (m *Memory) ListTransactions(_ context.Context) ([]billing.FinancialTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]billing.FinancialTransaction, len(m.transactions))
	copy(result, m.transactions)
	return result, nil
}

func (m *Memory) TransactionByIdempotencyKey(_ context.Context, key string) (*billing.FinancialTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byKeyLocked(key), nil
}

func (m *Memory) byKeyLocked(key string) *billing.FinancialTransaction {
	if key == "" || !m.idempotency[key] {
		return nil
	}
	for _, tx := range m.transactions {
		if tx.IdempotencyKey == key {
			return &tx
		}
	}
	return nil
}

func (m *Memory) AppendTransaction(_ context.Context, tx billing.FinancialTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx billing.FinancialTransaction) error {
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return billing.ErrDuplicateIdempotencyKey
	}

	// Keep the slice ordered by (Date, CreatedAt); insert after equal keys.
	txs := m.transactions
	i := sort.Search(len(txs), func(i int) bool {
		if !txs[i].Date.Equal(tx.Date) {
			return txs[i].Date.After(tx.Date)
		}
		return txs[i].CreatedAt.After(tx.CreatedAt)
	})
	txs = append(txs, billing.FinancialTransaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions = txs

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) DeleteTransaction(_ context.Context, id billing.TransactionID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteTransactionLocked(id), nil
}

func (m *Memory) deleteTransactionLocked(id billing.TransactionID) bool {
	for i, tx := range m.transactions {
		if tx.ID == id {
			m.transactions = append(m.transactions[:i], m.transactions[i+1:]...)
			return true
		}
	}
	return false
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients = make(map[billing.ClientID]billing.Client)
	m.payments = make(map[billing.ClientID]map[int]billing.PaymentRecord)
	m.transactions = nil
	m.idempotency = make(map[string]bool)
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(billing.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	clients      map[billing.ClientID]billing.Client
	payments     map[billing.ClientID]map[int]billing.PaymentRecord
	transactions []billing.FinancialTransaction
	idempotency  map[string]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		clients:      make(map[billing.ClientID]billing.Client, len(tm.clients)),
		payments:     make(map[billing.ClientID]map[int]billing.PaymentRecord, len(tm.payments)),
		transactions: append([]billing.FinancialTransaction{}, tm.transactions...),
		idempotency:  make(map[string]bool, len(tm.idempotency)),
	}
	for k, v := range tm.clients {
		s.clients[k] = v
	}
	for k, v := range tm.payments {
		inner := make(map[int]billing.PaymentRecord, len(v))
		for n, p := range v {
			inner[n] = p
		}
		s.payments[k] = inner
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.clients = s.clients
	tm.payments = s.payments
	tm.transactions = s.transactions
	tm.idempotency = s.idempotency
}

// txMemoryView runs against the parent while its lock is already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetClient(_ context.Context, id billing.ClientID) (*billing.Client, error) {
	return tv.parent.getClientLocked(id), nil
}

func (tv *txMemoryView) ListClients(_ context.Context) ([]billing.Client, error) {
	return tv.parent.listLocked(false), nil
}

func (tv *txMemoryView) ListClientsWithFeeContract(_ context.Context) ([]billing.Client, error) {
	return tv.parent.listLocked(true), nil
}

func (tv *txMemoryView) SaveClient(_ context.Context, c billing.Client) error {
	tv.parent.saveClientLocked(c)
	return nil
}

func (tv *txMemoryView) UpsertPayment(_ context.Context, rec billing.PaymentRecord, expectedRevision int) error {
	return tv.parent.upsertPaymentLocked(rec, expectedRevision)
}

func (tv *txMemoryView) DeletePayment(_ context.Context, clientID billing.ClientID, installment int) (bool, error) {
	return tv.parent.deletePaymentLocked(clientID, installment), nil
}

func (tv *txMemoryView) ListTransactions(_ context.Context) ([]billing.FinancialTransaction, error) {
	return append([]billing.FinancialTransaction{}, tv.parent.transactions...), nil
}

func (tv *txMemoryView) TransactionByIdempotencyKey(_ context.Context, key string) (*billing.FinancialTransaction, error) {
	return tv.parent.byKeyLocked(key), nil
}

func (tv *txMemoryView) AppendTransaction(_ context.Context, tx billing.FinancialTransaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txMemoryView) DeleteTransaction(_ context.Context, id billing.TransactionID) (bool, error) {
	return tv.parent.deleteTransactionLocked(id), nil
}
