package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"datashop/internal/common/database"
	"datashop/internal/purchase"
	"datashop/internal/wallet"
)

// Memory is an in-memory store with the same atomicity contract as
// Postgres: all writes made inside WithTx are staged and applied together
// only when fn succeeds. A single mutex serializes units, which trivially
// serializes operations per wallet key.
type Memory struct {
	mu sync.Mutex

	wallets       map[string]*wallet.Wallet
	txns          map[string]*wallet.Transaction
	ledgers       map[string][]string // wallet key -> transaction ids, append order
	refs          map[string]string   // processed reference -> outcome id
	purchases     map[string]*purchase.Purchase
	purchaseByRef map[string]string
	regs          map[string]*purchase.Registration
	regByRef      map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		wallets:       make(map[string]*wallet.Wallet),
		txns:          make(map[string]*wallet.Transaction),
		ledgers:       make(map[string][]string),
		refs:          make(map[string]string),
		purchases:     make(map[string]*purchase.Purchase),
		purchaseByRef: make(map[string]string),
		regs:          make(map[string]*purchase.Registration),
		regByRef:      make(map[string]string),
	}
}

var _ wallet.Store = (*Memory)(nil)
var _ purchase.Store = (*Memory)(nil)

// WithTx runs fn with staged writes. On success the staged state is applied
// under the same lock, so concurrent units observe either all of a unit's
// writes or none of them.
func (m *Memory) WithTx(_ context.Context, fn func(tx wallet.TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{base: m, staged: newStaged()}
	if err := fn(tx); err != nil {
		return err
	}
	tx.staged.applyTo(m)
	return nil
}

// GetWallet retrieves a wallet by key.
func (m *Memory) GetWallet(_ context.Context, key string) (*wallet.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[key]
	if !ok {
		return nil, database.ErrNotFound
	}
	return copyWallet(w), nil
}

// GetTransaction retrieves a ledger entry by id.
func (m *Memory) GetTransaction(_ context.Context, id string) (*wallet.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.txns[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return copyTransaction(txn), nil
}

// ListTransactions returns a wallet's ledger entries, oldest first.
func (m *Memory) ListTransactions(_ context.Context, key string, limit, offset int) ([]*wallet.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.ledgers[key]
	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	txns := make([]*wallet.Transaction, 0, len(ids))
	for _, id := range ids {
		txns = append(txns, copyTransaction(m.txns[id]))
	}
	return txns, nil
}

// InsertPurchase records a purchase outside any wallet unit.
func (m *Memory) InsertPurchase(_ context.Context, p *purchase.Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return insertPurchaseLocked(m, p)
}

// InsertRegistration records a registration outside any wallet unit.
func (m *Memory) InsertRegistration(_ context.Context, reg *purchase.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return insertRegistrationLocked(m, reg)
}

// GetPurchase retrieves a purchase by id.
func (m *Memory) GetPurchase(_ context.Context, id string) (*purchase.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.purchases[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return copyPurchase(p), nil
}

// GetPurchaseByReference retrieves a purchase by gateway reference.
func (m *Memory) GetPurchaseByReference(_ context.Context, reference string) (*purchase.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.purchaseByRef[reference]
	if !ok {
		return nil, database.ErrNotFound
	}
	return copyPurchase(m.purchases[id]), nil
}

// GetRegistrationByReference retrieves a registration by gateway reference.
func (m *Memory) GetRegistrationByReference(_ context.Context, reference string) (*purchase.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.regByRef[reference]
	if !ok {
		return nil, database.ErrNotFound
	}
	return copyRegistration(m.regs[id]), nil
}

// ListPurchases returns a wallet's purchases, newest first.
func (m *Memory) ListPurchases(_ context.Context, walletKey string, limit, offset int) ([]*purchase.Purchase, error) {
	return m.listPurchases(walletKey, true, limit, offset)
}

// ListPurchaseHistory returns a wallet's purchases, oldest first.
func (m *Memory) ListPurchaseHistory(_ context.Context, walletKey string, limit, offset int) ([]*purchase.Purchase, error) {
	return m.listPurchases(walletKey, false, limit, offset)
}

func (m *Memory) listPurchases(walletKey string, newestFirst bool, limit, offset int) ([]*purchase.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*purchase.Purchase
	for _, p := range m.purchases {
		if p.WalletKey == walletKey {
			all = append(all, copyPurchase(p))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if newestFirst {
			i, j = j, i
		}
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// CompletePurchase transitions a pending purchase to completed, claiming
// its reference so redeliveries are absorbed.
func (m *Memory) CompletePurchase(_ context.Context, reference string) (*purchase.Purchase, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.purchaseByRef[reference]
	if !ok {
		return nil, false, database.ErrNotFound
	}
	p := m.purchases[id]

	if _, claimed := m.refs[reference]; claimed || p.Status == purchase.StatusCompleted {
		return copyPurchase(p), false, nil
	}
	m.refs[reference] = p.ID

	now := time.Now().UTC()
	p.Status = purchase.StatusCompleted
	p.CompletedAt = &now
	p.UpdatedAt = now
	return copyPurchase(p), true, nil
}

// CompleteRegistration transitions a pending registration to completed.
func (m *Memory) CompleteRegistration(_ context.Context, reference string) (*purchase.Registration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.regByRef[reference]
	if !ok {
		return nil, false, database.ErrNotFound
	}
	reg := m.regs[id]

	if _, claimed := m.refs[reference]; claimed || reg.Status == purchase.StatusCompleted {
		return copyRegistration(reg), false, nil
	}
	m.refs[reference] = reg.ID

	now := time.Now().UTC()
	reg.Status = purchase.StatusCompleted
	reg.CompletedAt = &now
	reg.UpdatedAt = now
	return copyRegistration(reg), true, nil
}

// staged holds the uncommitted writes of one unit.
type staged struct {
	wallets   map[string]*wallet.Wallet
	txns      map[string]*wallet.Transaction
	ledgers   map[string][]string
	refs      map[string]string
	purchases []*purchase.Purchase
	regs      []*purchase.Registration
}

func newStaged() *staged {
	return &staged{
		wallets: make(map[string]*wallet.Wallet),
		txns:    make(map[string]*wallet.Transaction),
		ledgers: make(map[string][]string),
		refs:    make(map[string]string),
	}
}

func (s *staged) applyTo(m *Memory) {
	for key, w := range s.wallets {
		m.wallets[key] = w
	}
	for id, txn := range s.txns {
		m.txns[id] = txn
	}
	for key, ids := range s.ledgers {
		m.ledgers[key] = append(m.ledgers[key], ids...)
	}
	for ref, outcome := range s.refs {
		m.refs[ref] = outcome
	}
	for _, p := range s.purchases {
		m.purchases[p.ID] = p
		if p.GatewayReference != "" {
			m.purchaseByRef[p.GatewayReference] = p.ID
		}
	}
	for _, reg := range s.regs {
		m.regs[reg.ID] = reg
		if reg.GatewayReference != "" {
			m.regByRef[reg.GatewayReference] = reg.ID
		}
	}
}

// memTx implements wallet.TxStore and purchase.TxStore over staged state.
// The base mutex is already held by WithTx.
type memTx struct {
	base   *Memory
	staged *staged
}

var _ wallet.TxStore = (*memTx)(nil)
var _ purchase.TxStore = (*memTx)(nil)

func (t *memTx) GetWalletForUpdate(_ context.Context, key string) (*wallet.Wallet, error) {
	if w, ok := t.staged.wallets[key]; ok {
		return copyWallet(w), nil
	}
	if w, ok := t.base.wallets[key]; ok {
		return copyWallet(w), nil
	}
	return nil, database.ErrNotFound
}

func (t *memTx) CreateWallet(_ context.Context, w *wallet.Wallet) error {
	if _, ok := t.staged.wallets[w.Key]; ok {
		return fmt.Errorf("wallet %s: %w", w.Key, database.ErrAlreadyExists)
	}
	if _, ok := t.base.wallets[w.Key]; ok {
		return fmt.Errorf("wallet %s: %w", w.Key, database.ErrAlreadyExists)
	}
	t.staged.wallets[w.Key] = copyWallet(w)
	return nil
}

func (t *memTx) UpdateBalance(_ context.Context, key string, newBalanceMinor int64, expectedVersion int64) error {
	current, ok := t.staged.wallets[key]
	if !ok {
		current, ok = t.base.wallets[key]
	}
	if !ok {
		return database.ErrNotFound
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("wallet %s version %d: %w", key, expectedVersion, database.ErrConflict)
	}

	next := copyWallet(current)
	next.Balance.AmountMinor = newBalanceMinor
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	t.staged.wallets[key] = next
	return nil
}

func (t *memTx) AppendTransaction(_ context.Context, txn *wallet.Transaction) error {
	t.staged.txns[txn.ID] = copyTransaction(txn)
	t.staged.ledgers[txn.WalletKey] = append(t.staged.ledgers[txn.WalletKey], txn.ID)
	return nil
}

func (t *memTx) ClaimReference(_ context.Context, reference, outcomeID string) (bool, string, error) {
	if prior, ok := t.staged.refs[reference]; ok {
		return false, prior, nil
	}
	if prior, ok := t.base.refs[reference]; ok {
		return false, prior, nil
	}
	t.staged.refs[reference] = outcomeID
	return true, "", nil
}

func (t *memTx) GetTransaction(_ context.Context, id string) (*wallet.Transaction, error) {
	if txn, ok := t.staged.txns[id]; ok {
		return copyTransaction(txn), nil
	}
	if txn, ok := t.base.txns[id]; ok {
		return copyTransaction(txn), nil
	}
	return nil, database.ErrNotFound
}

func (t *memTx) InsertPurchase(_ context.Context, p *purchase.Purchase) error {
	t.staged.purchases = append(t.staged.purchases, copyPurchase(p))
	return nil
}

func (t *memTx) InsertRegistration(_ context.Context, reg *purchase.Registration) error {
	t.staged.regs = append(t.staged.regs, copyRegistration(reg))
	return nil
}

func insertPurchaseLocked(m *Memory, p *purchase.Purchase) error {
	if _, ok := m.purchases[p.ID]; ok {
		return fmt.Errorf("purchase %s: %w", p.ID, database.ErrAlreadyExists)
	}
	cp := copyPurchase(p)
	m.purchases[cp.ID] = cp
	if cp.GatewayReference != "" {
		m.purchaseByRef[cp.GatewayReference] = cp.ID
	}
	return nil
}

func insertRegistrationLocked(m *Memory, reg *purchase.Registration) error {
	if _, ok := m.regs[reg.ID]; ok {
		return fmt.Errorf("registration %s: %w", reg.ID, database.ErrAlreadyExists)
	}
	cp := copyRegistration(reg)
	m.regs[cp.ID] = cp
	if cp.GatewayReference != "" {
		m.regByRef[cp.GatewayReference] = cp.ID
	}
	return nil
}

func copyWallet(w *wallet.Wallet) *wallet.Wallet {
	cp := *w
	return &cp
}

func copyTransaction(txn *wallet.Transaction) *wallet.Transaction {
	cp := *txn
	return &cp
}

func copyPurchase(p *purchase.Purchase) *purchase.Purchase {
	cp := *p
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}

func copyRegistration(reg *purchase.Registration) *purchase.Registration {
	cp := *reg
	if reg.CompletedAt != nil {
		at := *reg.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
