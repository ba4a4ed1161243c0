// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/cashbook/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	seq         int64
	movements   map[ledger.MovementID]ledger.Movement
	idempotency map[string]ledger.MovementID
	categories  map[string]bool
	closings    []ledger.ClosingRecord
}

func NewMemory() *Memory {
	return &Memory{
		movements:   make(map[ledger.MovementID]ledger.Movement),
		idempotency: make(map[string]ledger.MovementID),
		categories:  make(map[string]bool),
	}
}

var _ ledger.TxStore = (*Memory)(nil)

// Reset drops all data. Demo scenarios only.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = 0
	m.movements = make(map[ledger.MovementID]ledger.Movement)
	m.idempotency = make(map[string]ledger.MovementID)
	m.categories = make(map[string]bool)
	m.closings = nil
	return nil
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func (m *Memory) InsertMovement(_ context.Context, mv ledger.Movement) (ledger.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(mv)
}

func (m *Memory) insertLocked(mv ledger.Movement) (ledger.Movement, error) {
	if mv.IdempotencyKey != "" {
		if _, taken := m.idempotency[mv.IdempotencyKey]; taken {
			return ledger.Movement{}, ledger.ErrDuplicateIdempotencyKey
		}
	}
	m.seq++
	mv.Seq = m.seq
	m.movements[mv.ID] = mv
	if mv.IdempotencyKey != "" {
		m.idempotency[mv.IdempotencyKey] = mv.ID
	}
	return mv, nil
}

func (m *Memory) GetMovement(_ context.Context, id ledger.MovementID) (ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id ledger.MovementID) (ledger.Movement, error) {
	mv, ok := m.movements[id]
	if !ok {
		return ledger.Movement{}, &ledger.NotFoundError{Kind: "movement", ID: string(id)}
	}
	return mv, nil
}

func (m *Memory) FindByIdempotencyKey(_ context.Context, key string) (ledger.Movement, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(key)
}

func (m *Memory) findLocked(key string) (ledger.Movement, bool, error) {
	id, ok := m.idempotency[key]
	if !ok {
		return ledger.Movement{}, false, nil
	}
	return m.movements[id], true, nil
}

func (m *Memory) UpdateMovement(_ context.Context, mv ledger.Movement) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(mv)
}

func (m *Memory) updateLocked(mv ledger.Movement) (bool, error) {
	cur, ok := m.movements[mv.ID]
	if !ok || cur.Registered || cur.Version != mv.Version-1 {
		return false, nil
	}
	mv.Seq = cur.Seq
	mv.IdempotencyKey = cur.IdempotencyKey
	mv.CreatedAt = cur.CreatedAt
	mv.Registered = false
	m.movements[mv.ID] = mv
	return true, nil
}

func (m *Memory) DeleteMovement(_ context.Context, id ledger.MovementID, unregisteredOnly bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id, unregisteredOnly)
}

func (m *Memory) deleteLocked(id ledger.MovementID, unregisteredOnly bool) (bool, error) {
	mv, ok := m.movements[id]
	if !ok || (unregisteredOnly && mv.Registered) {
		return false, nil
	}
	delete(m.movements, id)
	if mv.IdempotencyKey != "" {
		delete(m.idempotency, mv.IdempotencyKey)
	}
	return true, nil
}

func (m *Memory) ListMovements(_ context.Context, f ledger.MovementFilter) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(f), nil
}

func (m *Memory) listLocked(f ledger.MovementFilter) []ledger.Movement {
	result := make([]ledger.Movement, 0)
	for _, mv := range m.movements {
		if matches(mv, f) {
			result = append(result, mv)
		}
	}
	sortMovements(result)
	return result
}

func matches(mv ledger.Movement, f ledger.MovementFilter) bool {
	if f.Date != nil && !mv.Date.Equal(*f.Date) {
		return false
	}
	if f.From != nil && mv.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && mv.Date.After(*f.To) {
		return false
	}
	if f.Category != nil && mv.Category != *f.Category {
		return false
	}
	if f.Unregistered && mv.Registered {
		return false
	}
	return true
}

// sortMovements orders by (date desc, time desc, seq asc).
func sortMovements(ms []ledger.Movement) {
	sort.Slice(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if !a.Time.Equal(b.Time) {
			return b.Time.Before(a.Time)
		}
		return a.Seq < b.Seq
	})
}

func (m *Memory) MarkRegistered(_ context.Context, ids []ledger.MovementID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markLocked(ids), nil
}

func (m *Memory) markLocked(ids []ledger.MovementID) int {
	n := 0
	for _, id := range ids {
		mv, ok := m.movements[id]
		if !ok || mv.Registered {
			continue
		}
		mv.Registered = true
		m.movements[id] = mv
		n++
	}
	return n
}

func (m *Memory) PendingDates(_ context.Context) ([]ledger.Date, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pendingLocked(), nil
}

func (m *Memory) pendingLocked() []ledger.Date {
	seen := make(map[string]bool)
	var dates []ledger.Date
	for _, mv := range m.movements {
		key := mv.Date.String()
		if mv.Registered || seen[key] {
			continue
		}
		seen[key] = true
		dates = append(dates, mv.Date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })
	return dates
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (m *Memory) InsertCategory(_ context.Context, c ledger.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertCategoryLocked(c)
}

func (m *Memory) insertCategoryLocked(c ledger.Category) error {
	if m.categories[c.Name] {
		return &ledger.DuplicateError{Kind: "category", Name: c.Name}
	}
	m.categories[c.Name] = true
	return nil
}

func (m *Memory) CategoryExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.categories[name], nil
}

func (m *Memory) ListCategories(_ context.Context) ([]ledger.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.categoriesLocked(), nil
}

func (m *Memory) categoriesLocked() []ledger.Category {
	result := make([]ledger.Category, 0, len(m.categories))
	for name := range m.categories {
		result = append(result, ledger.Category{Name: name})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (m *Memory) DeleteCategory(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCategoryLocked(name), nil
}

func (m *Memory) deleteCategoryLocked(name string) bool {
	if !m.categories[name] {
		return false
	}
	delete(m.categories, name)
	return true
}

func (m *Memory) RenameCategory(_ context.Context, oldName, newName string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renameLocked(oldName, newName)
}

func (m *Memory) renameLocked(oldName, newName string) (int, error) {
	if m.categories[newName] {
		return 0, &ledger.DuplicateError{Kind: "category", Name: newName}
	}
	delete(m.categories, oldName)
	m.categories[newName] = true

	n := 0
	for id, mv := range m.movements {
		if mv.Category == oldName {
			mv.Category = newName
			m.movements[id] = mv
			n++
		}
	}
	return n, nil
}

// =============================================================================
// CLOSINGS
// =============================================================================

func (m *Memory) InsertClosing(_ context.Context, c ledger.ClosingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertClosingLocked(c)
	return nil
}

func (m *Memory) insertClosingLocked(c ledger.ClosingRecord) {
	m.closings = append(m.closings, cloneClosing(c))
}

// cloneClosing copies the map and slice of c so stored closings never
// alias a caller's record.
func cloneClosing(c ledger.ClosingRecord) ledger.ClosingRecord {
	if c.MethodTotals != nil {
		totals := make(map[string]decimal.Decimal, len(c.MethodTotals))
		for k, v := range c.MethodTotals {
			totals[k] = v
		}
		c.MethodTotals = totals
	}
	c.MovementIDs = append([]ledger.MovementID(nil), c.MovementIDs...)
	return c
}

func (m *Memory) GetClosing(_ context.Context, id ledger.ClosingID) (ledger.ClosingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getClosingLocked(id)
}

func (m *Memory) getClosingLocked(id ledger.ClosingID) (ledger.ClosingRecord, error) {
	for _, c := range m.closings {
		if c.ID == id {
			return cloneClosing(c), nil
		}
	}
	return ledger.ClosingRecord{}, &ledger.NotFoundError{Kind: "closing", ID: string(id)}
}

func (m *Memory) ListClosings(_ context.Context, from, to ledger.Date) ([]ledger.ClosingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listClosingsLocked(from, to), nil
}

func (m *Memory) listClosingsLocked(from, to ledger.Date) []ledger.ClosingRecord {
	result := make([]ledger.ClosingRecord, 0)
	for _, c := range m.closings {
		if c.Date.Before(from) || c.Date.After(to) {
			continue
		}
		result = append(result, cloneClosing(c))
	}
	// Insertion order breaks ties, which matches closed_at order.
	sort.SliceStable(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction, simulated with a snapshot that
// is restored if fn fails. Other callers block until fn returns.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	seq         int64
	movements   map[ledger.MovementID]ledger.Movement
	idempotency map[string]ledger.MovementID
	categories  map[string]bool
	closings    []ledger.ClosingRecord
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		seq:         m.seq,
		movements:   make(map[ledger.MovementID]ledger.Movement, len(m.movements)),
		idempotency: make(map[string]ledger.MovementID, len(m.idempotency)),
		categories:  make(map[string]bool, len(m.categories)),
		closings:    append([]ledger.ClosingRecord(nil), m.closings...),
	}
	for k, v := range m.movements {
		s.movements[k] = v
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range m.categories {
		s.categories[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.seq = s.seq
	m.movements = s.movements
	m.idempotency = s.idempotency
	m.categories = s.categories
	m.closings = s.closings
}

// txView runs against the parent's maps while WithTx holds the lock.
type txView struct {
	parent *Memory
}

func (tv *txView) InsertMovement(_ context.Context, mv ledger.Movement) (ledger.Movement, error) {
	return tv.parent.insertLocked(mv)
}

func (tv *txView) GetMovement(_ context.Context, id ledger.MovementID) (ledger.Movement, error) {
	return tv.parent.getLocked(id)
}

func (tv *txView) FindByIdempotencyKey(_ context.Context, key string) (ledger.Movement, bool, error) {
	return tv.parent.findLocked(key)
}

func (tv *txView) UpdateMovement(_ context.Context, mv ledger.Movement) (bool, error) {
	return tv.parent.updateLocked(mv)
}

func (tv *txView) DeleteMovement(_ context.Context, id ledger.MovementID, unregisteredOnly bool) (bool, error) {
	return tv.parent.deleteLocked(id, unregisteredOnly)
}

func (tv *txView) ListMovements(_ context.Context, f ledger.MovementFilter) ([]ledger.Movement, error) {
	return tv.parent.listLocked(f), nil
}

func (tv *txView) MarkRegistered(_ context.Context, ids []ledger.MovementID) (int, error) {
	return tv.parent.markLocked(ids), nil
}

func (tv *txView) PendingDates(_ context.Context) ([]ledger.Date, error) {
	return tv.parent.pendingLocked(), nil
}

func (tv *txView) InsertCategory(_ context.Context, c ledger.Category) error {
	return tv.parent.insertCategoryLocked(c)
}

func (tv *txView) CategoryExists(_ context.Context, name string) (bool, error) {
	return tv.parent.categories[name], nil
}

func (tv *txView) ListCategories(_ context.Context) ([]ledger.Category, error) {
	return tv.parent.categoriesLocked(), nil
}

func (tv *txView) DeleteCategory(_ context.Context, name string) (bool, error) {
	return tv.parent.deleteCategoryLocked(name), nil
}

func (tv *txView) RenameCategory(_ context.Context, oldName, newName string) (int, error) {
	return tv.parent.renameLocked(oldName, newName)
}

func (tv *txView) InsertClosing(_ context.Context, c ledger.ClosingRecord) error {
	tv.parent.insertClosingLocked(c)
	return nil
}

func (tv *txView) GetClosing(_ context.Context, id ledger.ClosingID) (ledger.ClosingRecord, error) {
	return tv.parent.getClosingLocked(id)
}

func (tv *txView) ListClosings(_ context.Context, from, to ledger.Date) ([]ledger.ClosingRecord, error) {
	return tv.parent.listClosingsLocked(from, to), nil
}
