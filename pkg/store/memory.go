package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/models"
)

var errStoreClosed = errors.New("store is closed")

// MemoryStore is an in-process Storage. Records are copied on the way in and out
// so callers never share memory with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	investments map[uuid.UUID]*models.Investment
	entries     map[uuid.UUID]*models.Entry
	closed      bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		investments: make(map[uuid.UUID]*models.Investment),
		entries:     make(map[uuid.UUID]*models.Entry),
	}
}

func copyInvestment(inv *models.Investment) *models.Investment {
	c := *inv
	if inv.LastIncrementDate != nil {
		t := *inv.LastIncrementDate
		c.LastIncrementDate = &t
	}
	return &c
}

func copyEntry(e *models.Entry) *models.Entry {
	c := *e
	return &c
}

func (m *MemoryStore) CreateInvestment(_ context.Context, inv *models.Investment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.investments[inv.ID]; exists {
		return fmt.Errorf("failed to create investment: duplicate id %s", inv.ID)
	}
	m.investments[inv.ID] = copyInvestment(inv)
	return nil
}

func (m *MemoryStore) GetInvestment(_ context.Context, id uuid.UUID) (*models.Investment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.investments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyInvestment(inv), nil
}

func (m *MemoryStore) ListInvestments(_ context.Context, userID string) ([]*models.Investment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Investment{}
	for _, inv := range m.investments {
		if inv.UserID == userID {
			out = append(out, copyInvestment(inv))
		}
	}
	sortInvestments(out)
	return out, nil
}

func (m *MemoryStore) FindDueInvestments(_ context.Context, now time.Time) ([]*models.Investment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Investment{}
	for _, inv := range m.investments {
		if IsDue(inv, now) {
			out = append(out, copyInvestment(inv))
		}
	}
	sortInvestments(out)
	return out, nil
}

func (m *MemoryStore) UpdateInvestmentAccrual(_ context.Context, id uuid.UUID, expectedVersion int64, u models.AccrualUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.investments[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Version != expectedVersion || inv.Status != models.InvestmentStatusRunning {
		return ErrConflict
	}
	last := u.LastIncrementDate.UTC()
	inv.PayoutAmount = u.PayoutAmount
	inv.LastIncrementDate = &last
	inv.Status = u.Status
	inv.Version++
	inv.UpdatedAt = last
	return nil
}

func (m *MemoryStore) CreateEntry(_ context.Context, entry *models.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[entry.ID]; exists {
		return fmt.Errorf("failed to create %s: duplicate id %s", entry.Category, entry.ID)
	}
	m.entries[entry.ID] = copyEntry(entry)
	return nil
}

func (m *MemoryStore) GetEntry(_ context.Context, category models.Category, id uuid.UUID) (*models.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok || e.Category != category {
		return nil, ErrNotFound
	}
	return copyEntry(e), nil
}

func (m *MemoryStore) SetEntryStatus(_ context.Context, category models.Category, id uuid.UUID, status models.EntryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Category != category {
		return ErrNotFound
	}
	e.Status = status
	return nil
}

func (m *MemoryStore) GetLedgerSnapshot(_ context.Context, userID string) (*models.LedgerSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := newSnapshot(userID)
	var entries []*models.Entry
	for _, e := range m.entries {
		if e.UserID == userID {
			entries = append(entries, copyEntry(e))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	for _, e := range entries {
		snap.Add(e)
	}
	for _, inv := range m.investments {
		if inv.UserID == userID {
			snap.Investments = append(snap.Investments, copyInvestment(inv))
		}
	}
	sortInvestments(snap.Investments)
	return snap, nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errStoreClosed
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func newSnapshot(userID string) *models.LedgerSnapshot {
	return &models.LedgerSnapshot{
		UserID:      userID,
		Deposits:    []*models.Entry{},
		Withdrawals: []*models.Entry{},
		Investments: []*models.Investment{},
		Penalties:   []*models.Entry{},
		Earnings:    []*models.Entry{},
		Bonuses:     []*models.Entry{},
	}
}

func sortInvestments(invs []*models.Investment) {
	sort.Slice(invs, func(i, j int) bool {
		if invs[i].CreatedAt.Equal(invs[j].CreatedAt) {
			return invs[i].ID.String() < invs[j].ID.String()
		}
		return invs[i].CreatedAt.Before(invs[j].CreatedAt)
	})
}
