package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/shopspring/decimal"
)

var baseTime = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test_store.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestInvestment(userID string) *models.Investment {
	return &models.Investment{
		ID:           uuid.New(),
		UserID:       userID,
		Plan:         models.PlanPremium,
		Principal:    decimal.NewFromInt(1000),
		DailyPercent: decimal.NewFromInt(2),
		PayoutAmount: decimal.NewFromInt(1000),
		Status:       models.InvestmentStatusRunning,
		StartDate:    baseTime,
		EndDate:      baseTime.Add(7 * 24 * time.Hour),
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
	}
}

// storeFactories runs the shared contract against every Storage implementation.
var storeFactories = map[string]func(t *testing.T) Storage{
	"sqlite": func(t *testing.T) Storage { return newTestSQLiteStore(t) },
	"memory": func(t *testing.T) Storage { return NewMemoryStore() },
}

func TestStore_CreateAndGetInvestment(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			inv := newTestInvestment("user-1")

			if err := s.CreateInvestment(ctx, inv); err != nil {
				t.Fatalf("Failed to create investment: %v", err)
			}

			fetched, err := s.GetInvestment(ctx, inv.ID)
			if err != nil {
				t.Fatalf("Failed to get investment: %v", err)
			}
			if fetched.UserID != inv.UserID {
				t.Errorf("Expected UserID %s, got %s", inv.UserID, fetched.UserID)
			}
			if !fetched.Principal.Equal(inv.Principal) {
				t.Errorf("Expected Principal %s, got %s", inv.Principal, fetched.Principal)
			}
			if !fetched.DailyPercent.Equal(inv.DailyPercent) {
				t.Errorf("Expected DailyPercent %s, got %s", inv.DailyPercent, fetched.DailyPercent)
			}
			if !fetched.EndDate.Equal(inv.EndDate) {
				t.Errorf("Expected EndDate %s, got %s", inv.EndDate, fetched.EndDate)
			}
			if fetched.LastIncrementDate != nil {
				t.Errorf("Expected nil LastIncrementDate, got %s", fetched.LastIncrementDate)
			}

			if _, err := s.GetInvestment(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_FindDueInvestments(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			now := baseTime.Add(48 * time.Hour)

			fresh := newTestInvestment("user-1")

			elapsed := newTestInvestment("user-1")
			last := now.Add(-AccrualWindow)
			elapsed.LastIncrementDate = &last

			recent := newTestInvestment("user-1")
			recentLast := now.Add(-AccrualWindow + time.Minute)
			recent.LastIncrementDate = &recentLast

			completed := newTestInvestment("user-1")
			completed.Status = models.InvestmentStatusCompleted

			// Never accrued and opened less than a window ago.
			young := newTestInvestment("user-1")
			young.StartDate = now.Add(-time.Hour)

			for _, inv := range []*models.Investment{fresh, elapsed, recent, completed, young} {
				if err := s.CreateInvestment(ctx, inv); err != nil {
					t.Fatalf("Failed to create investment: %v", err)
				}
			}

			due, err := s.FindDueInvestments(ctx, now)
			if err != nil {
				t.Fatalf("Failed to find due investments: %v", err)
			}
			got := map[uuid.UUID]bool{}
			for _, inv := range due {
				got[inv.ID] = true
			}
			if len(due) != 2 || !got[fresh.ID] || !got[elapsed.ID] {
				t.Errorf("Expected fresh and elapsed investments to be due, got %d records", len(due))
			}
		})
	}
}

func TestStore_UpdateInvestmentAccrual(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			inv := newTestInvestment("user-1")
			if err := s.CreateInvestment(ctx, inv); err != nil {
				t.Fatalf("Failed to create investment: %v", err)
			}

			now := baseTime.Add(24 * time.Hour)
			update := models.AccrualUpdate{
				PayoutAmount:      decimal.NewFromInt(1020),
				LastIncrementDate: now,
				Status:            models.InvestmentStatusRunning,
			}
			if err := s.UpdateInvestmentAccrual(ctx, inv.ID, 0, update); err != nil {
				t.Fatalf("Failed to update investment: %v", err)
			}

			fetched, _ := s.GetInvestment(ctx, inv.ID)
			if !fetched.PayoutAmount.Equal(decimal.NewFromInt(1020)) {
				t.Errorf("Expected payout 1020, got %s", fetched.PayoutAmount)
			}
			if fetched.LastIncrementDate == nil || !fetched.LastIncrementDate.Equal(now) {
				t.Errorf("Expected LastIncrementDate %s, got %v", now, fetched.LastIncrementDate)
			}
			if fetched.Version != 1 {
				t.Errorf("Expected version 1, got %d", fetched.Version)
			}

			// A second writer holding the old version loses.
			if err := s.UpdateInvestmentAccrual(ctx, inv.ID, 0, update); !errors.Is(err, ErrConflict) {
				t.Errorf("Expected ErrConflict for stale version, got %v", err)
			}

			update.Status = models.InvestmentStatusCompleted
			update.PayoutAmount = decimal.NewFromInt(1040)
			if err := s.UpdateInvestmentAccrual(ctx, inv.ID, 1, update); err != nil {
				t.Fatalf("Failed to complete investment: %v", err)
			}
			// Completed investments never accept another accrual.
			if err := s.UpdateInvestmentAccrual(ctx, inv.ID, 2, update); !errors.Is(err, ErrConflict) {
				t.Errorf("Expected ErrConflict for completed investment, got %v", err)
			}

			if err := s.UpdateInvestmentAccrual(ctx, uuid.New(), 0, update); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_EntriesAndSnapshot(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			var depositID uuid.UUID
			for i, category := range []models.Category{
				models.CategoryDeposit,
				models.CategoryWithdrawal,
				models.CategoryPenalty,
				models.CategoryEarning,
				models.CategoryBonus,
			} {
				e := &models.Entry{
					ID:        uuid.New(),
					UserID:    "user-1",
					Category:  category,
					Amount:    decimal.NewFromInt(int64(10 * (i + 1))),
					Status:    models.EntryStatusPending,
					CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
				}
				if category == models.CategoryDeposit {
					depositID = e.ID
					e.TransactionHash = "0xdeadbeef"
				}
				if err := s.CreateEntry(ctx, e); err != nil {
					t.Fatalf("Failed to create %s: %v", category, err)
				}
			}
			other := &models.Entry{ID: uuid.New(), UserID: "user-2", Category: models.CategoryDeposit, Amount: decimal.NewFromInt(5), Status: models.EntryStatusConfirmed, CreatedAt: baseTime}
			if err := s.CreateEntry(ctx, other); err != nil {
				t.Fatalf("Failed to create deposit: %v", err)
			}
			if err := s.CreateInvestment(ctx, newTestInvestment("user-1")); err != nil {
				t.Fatalf("Failed to create investment: %v", err)
			}

			if err := s.SetEntryStatus(ctx, models.CategoryDeposit, depositID, models.EntryStatusConfirmed); err != nil {
				t.Fatalf("Failed to confirm deposit: %v", err)
			}
			if err := s.SetEntryStatus(ctx, models.CategoryBonus, depositID, models.EntryStatusConfirmed); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound for wrong category, got %v", err)
			}

			deposit, err := s.GetEntry(ctx, models.CategoryDeposit, depositID)
			if err != nil {
				t.Fatalf("Failed to get deposit: %v", err)
			}
			if deposit.Status != models.EntryStatusConfirmed {
				t.Errorf("Expected confirmed deposit, got %s", deposit.Status)
			}
			if deposit.TransactionHash != "0xdeadbeef" {
				t.Errorf("Expected transaction hash 0xdeadbeef, got %q", deposit.TransactionHash)
			}

			snap, err := s.GetLedgerSnapshot(ctx, "user-1")
			if err != nil {
				t.Fatalf("Failed to get snapshot: %v", err)
			}
			if len(snap.Deposits) != 1 || len(snap.Withdrawals) != 1 || len(snap.Penalties) != 1 ||
				len(snap.Earnings) != 1 || len(snap.Bonuses) != 1 || len(snap.Investments) != 1 {
				t.Errorf("Unexpected snapshot shape: %+v", snap)
			}
			if !snap.Bonuses[0].Amount.Equal(decimal.NewFromInt(50)) {
				t.Errorf("Expected bonus 50, got %s", snap.Bonuses[0].Amount)
			}

			if _, err := s.GetEntry(ctx, models.CategoryInvestment, depositID); err == nil {
				t.Error("Expected error for investment category in entry lookup")
			}
		})
	}
}

func TestStore_Ping(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			if err := s.Ping(ctx); err != nil {
				t.Fatalf("Expected open store to answer ping, got %v", err)
			}
			s.Close()
			if err := s.Ping(ctx); err == nil {
				t.Error("Expected ping on a closed store to fail")
			}
		})
	}
}
