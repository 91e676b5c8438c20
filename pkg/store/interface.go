package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/models"
)

// AccrualWindow is the minimum time between two accruals of one investment.
const AccrualWindow = 24 * time.Hour

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means the investment changed since it was read; the caller lost the race.
	ErrConflict = errors.New("investment was modified concurrently")
)

// Storage defines the interface for database operations on the six ledger categories.
type Storage interface {
	CreateInvestment(ctx context.Context, inv *models.Investment) error
	GetInvestment(ctx context.Context, id uuid.UUID) (*models.Investment, error)
	ListInvestments(ctx context.Context, userID string) ([]*models.Investment, error)
	// FindDueInvestments returns running investments whose accrual window has elapsed at now (see IsDue).
	FindDueInvestments(ctx context.Context, now time.Time) ([]*models.Investment, error)
	// UpdateInvestmentAccrual writes the payout, last increment date and status as one unit,
	// only if the stored version still equals expectedVersion and the investment is running.
	UpdateInvestmentAccrual(ctx context.Context, id uuid.UUID, expectedVersion int64, u models.AccrualUpdate) error

	CreateEntry(ctx context.Context, entry *models.Entry) error
	GetEntry(ctx context.Context, category models.Category, id uuid.UUID) (*models.Entry, error)
	SetEntryStatus(ctx context.Context, category models.Category, id uuid.UUID, status models.EntryStatus) error

	GetLedgerSnapshot(ctx context.Context, userID string) (*models.LedgerSnapshot, error)

	// Ping reports whether the store can serve requests.
	Ping(ctx context.Context) error
	Close() error
}

// IsDue reports whether inv is running and a full accrual window has elapsed
// since its last increment, or since its start if it was never accrued.
func IsDue(inv *models.Investment, now time.Time) bool {
	if inv.Status != models.InvestmentStatusRunning {
		return false
	}
	anchor := inv.StartDate
	if inv.LastIncrementDate != nil {
		anchor = *inv.LastIncrementDate
	}
	return !anchor.After(now.Add(-AccrualWindow))
}
