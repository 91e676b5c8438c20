package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvestmentStatus string

const (
	InvestmentStatusRunning   InvestmentStatus = "running"
	InvestmentStatusCompleted InvestmentStatus = "completed"
)

type PlanName string

const (
	PlanStarter PlanName = "starter"
	PlanPremium PlanName = "premium"
	PlanGolden  PlanName = "golden"
	PlanVIP     PlanName = "vip"
)

type Investment struct {
	ID                uuid.UUID        `json:"id"`
	UserID            string           `json:"user_id"`
	Plan              PlanName         `json:"plan"`
	Principal         decimal.Decimal  `json:"principal"`
	DailyPercent      decimal.Decimal  `json:"daily_percent"` // Snapshotted from the plan table at creation
	PayoutAmount      decimal.Decimal  `json:"payout_amount"`
	Status            InvestmentStatus `json:"status"`
	StartDate         time.Time        `json:"start_date"`
	EndDate           time.Time        `json:"end_date"`
	LastIncrementDate *time.Time       `json:"last_increment_date,omitempty"` // Nil until the first accrual
	Version           int64            `json:"version"`                       // Bumped on every accrual write
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// DailyIncrement is the amount one accrual adds to the payout.
func (i *Investment) DailyIncrement() decimal.Decimal {
	return i.Principal.Mul(i.DailyPercent).Div(decimal.NewFromInt(100))
}

// AccrualUpdate is the mutation unit applied by one accrual.
type AccrualUpdate struct {
	PayoutAmount      decimal.Decimal
	LastIncrementDate time.Time
	Status            InvestmentStatus
}

type Category string

const (
	CategoryDeposit    Category = "deposit"
	CategoryWithdrawal Category = "withdrawal"
	CategoryInvestment Category = "investment"
	CategoryPenalty    Category = "penalty"
	CategoryEarning    Category = "earning"
	CategoryBonus      Category = "bonus"
)

// Categories lists every ledger category in display order.
var Categories = []Category{
	CategoryDeposit,
	CategoryWithdrawal,
	CategoryInvestment,
	CategoryPenalty,
	CategoryEarning,
	CategoryBonus,
}

// ParseCategory resolves a category name case-insensitively.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusConfirmed EntryStatus = "confirmed"
	EntryStatusFailed    EntryStatus = "failed"
)

// Entry is an immutable ledger record for every category except investments.
type Entry struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"user_id"`
	Category        Category        `json:"category"`
	Amount          decimal.Decimal `json:"amount"`
	Status          EntryStatus     `json:"status"`
	Wallet          string          `json:"wallet,omitempty"`           // Withdrawals only
	TransactionHash string          `json:"transaction_hash,omitempty"` // Deposits only
	Note            string          `json:"note,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// LedgerSnapshot is every record a user owns at one point in time.
type LedgerSnapshot struct {
	UserID      string        `json:"user_id"`
	Deposits    []*Entry      `json:"deposits"`
	Withdrawals []*Entry      `json:"withdrawals"`
	Investments []*Investment `json:"investments"`
	Penalties   []*Entry      `json:"penalties"`
	Earnings    []*Entry      `json:"earnings"`
	Bonuses     []*Entry      `json:"bonuses"`
}

// Add files e under the slice for its category.
func (s *LedgerSnapshot) Add(e *Entry) {
	switch e.Category {
	case CategoryDeposit:
		s.Deposits = append(s.Deposits, e)
	case CategoryWithdrawal:
		s.Withdrawals = append(s.Withdrawals, e)
	case CategoryPenalty:
		s.Penalties = append(s.Penalties, e)
	case CategoryEarning:
		s.Earnings = append(s.Earnings, e)
	case CategoryBonus:
		s.Bonuses = append(s.Bonuses, e)
	}
}

// RecordFailure is one investment a pass could not advance.
type RecordFailure struct {
	InvestmentID uuid.UUID `json:"investment_id"`
	Error        string    `json:"error"`
	Err          error     `json:"-"`
}

// PassReport summarises one accrual pass.
type PassReport struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Now        time.Time       `json:"now"`
	Examined   int             `json:"examined"`
	Accrued    int             `json:"accrued"`
	Completed  int             `json:"completed"`
	Conflicts  int             `json:"conflicts"`
	Skipped    bool            `json:"skipped,omitempty"` // Another pass held the lock
	Failures   []RecordFailure `json:"failures,omitempty"`
}
