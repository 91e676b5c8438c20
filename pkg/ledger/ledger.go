package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/balance"
	"github.com/mcclellann/fredInvest/pkg/clock"
	"github.com/mcclellann/fredInvest/pkg/logging"
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/mcclellann/fredInvest/pkg/notify"
	"github.com/mcclellann/fredInvest/pkg/plans"
	"github.com/mcclellann/fredInvest/pkg/store"
	"github.com/shopspring/decimal"
)

var (
	// MinDeposit is the smallest amount a user may deposit.
	MinDeposit = decimal.NewFromInt(100)
	// MinWithdrawal is the smallest amount a user may withdraw.
	MinWithdrawal = decimal.NewFromInt(10)
)

// Ledger handles the business logic for a user's deposits, withdrawals,
// investments and administrative credits and debits.
type Ledger struct {
	storage  store.Storage
	policy   *plans.Policy
	clock    clock.Clock
	notifier notify.Notifier
	log      *logging.Logger

	// userLocks serializes balance-checked writes per user.
	userLocks sync.Map
}

type Option func(*Ledger)

func WithPolicy(p *plans.Policy) Option { return func(l *Ledger) { l.policy = p } }
func WithClock(c clock.Clock) Option { return func(l *Ledger) { l.clock = c } }
func WithNotifier(n notify.Notifier) Option { return func(l *Ledger) { l.notifier = n } }
func WithLogger(log *logging.Logger) Option {
	return func(l *Ledger) { l.log = log.Component("ledger") }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:  s,
		policy:   plans.DefaultPolicy(),
		clock:    clock.Real{},
		notifier: notify.Nop{},
		log:      logging.NewSilent(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the plan table new investments are validated against.
func (l *Ledger) Policy() *plans.Policy {
	return l.policy
}

func (l *Ledger) lockUser(userID string) func() {
	v, _ := l.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// PlaceInvestment opens a running investment funded from the user's balance.
func (l *Ledger) PlaceInvestment(ctx context.Context, userID, plan string, amount decimal.Decimal) (*models.Investment, error) {
	inv, err := l.policy.Open(userID, plan, amount, l.clock.Now())
	if err != nil {
		return nil, err
	}

	unlock := l.lockUser(userID)
	defer unlock()

	available, err := l.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(available.Balance) {
		return nil, &models.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("insufficient balance: deposit $%s to invest in the %s plan", amount.Sub(available.Balance).StringFixed(2), inv.Plan),
		}
	}

	if err := l.storage.CreateInvestment(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to store investment: %w", err)
	}

	l.log.Info().Str("user_id", userID).Str("investment_id", inv.ID.String()).Str("plan", string(inv.Plan)).Str("amount", amount.StringFixed(2)).Msg("Investment placed")
	l.notify(ctx, notify.Event{Type: notify.EventInvestmentPlaced, UserID: userID, InvestmentID: inv.ID, Amount: amount, At: inv.StartDate})
	return inv, nil
}

// RecordDeposit records a pending deposit paid by the transfer txHash. It only
// counts toward the balance once confirmed.
func (l *Ledger) RecordDeposit(ctx context.Context, userID string, amount decimal.Decimal, txHash string) (*models.Entry, error) {
	if amount.LessThan(MinDeposit) {
		return nil, &models.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("the minimum amount to deposit is $%s, add $%s", MinDeposit.StringFixed(2), MinDeposit.Sub(amount).StringFixed(2)),
		}
	}
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return nil, &models.ValidationError{Field: "transaction_hash", Reason: "a transaction hash is required"}
	}
	return l.record(ctx, userID, models.CategoryDeposit, amount, models.EntryStatusPending, "", txHash, "")
}

// ConfirmDeposit marks a deposit as received.
func (l *Ledger) ConfirmDeposit(ctx context.Context, id uuid.UUID) (*models.Entry, error) {
	if err := l.storage.SetEntryStatus(ctx, models.CategoryDeposit, id, models.EntryStatusConfirmed); err != nil {
		return nil, fmt.Errorf("failed to confirm deposit %s: %w", id, err)
	}
	return l.storage.GetEntry(ctx, models.CategoryDeposit, id)
}

// RequestWithdrawal records a withdrawal to wallet after checking the balance.
func (l *Ledger) RequestWithdrawal(ctx context.Context, userID string, amount decimal.Decimal, wallet string) (*models.Entry, error) {
	if amount.LessThan(MinWithdrawal) {
		return nil, &models.ValidationError{Field: "amount", Reason: fmt.Sprintf("the minimum amount to withdraw is $%s", MinWithdrawal.StringFixed(2))}
	}
	if strings.TrimSpace(wallet) == "" {
		return nil, &models.ValidationError{Field: "wallet", Reason: "a wallet address is required"}
	}

	unlock := l.lockUser(userID)
	defer unlock()

	available, err := l.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(available.Balance) {
		return nil, &models.ValidationError{Field: "amount", Reason: "withdrawal exceeds available balance"}
	}

	e, err := l.record(ctx, userID, models.CategoryWithdrawal, amount, models.EntryStatusPending, wallet, "", "")
	if err != nil {
		return nil, err
	}
	l.notify(ctx, notify.Event{Type: notify.EventWithdrawalRequested, UserID: userID, Amount: amount, At: e.CreatedAt})
	return e, nil
}

// RecordPenalty debits the user.
func (l *Ledger) RecordPenalty(ctx context.Context, userID string, amount decimal.Decimal, note string) (*models.Entry, error) {
	return l.record(ctx, userID, models.CategoryPenalty, amount, models.EntryStatusConfirmed, "", "", note)
}

// RecordEarning credits the user.
func (l *Ledger) RecordEarning(ctx context.Context, userID string, amount decimal.Decimal, note string) (*models.Entry, error) {
	return l.record(ctx, userID, models.CategoryEarning, amount, models.EntryStatusConfirmed, "", "", note)
}

// RecordBonus credits the user.
func (l *Ledger) RecordBonus(ctx context.Context, userID string, amount decimal.Decimal, note string) (*models.Entry, error) {
	return l.record(ctx, userID, models.CategoryBonus, amount, models.EntryStatusConfirmed, "", "", note)
}

func (l *Ledger) record(ctx context.Context, userID string, category models.Category, amount decimal.Decimal, status models.EntryStatus, wallet, txHash, note string) (*models.Entry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &models.ValidationError{Field: "user_id", Reason: "user id is required"}
	}
	if !amount.IsPositive() {
		return nil, &models.ValidationError{Field: "amount", Reason: "amount must be positive"}
	}
	e := &models.Entry{
		ID:              uuid.New(),
		UserID:          userID,
		Category:        category,
		Amount:          amount,
		Status:          status,
		Wallet:          wallet,
		TransactionHash: txHash,
		Note:            note,
		CreatedAt:       l.clock.Now(),
	}
	if err := l.storage.CreateEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", category, err)
	}
	l.log.Info().Str("user_id", userID).Str("category", string(category)).Str("amount", amount.StringFixed(2)).Msg("Ledger entry recorded")
	return e, nil
}

// Balance computes the user's spendable balance from a fresh snapshot. An
// investment whose payout is below its principal fails the whole computation
// with an InconsistentStateError instead of netting a negative release.
func (l *Ledger) Balance(ctx context.Context, userID string) (balance.Breakdown, error) {
	snap, err := l.storage.GetLedgerSnapshot(ctx, userID)
	if err != nil {
		return balance.Breakdown{}, fmt.Errorf("failed to load ledger for user %s: %w", userID, err)
	}
	for _, inv := range snap.Investments {
		if err := inv.CheckPayout(); err != nil {
			l.log.Error().Err(err).Str("user_id", userID).Msg("Investment violates payout invariant")
			return balance.Breakdown{}, err
		}
	}
	return balance.DefaultPolicy.Breakdown(snap), nil
}

// GetInvestment retrieves an investment by its ID.
func (l *Ledger) GetInvestment(ctx context.Context, id uuid.UUID) (*models.Investment, error) {
	return l.storage.GetInvestment(ctx, id)
}

// ListInvestments retrieves every investment owned by userID.
func (l *Ledger) ListInvestments(ctx context.Context, userID string) ([]*models.Investment, error) {
	return l.storage.ListInvestments(ctx, userID)
}

// HistoryItem is one row of a user's merged transaction history.
type HistoryItem struct {
	ID        uuid.UUID       `json:"id"`
	Category  models.Category `json:"category"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// History merges every category into one list, newest first.
func (l *Ledger) History(ctx context.Context, userID string) ([]HistoryItem, error) {
	snap, err := l.storage.GetLedgerSnapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for user %s: %w", userID, err)
	}

	items := []HistoryItem{}
	for _, group := range [][]*models.Entry{snap.Deposits, snap.Withdrawals, snap.Penalties, snap.Earnings, snap.Bonuses} {
		for _, e := range group {
			items = append(items, HistoryItem{ID: e.ID, Category: e.Category, Amount: e.Amount, Status: string(e.Status), CreatedAt: e.CreatedAt})
		}
	}
	for _, inv := range snap.Investments {
		items = append(items, HistoryItem{ID: inv.ID, Category: models.CategoryInvestment, Amount: inv.Principal, Status: string(inv.Status), CreatedAt: inv.CreatedAt})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

// Record is a single transaction of any category.
type Record struct {
	Category   models.Category    `json:"category"`
	Entry      *models.Entry      `json:"entry,omitempty"`
	Investment *models.Investment `json:"investment,omitempty"`
}

// ErrUnknownCategory is returned for a transaction type outside the six categories.
var ErrUnknownCategory = errors.New("invalid transaction type")

// Transaction fetches one record by category name and id.
func (l *Ledger) Transaction(ctx context.Context, category string, id uuid.UUID) (*Record, error) {
	c, ok := models.ParseCategory(category)
	if !ok {
		return nil, ErrUnknownCategory
	}
	if c == models.CategoryInvestment {
		inv, err := l.storage.GetInvestment(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Record{Category: c, Investment: inv}, nil
	}
	e, err := l.storage.GetEntry(ctx, c, id)
	if err != nil {
		return nil, err
	}
	return &Record{Category: c, Entry: e}, nil
}

func (l *Ledger) notify(ctx context.Context, e notify.Event) {
	if err := l.notifier.Notify(ctx, e); err != nil {
		l.log.Warn().Err(err).Str("event", string(e.Type)).Msg("Notification failed")
	}
}
