package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// entryTables maps each non-investment category to its table.
var entryTables = map[models.Category]string{
	models.CategoryDeposit:    "deposits",
	models.CategoryWithdrawal: "withdrawals",
	models.CategoryPenalty:    "penalties",
	models.CategoryEarning:    "earnings",
	models.CategoryBonus:      "bonuses",
}

const investmentColumns = `id, user_id, plan, principal, daily_percent, payout_amount, status, start_date, end_date, last_increment_date, version, created_at, updated_at`

const entryColumns = `id, user_id, amount, status, wallet, transaction_hash, note, created_at`

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// One connection keeps the pragmas below in force and serializes writers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	_, err = db.Exec("PRAGMA busy_timeout = 5000;")
	if err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS investments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		plan TEXT NOT NULL,
		principal TEXT NOT NULL,
		daily_percent TEXT NOT NULL,
		payout_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		last_increment_date DATETIME,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_investments_user ON investments(user_id);
	CREATE INDEX IF NOT EXISTS idx_investments_status ON investments(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	for _, table := range entryTables {
		ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			status TEXT NOT NULL,
			wallet TEXT NOT NULL DEFAULT '',
			transaction_hash TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_user ON %[1]s(user_id);`, table)
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}
	return nil
}

// CreateInvestment inserts a new investment into the database.
func (s *SQLiteStore) CreateInvestment(ctx context.Context, inv *models.Investment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO investments (`+investmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID.String(), inv.UserID, string(inv.Plan), inv.Principal, inv.DailyPercent, inv.PayoutAmount, string(inv.Status),
		inv.StartDate.UTC(), inv.EndDate.UTC(), utcPtr(inv.LastIncrementDate), inv.Version, inv.CreatedAt.UTC(), inv.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create investment: %w", err)
	}
	return nil
}

// GetInvestment retrieves an investment by its ID.
func (s *SQLiteStore) GetInvestment(ctx context.Context, id uuid.UUID) (*models.Investment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = ?`, id.String())
	inv, err := scanInvestment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get investment: %w", err)
	}
	return inv, nil
}

// ListInvestments retrieves every investment owned by userID, oldest first.
func (s *SQLiteStore) ListInvestments(ctx context.Context, userID string) ([]*models.Investment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+investmentColumns+` FROM investments WHERE user_id = ? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list investments for user %s: %w", userID, err)
	}
	defer rows.Close()

	return scanInvestments(rows)
}

// FindDueInvestments retrieves running investments and keeps the ones whose accrual window has elapsed.
func (s *SQLiteStore) FindDueInvestments(ctx context.Context, now time.Time) ([]*models.Investment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+investmentColumns+` FROM investments WHERE status = ? ORDER BY created_at ASC, id ASC`, string(models.InvestmentStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to get running investments: %w", err)
	}
	defer rows.Close()

	running, err := scanInvestments(rows)
	if err != nil {
		return nil, err
	}
	due := running[:0]
	for _, inv := range running {
		if IsDue(inv, now) {
			due = append(due, inv)
		}
	}
	return due, nil
}

// UpdateInvestmentAccrual applies one accrual as a compare-and-swap on the version column.
func (s *SQLiteStore) UpdateInvestmentAccrual(ctx context.Context, id uuid.UUID, expectedVersion int64, u models.AccrualUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	last := u.LastIncrementDate.UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE investments SET payout_amount = ?, last_increment_date = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND status = ?`,
		u.PayoutAmount, last, string(u.Status), last, id.String(), expectedVersion, string(models.InvestmentStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to update investment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM investments WHERE id = ?`, id.String()).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check investment existence: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}

	return tx.Commit()
}

// CreateEntry inserts a deposit, withdrawal, penalty, earning or bonus.
func (s *SQLiteStore) CreateEntry(ctx context.Context, e *models.Entry) error {
	table, err := tableFor(e.Category)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table),
		e.ID.String(), e.UserID, e.Amount, string(e.Status), e.Wallet, e.TransactionHash, e.Note, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", e.Category, err)
	}
	return nil
}

// GetEntry retrieves one entry of the given category.
func (s *SQLiteStore) GetEntry(ctx context.Context, category models.Category, id uuid.UUID) (*models.Entry, error) {
	table, err := tableFor(category)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT `+entryColumns+` FROM %s WHERE id = ?`, table), id.String())
	e, err := scanEntry(row, category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", category, err)
	}
	return e, nil
}

// SetEntryStatus changes the status of an entry, e.g. confirming a deposit.
func (s *SQLiteStore) SetEntryStatus(ctx context.Context, category models.Category, id uuid.UUID, status models.EntryStatus) error {
	table, err := tableFor(category)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status = ? WHERE id = ?`, table), string(status), id.String())
	if err != nil {
		return fmt.Errorf("failed to update %s status: %w", category, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetLedgerSnapshot reads every record owned by userID inside one read transaction.
func (s *SQLiteStore) GetLedgerSnapshot(ctx context.Context, userID string) (*models.LedgerSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	snap := newSnapshot(userID)
	for _, category := range models.Categories {
		if category == models.CategoryInvestment {
			continue
		}
		entries, err := s.entriesForUser(ctx, tx, category, userID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			snap.Add(e)
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT `+investmentColumns+` FROM investments WHERE user_id = ? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get investments for user %s: %w", userID, err)
	}
	invs, err := scanInvestments(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	snap.Investments = append(snap.Investments, invs...)

	return snap, tx.Commit()
}

func (s *SQLiteStore) entriesForUser(ctx context.Context, tx *sql.Tx, category models.Category, userID string) ([]*models.Entry, error) {
	table, err := tableFor(category)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT `+entryColumns+` FROM %s WHERE user_id = ? ORDER BY created_at ASC`, table), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s entries for user %s: %w", category, userID, err)
	}
	defer rows.Close()

	var entries []*models.Entry
	for rows.Next() {
		e, err := scanEntry(rows, category)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", category, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for %s: %w", category, err)
	}
	return entries, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvestment(row scanner) (*models.Investment, error) {
	var inv models.Investment
	var idStr, plan, status string
	var lastIncrement sql.NullTime

	err := row.Scan(&idStr, &inv.UserID, &plan, &inv.Principal, &inv.DailyPercent, &inv.PayoutAmount, &status,
		&inv.StartDate, &inv.EndDate, &lastIncrement, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid investment id %q: %w", idStr, err)
	}
	inv.ID = id
	inv.Plan = models.PlanName(plan)
	inv.Status = models.InvestmentStatus(status)
	inv.StartDate = inv.StartDate.UTC()
	inv.EndDate = inv.EndDate.UTC()
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	if lastIncrement.Valid {
		t := lastIncrement.Time.UTC()
		inv.LastIncrementDate = &t
	}
	return &inv, nil
}

func scanInvestments(rows *sql.Rows) ([]*models.Investment, error) {
	investments := []*models.Investment{}
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan investment row: %w", err)
		}
		investments = append(investments, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return investments, nil
}

func scanEntry(row scanner, category models.Category) (*models.Entry, error) {
	var e models.Entry
	var idStr, status string
	if err := row.Scan(&idStr, &e.UserID, &e.Amount, &status, &e.Wallet, &e.TransactionHash, &e.Note, &e.CreatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid %s id %q: %w", category, idStr, err)
	}
	e.ID = id
	e.Category = category
	e.Status = models.EntryStatus(status)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func tableFor(category models.Category) (string, error) {
	table, ok := entryTables[category]
	if !ok {
		return "", fmt.Errorf("unsupported ledger category %q", category)
	}
	return table, nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
