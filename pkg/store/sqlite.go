package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/amortization"
	"github.com/mcclellann/loanengine/pkg/models"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Foreign keys are off by default in SQLite.
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logger.Info("database ready", zap.String("op", "store.NewSQLiteStore"), zap.String("dsn", dataSourceName))
	return s, nil
}

// initSchema creates the tables if they don't already exist and adds newer columns.
// Decimals are stored as TEXT so no precision is lost; loan parameters are a JSON document.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_key TEXT NOT NULL,
		base_interest_rate TEXT NOT NULL DEFAULT '0',
		interest_rate_variance TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		params TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		apply_excess_to_principal INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS deposit_usages (
		deposit_id TEXT NOT NULL,
		loan_id TEXT NOT NULL,
		bill_id TEXT NOT NULL,
		term INTEGER NOT NULL,
		date TEXT NOT NULL,
		interest TEXT NOT NULL,
		fees TEXT NOT NULL,
		principal TEXT NOT NULL,
		FOREIGN KEY(deposit_id) REFERENCES deposits(id),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first schema version.
	columns := []struct{ table, def string }{
		{"loans", "statement_cycle_day INTEGER NOT NULL DEFAULT 0"},
		{"deposits", "description TEXT NOT NULL DEFAULT ''"},
	}
	for _, col := range columns {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", col.table, col.def))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s.%s: %w", col.table, col.def, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

const loanColumns = `id, customer_key, base_interest_rate, interest_rate_variance, status, statement_cycle_day, params, created_at, updated_at`

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	params, err := json.Marshal(loan.Params)
	if err != nil {
		return fmt.Errorf("failed to encode loan params: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CustomerKey, loan.BaseInterestRate, loan.InterestRateVariance, loan.Status, loan.StatementCycleDay, string(params), loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan updates an existing loan in the database.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	params, err := json.Marshal(loan.Params)
	if err != nil {
		return fmt.Errorf("failed to encode loan params: %w", err)
	}
	result, err := s.db.Exec(
		`UPDATE loans SET customer_key = ?, base_interest_rate = ?, interest_rate_variance = ?, status = ?, statement_cycle_day = ?, params = ?, updated_at = ? WHERE id = ?`,
		loan.CustomerKey, loan.BaseInterestRate, loan.InterestRateVariance, loan.Status, loan.StatementCycleDay, string(params), loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}
	return nil
}

// DeleteLoan removes a loan with its deposits and usages within a transaction.
func (s *SQLiteStore) DeleteLoan(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM deposit_usages WHERE loan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete associated deposit usages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM deposits WHERE loan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete associated deposits: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}

	return tx.Commit()
}

// GetAllLoans retrieves all loans.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT ` + loanColumns + ` FROM loans ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// GetAllActiveLoans retrieves all active loans.
func (s *SQLiteStore) GetAllActiveLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY created_at ASC`, models.LoanStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to get all active loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var loanIDStr, params string
	if err := row.Scan(&loanIDStr, &loan.CustomerKey, &loan.BaseInterestRate, &loan.InterestRateVariance, &loan.Status, &loan.StatementCycleDay, &params, &loan.CreatedAt, &loan.UpdatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(loanIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid loan id %q: %w", loanIDStr, err)
	}
	loan.ID = id
	loan.Params = amortization.DefaultLoanParams()
	if err := json.Unmarshal([]byte(params), &loan.Params); err != nil {
		return nil, fmt.Errorf("failed to decode params for loan %s: %w", id, err)
	}
	return &loan, nil
}

func scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// CreateDeposit inserts a new deposit into the database.
func (s *SQLiteStore) CreateDeposit(deposit *models.Deposit) error {
	_, err := s.db.Exec(
		`INSERT INTO deposits (id, loan_id, amount, effective_date, apply_excess_to_principal, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		deposit.ID.String(), deposit.LoanID.String(), deposit.Amount, deposit.EffectiveDate.String(), deposit.ApplyExcessToPrincipal, deposit.Description, deposit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create deposit: %w", err)
	}
	return nil
}

// GetDepositsForLoan retrieves all deposits for a loan in effective-date order.
func (s *SQLiteStore) GetDepositsForLoan(loanID uuid.UUID) ([]*models.Deposit, error) {
	rows, err := s.db.Query(
		`SELECT id, loan_id, amount, effective_date, apply_excess_to_principal, description, created_at
		FROM deposits WHERE loan_id = ? ORDER BY effective_date ASC, created_at ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get deposits for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var deposits []*models.Deposit
	for rows.Next() {
		var deposit models.Deposit
		var idStr, loanIDStr, effective string
		if err := rows.Scan(&idStr, &loanIDStr, &deposit.Amount, &effective, &deposit.ApplyExcessToPrincipal, &deposit.Description, &deposit.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deposit row: %w", err)
		}
		if deposit.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid deposit id %q: %w", idStr, err)
		}
		if deposit.LoanID, err = uuid.Parse(loanIDStr); err != nil {
			return nil, fmt.Errorf("invalid loan id %q: %w", loanIDStr, err)
		}
		if deposit.EffectiveDate, err = civil.ParseDate(effective); err != nil {
			return nil, fmt.Errorf("invalid effective date %q: %w", effective, err)
		}
		deposits = append(deposits, &deposit)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan deposits: %w", err)
	}
	return deposits, nil
}

// ReplaceDepositUsages swaps the stored usages for a loan with usages.
func (s *SQLiteStore) ReplaceDepositUsages(loanID uuid.UUID, usages []models.DepositUsage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM deposit_usages WHERE loan_id = ?`, loanID.String()); err != nil {
		return fmt.Errorf("failed to clear deposit usages: %w", err)
	}
	for _, u := range usages {
		_, err := tx.Exec(
			`INSERT INTO deposit_usages (deposit_id, loan_id, bill_id, term, date, interest, fees, principal)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			u.DepositID.String(), loanID.String(), u.BillID.String(), u.Term, u.Date.String(), u.Interest, u.Fees, u.Principal,
		)
		if err != nil {
			return fmt.Errorf("failed to store deposit usage: %w", err)
		}
	}
	return tx.Commit()
}

// GetDepositUsagesForLoan retrieves the usages from the latest reconciliation.
func (s *SQLiteStore) GetDepositUsagesForLoan(loanID uuid.UUID) ([]models.DepositUsage, error) {
	rows, err := s.db.Query(
		`SELECT deposit_id, bill_id, term, date, interest, fees, principal
		FROM deposit_usages WHERE loan_id = ? ORDER BY term ASC, date ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit usages for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var usages []models.DepositUsage
	for rows.Next() {
		u := models.DepositUsage{LoanID: loanID}
		var depositID, billID, date string
		if err := rows.Scan(&depositID, &billID, &u.Term, &date, &u.Interest, &u.Fees, &u.Principal); err != nil {
			return nil, fmt.Errorf("failed to scan deposit usage row: %w", err)
		}
		if u.DepositID, err = uuid.Parse(depositID); err != nil {
			return nil, fmt.Errorf("invalid deposit id %q: %w", depositID, err)
		}
		if u.BillID, err = uuid.Parse(billID); err != nil {
			return nil, fmt.Errorf("invalid bill id %q: %w", billID, err)
		}
		if u.Date, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("invalid usage date %q: %w", date, err)
		}
		usages = append(usages, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for deposit usages: %w", err)
	}
	return usages, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
