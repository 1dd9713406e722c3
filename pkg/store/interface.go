package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/models"
)

// ErrLoanNotFound is returned when no loan has the requested id.
var ErrLoanNotFound = errors.New("loan not found")

// Storage defines the interface for database operations related to loans and deposits.
type Storage interface {
	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	DeleteLoan(id uuid.UUID) error
	GetAllLoans() ([]*models.Loan, error)
	GetAllActiveLoans() ([]*models.Loan, error)

	CreateDeposit(deposit *models.Deposit) error
	GetDepositsForLoan(loanID uuid.UUID) ([]*models.Deposit, error)
	ReplaceDepositUsages(loanID uuid.UUID, usages []models.DepositUsage) error
	GetDepositUsagesForLoan(loanID uuid.UUID) ([]models.DepositUsage, error)

	Close() error
}
