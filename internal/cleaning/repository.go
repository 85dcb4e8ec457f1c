package cleaning

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nordstay/nordstay/internal/accounts"
	"github.com/nordstay/nordstay/internal/ledger"
	"github.com/nordstay/nordstay/internal/platform/db"
)

// RepositoryPort abstracts the assignment store plus the shared atomic scope.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAssignment(ctx context.Context, id int64) (Assignment, error)
}

// TxRepository spans assignments and the ledger inside one transaction so a
// status change and its postings commit or roll back together.
type TxRepository interface {
	ledger.TxRepository
	GetAssignmentForUpdate(ctx context.Context, id int64) (Assignment, error)
	MarkCompleted(ctx context.Context, id int64, hours float64, completedBy int64, rate float64, correlationID uuid.UUID) error
	// MarkCancelled changes the status and nothing else.
	MarkCancelled(ctx context.Context, id int64) error
	FindPayrollAccounts(ctx context.Context, employeeID int64) (expense, liability accounts.Account, err error)
}

const assignmentColumns = `id, apartment_id, scheduled_for, hours_spent, completed_by, hourly_rate, status, payroll_correlation_id, created_at, updated_at`

// Repository persists cleaning assignments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction covering both the
// assignments table and the ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("cleaning repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: ledger.NewTx(tx), tx: tx})
	})
}

func (r *Repository) GetAssignment(ctx context.Context, id int64) (Assignment, error) {
	return scanAssignment(r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM cleaning_assignments WHERE id=$1`, id))
}

type txRepository struct {
	ledger.TxRepository
	tx pgx.Tx
}

func (r *txRepository) GetAssignmentForUpdate(ctx context.Context, id int64) (Assignment, error) {
	return scanAssignment(r.tx.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM cleaning_assignments WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) MarkCompleted(ctx context.Context, id int64, hours float64, completedBy int64, rate float64, correlationID uuid.UUID) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE cleaning_assignments
SET status=$2, hours_spent=$3, completed_by=$4, hourly_rate=$5, payroll_correlation_id=$6, updated_at=NOW() WHERE id=$1`,
		id, StatusCompleted, hours, completedBy, rate, correlationID)
	if err != nil {
		return db.ClassifyError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func (r *txRepository) MarkCancelled(ctx context.Context, id int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE cleaning_assignments SET status=$2, updated_at=NOW() WHERE id=$1`, id, StatusCancelled)
	if err != nil {
		return db.ClassifyError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func (r *txRepository) FindPayrollAccounts(ctx context.Context, employeeID int64) (accounts.Account, accounts.Account, error) {
	expense, err := r.findByEmployeeAndType(ctx, employeeID, accounts.AccountTypeExpense)
	if err != nil {
		return accounts.Account{}, accounts.Account{}, err
	}
	liability, err := r.findByEmployeeAndType(ctx, employeeID, accounts.AccountTypeLiability)
	if err != nil {
		return accounts.Account{}, accounts.Account{}, err
	}
	return expense, liability, nil
}

func (r *txRepository) findByEmployeeAndType(ctx context.Context, employeeID int64, accountType accounts.AccountType) (accounts.Account, error) {
	row := r.tx.QueryRow(ctx, `SELECT code, name, type, cached_balance, is_cash_register, employee_id, apartment_id, is_active, created_at, updated_at
FROM accounts WHERE employee_id=$1 AND type=$2 AND is_active ORDER BY code LIMIT 1`, employeeID, accountType)
	var a accounts.Account
	err := row.Scan(&a.Code, &a.Name, &a.Type, &a.CachedBalance, &a.IsCashRegister, &a.EmployeeID, &a.ApartmentID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accounts.Account{}, ErrNotQualified
		}
		return accounts.Account{}, db.ClassifyError(err)
	}
	return a, nil
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ID, &a.ApartmentID, &a.ScheduledFor, &a.HoursSpent, &a.CompletedBy, &a.HourlyRate, &a.Status, &a.PayrollCorrelationID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, ErrAssignmentNotFound
		}
		return Assignment{}, db.ClassifyError(err)
	}
	return a, nil
}
