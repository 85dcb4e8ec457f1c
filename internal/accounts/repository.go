package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nordstay/nordstay/internal/platform/db"
)

// RepositoryPort abstracts the accounts store.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByCode(ctx context.Context, code string) (Account, error)
	ListActive(ctx context.Context) ([]Account, error)
	ListByEmployee(ctx context.Context, employeeID int64) ([]Account, error)
	ListByApartment(ctx context.Context, apartmentID int64) ([]Account, error)
}

// TxRepository exposes transactional operations on accounts and the per-prefix
// code counters.
type TxRepository interface {
	Insert(ctx context.Context, in CreateInput) (Account, error)
	GetByCodeForUpdate(ctx context.Context, code string) (Account, error)
	SetActive(ctx context.Context, code string, active bool) error
	// SetName changes the display name only; posting snapshots keep the old one.
	SetName(ctx context.Context, code, name string) error
	CountPostings(ctx context.Context, code string) (int64, error)
	// NextCodeNumber bumps the per-prefix counter under a row lock and returns
	// the number to use. On first use the counter is seeded from the highest
	// numeric suffix among existing codes sharing the prefix.
	NextCodeNumber(ctx context.Context, prefix string) (int64, error)
}

const accountColumns = `code, name, type, cached_balance, is_cash_register, employee_id, apartment_id, is_active, created_at, updated_at`

// Repository persists accounts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("accounts repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *Repository) GetByCode(ctx context.Context, code string) (Account, error) {
	return scanAccountRow(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1`, code))
}

func (r *Repository) ListActive(ctx context.Context) ([]Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE is_active ORDER BY code`)
}

func (r *Repository) ListByEmployee(ctx context.Context, employeeID int64) ([]Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE employee_id=$1 ORDER BY code`, employeeID)
}

func (r *Repository) ListByApartment(ctx context.Context, apartmentID int64) ([]Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE apartment_id=$1 ORDER BY code`, apartmentID)
}

func (r *Repository) list(ctx context.Context, sql string, args ...any) ([]Account, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.ClassifyError(err)
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Insert(ctx context.Context, in CreateInput) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounts (code, name, type, cached_balance, is_cash_register, employee_id, apartment_id, is_active)
VALUES ($1,$2,$3,0,$4,$5,$6,TRUE) RETURNING `+accountColumns, in.Code, in.Name, in.Type, in.IsCashRegister, in.EmployeeID, in.ApartmentID)
	account, err := scanAccount(row)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Account{}, ErrCodeTaken
		}
		return Account{}, db.ClassifyError(err)
	}
	return account, nil
}

func (r *txRepository) GetByCodeForUpdate(ctx context.Context, code string) (Account, error) {
	return scanAccountRow(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1 FOR UPDATE`, code))
}

func (r *txRepository) SetActive(ctx context.Context, code string, active bool) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET is_active=$2, updated_at=NOW() WHERE code=$1`, code, active)
	if err != nil {
		return db.ClassifyError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) SetName(ctx context.Context, code, name string) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET name=$2, updated_at=NOW() WHERE code=$1`, code, name)
	if err != nil {
		return db.ClassifyError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) CountPostings(ctx context.Context, code string) (int64, error) {
	var count int64
	if err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM postings WHERE account_code=$1`, code).Scan(&count); err != nil {
		return 0, db.ClassifyError(err)
	}
	return count, nil
}

func (r *txRepository) NextCodeNumber(ctx context.Context, prefix string) (int64, error) {
	var last int64
	err := r.tx.QueryRow(ctx, `SELECT last_value FROM account_code_counters WHERE prefix=$1 FOR UPDATE`, prefix).Scan(&last)
	switch {
	case err == nil:
		next := last + 1
		if _, err := r.tx.Exec(ctx, `UPDATE account_code_counters SET last_value=$2, updated_at=NOW() WHERE prefix=$1`, prefix, next); err != nil {
			return 0, db.ClassifyError(err)
		}
		return next, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Seed from the highest numeric suffix already present so that legacy
		// codes created before the counter existed are never reissued.
		var max int64
		seedQuery := `SELECT COALESCE(MAX(SUBSTRING(code FROM LENGTH($1::text)+1)::bigint), 0)
FROM accounts WHERE code LIKE $1 || '%' AND SUBSTRING(code FROM LENGTH($1::text)+1) ~ '^[0-9]+$'`
		if err := r.tx.QueryRow(ctx, seedQuery, prefix).Scan(&max); err != nil {
			return 0, db.ClassifyError(err)
		}
		next := max + 1
		if _, err := r.tx.Exec(ctx, `INSERT INTO account_code_counters (prefix, last_value) VALUES ($1,$2)`, prefix, next); err != nil {
			return 0, db.ClassifyError(err)
		}
		return next, nil
	default:
		return 0, db.ClassifyError(err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccountRow(row pgx.Row) (Account, error) {
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, db.ClassifyError(err)
	}
	return account, nil
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	err := row.Scan(&a.Code, &a.Name, &a.Type, &a.CachedBalance, &a.IsCashRegister, &a.EmployeeID, &a.ApartmentID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

// FormatCode joins a prefix and an allocated number.
func FormatCode(prefix string, number int64) string {
	return fmt.Sprintf("%s%d", prefix, number)
}
