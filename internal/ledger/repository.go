package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nordstay/nordstay/internal/accounts"
	"github.com/nordstay/nordstay/internal/platform/db"
	"github.com/nordstay/nordstay/internal/shared"
)

// RepositoryPort abstracts the posting store and its transactional scope.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]Posting, error)
	BySource(ctx context.Context, sourceType string, sourceID int64) ([]Posting, error)
	ByAccountAndPeriod(ctx context.Context, code string, period shared.FiscalPeriod) ([]Posting, error)
	ByAccountUpTo(ctx context.Context, code string, asOf time.Time) ([]Posting, error)
	ByAccountBetween(ctx context.Context, code string, from, to time.Time) ([]Posting, error)
}

// TxRepository exposes the operations available inside one atomic scope. The
// account lookups live here because every orchestrator must resolve accounts,
// read prior postings, and write the group under the same transaction.
type TxRepository interface {
	GetAccountForUpdate(ctx context.Context, code string) (accounts.Account, error)
	InsertPosting(ctx context.Context, p Posting) (Posting, error)
	AddToCachedBalance(ctx context.Context, code string, delta float64) error
	ListByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]Posting, error)
	ListBySourceAndAccount(ctx context.Context, sourceType string, sourceID int64, accountCode string) ([]Posting, error)
	ListByAccountUpTo(ctx context.Context, code string, asOf time.Time) ([]Posting, error)
	SetCachedBalance(ctx context.Context, code string, balance float64) error
	FindCashRegisterByEmployee(ctx context.Context, employeeID int64) (accounts.Account, error)
	FindRevenueByApartment(ctx context.Context, apartmentID int64) (accounts.Account, error)
}

const postingColumns = `id, posting_date, fiscal_year, fiscal_month, account_code, account_name, debit, credit, correlation_id, source_type, source_id, created_by, note, created_at`

// Repository persists postings in PostgreSQL.
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
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTx(tx))
	})
}

func (r *Repository) ByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]Posting, error) {
	return queryPostings(ctx, r.pool, `SELECT `+postingColumns+` FROM postings WHERE correlation_id=$1 ORDER BY posting_date, id`, correlationID)
}

func (r *Repository) BySource(ctx context.Context, sourceType string, sourceID int64) ([]Posting, error) {
	return queryPostings(ctx, r.pool, `SELECT `+postingColumns+` FROM postings WHERE source_type=$1 AND source_id=$2 ORDER BY posting_date, id`, sourceType, sourceID)
}

func (r *Repository) ByAccountAndPeriod(ctx context.Context, code string, period shared.FiscalPeriod) ([]Posting, error) {
	return queryPostings(ctx, r.pool, `SELECT `+postingColumns+` FROM postings WHERE account_code=$1 AND fiscal_year=$2 AND fiscal_month=$3 ORDER BY posting_date, id`, code, period.Year, int(period.Month))
}

func (r *Repository) ByAccountUpTo(ctx context.Context, code string, asOf time.Time) ([]Posting, error) {
	return queryPostings(ctx, r.pool, `SELECT `+postingColumns+` FROM postings WHERE account_code=$1 AND posting_date <= $2 ORDER BY posting_date, id`, code, asOf)
}

func (r *Repository) ByAccountBetween(ctx context.Context, code string, from, to time.Time) ([]Posting, error) {
	return queryPostings(ctx, r.pool, `SELECT `+postingColumns+` FROM postings WHERE account_code=$1 AND posting_date > $2 AND posting_date <= $3 ORDER BY posting_date, id`, code, from, to)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTx wraps an open pgx transaction in the ledger's transactional surface.
// Orchestrator repositories embed it so assignment updates and postings share
// one scope.
func NewTx(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, code string) (accounts.Account, error) {
	row := r.tx.QueryRow(ctx, `SELECT code, name, type, cached_balance, is_cash_register, employee_id, apartment_id, is_active, created_at, updated_at FROM accounts WHERE code=$1 FOR UPDATE`, code)
	return scanAccount(row)
}

func (r *txRepository) InsertPosting(ctx context.Context, p Posting) (Posting, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO postings (posting_date, fiscal_year, fiscal_month, account_code, account_name, debit, credit, correlation_id, source_type, source_id, created_by, note)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id, created_at`,
		p.PostingDate, p.FiscalYear, int(p.FiscalMonth), p.AccountCode, p.AccountName, toNumeric(p.Debit), toNumeric(p.Credit), p.CorrelationID, p.SourceType, p.SourceID, p.CreatedBy, p.Note)
	if err := row.Scan(&p.ID, &p.CreatedAt); err != nil {
		return Posting{}, db.ClassifyError(err)
	}
	return p, nil
}

func (r *txRepository) AddToCachedBalance(ctx context.Context, code string, delta float64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET cached_balance = cached_balance + $2, updated_at=NOW() WHERE code=$1`, code, toNumeric(delta))
	if err != nil {
		return db.ClassifyError(err)
	}
	if cmd.RowsAffected() == 0 {
		return accounts.ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) ListByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]Posting, error) {
	return queryPostings(ctx, r.tx, `SELECT `+postingColumns+` FROM postings WHERE correlation_id=$1 ORDER BY posting_date, id`, correlationID)
}

func (r *txRepository) ListBySourceAndAccount(ctx context.Context, sourceType string, sourceID int64, accountCode string) ([]Posting, error) {
	return queryPostings(ctx, r.tx, `SELECT `+postingColumns+` FROM postings WHERE source_type=$1 AND source_id=$2 AND account_code=$3 ORDER BY posting_date, id`, sourceType, sourceID, accountCode)
}

func (r *txRepository) ListByAccountUpTo(ctx context.Context, code string, asOf time.Time) ([]Posting, error) {
	return queryPostings(ctx, r.tx, `SELECT `+postingColumns+` FROM postings WHERE account_code=$1 AND posting_date <= $2 ORDER BY posting_date, id`, code, asOf)
}

// SetCachedBalance overwrites the cached balance outright. Only the
// reconciliation repair path uses it; live postings go through
// AddToCachedBalance deltas.
func (r *txRepository) SetCachedBalance(ctx context.Context, code string, balance float64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET cached_balance=$2, updated_at=NOW() WHERE code=$1`, code, toNumeric(balance))
	if err != nil {
		return db.ClassifyError(err)
	}
	if cmd.RowsAffected() == 0 {
		return accounts.ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) FindCashRegisterByEmployee(ctx context.Context, employeeID int64) (accounts.Account, error) {
	row := r.tx.QueryRow(ctx, `SELECT code, name, type, cached_balance, is_cash_register, employee_id, apartment_id, is_active, created_at, updated_at
FROM accounts WHERE employee_id=$1 AND is_cash_register AND is_active ORDER BY code LIMIT 1`, employeeID)
	return scanAccount(row)
}

func (r *txRepository) FindRevenueByApartment(ctx context.Context, apartmentID int64) (accounts.Account, error) {
	row := r.tx.QueryRow(ctx, `SELECT code, name, type, cached_balance, is_cash_register, employee_id, apartment_id, is_active, created_at, updated_at
FROM accounts WHERE apartment_id=$1 AND type='REVENUE' AND is_active ORDER BY code LIMIT 1`, apartmentID)
	return scanAccount(row)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryPostings(ctx context.Context, q querier, sql string, args ...any) ([]Posting, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.ClassifyError(err)
	}
	defer rows.Close()
	var postings []Posting
	for rows.Next() {
		var p Posting
		var month int
		err := rows.Scan(&p.ID, &p.PostingDate, &p.FiscalYear, &month, &p.AccountCode, &p.AccountName, &p.Debit, &p.Credit, &p.CorrelationID, &p.SourceType, &p.SourceID, &p.CreatedBy, &p.Note, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		p.FiscalMonth = time.Month(month)
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

func scanAccount(row pgx.Row) (accounts.Account, error) {
	var a accounts.Account
	err := row.Scan(&a.Code, &a.Name, &a.Type, &a.CachedBalance, &a.IsCashRegister, &a.EmployeeID, &a.ApartmentID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accounts.Account{}, accounts.ErrAccountNotFound
		}
		return accounts.Account{}, db.ClassifyError(err)
	}
	return a, nil
}

func toNumeric(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
