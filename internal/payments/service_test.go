package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nordstay/nordstay/internal/accounts"
	"github.com/nordstay/nordstay/internal/ledger"
	"github.com/nordstay/nordstay/internal/shared"
)

type memoryLedger struct {
	accounts map[string]accounts.Account
	postings []ledger.Posting
	nextID   int64
}

func newMemoryLedger(accs ...accounts.Account) *memoryLedger {
	repo := &memoryLedger{accounts: make(map[string]accounts.Account)}
	for _, a := range accs {
		repo.accounts[a.Code] = a
	}
	return repo
}

func (r *memoryLedger) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	savedPostings := append([]ledger.Posting(nil), r.postings...)
	savedAccounts := make(map[string]accounts.Account, len(r.accounts))
	for code, a := range r.accounts {
		savedAccounts[code] = a
	}
	if err := fn(ctx, &memoryLedgerTx{repo: r}); err != nil {
		r.postings = savedPostings
		r.accounts = savedAccounts
		return err
	}
	return nil
}

func (r *memoryLedger) ByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]ledger.Posting, error) {
	var out []ledger.Posting
	for _, p := range r.postings {
		if p.CorrelationID == correlationID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryLedger) BySource(ctx context.Context, sourceType string, sourceID int64) ([]ledger.Posting, error) {
	var out []ledger.Posting
	for _, p := range r.postings {
		if p.SourceType == sourceType && p.SourceID == sourceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryLedger) ByAccountAndPeriod(ctx context.Context, code string, period shared.FiscalPeriod) ([]ledger.Posting, error) {
	var out []ledger.Posting
	for _, p := range r.postings {
		if p.AccountCode == code && p.Period() == period {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryLedger) ByAccountUpTo(ctx context.Context, code string, asOf time.Time) ([]ledger.Posting, error) {
	var out []ledger.Posting
	for _, p := range r.postings {
		if p.AccountCode == code && !p.PostingDate.After(asOf) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryLedger) ByAccountBetween(ctx context.Context, code string, from, to time.Time) ([]ledger.Posting, error) {
	var out []ledger.Posting
	for _, p := range r.postings {
		if p.AccountCode == code && p.PostingDate.After(from) && !p.PostingDate.After(to) {
			out = append(out, p)
		}
	}
	return out, nil
}

type memoryLedgerTx struct {
	repo *memoryLedger
}

func (tx *memoryLedgerTx) GetAccountForUpdate(ctx context.Context, code string) (accounts.Account, error) {
	a, ok := tx.repo.accounts[code]
	if !ok {
		return accounts.Account{}, accounts.ErrAccountNotFound
	}
	return a, nil
}

func (tx *memoryLedgerTx) InsertPosting(ctx context.Context, p ledger.Posting) (ledger.Posting, error) {
	tx.repo.nextID++
	p.ID = tx.repo.nextID
	tx.repo.postings = append(tx.repo.postings, p)
	return p, nil
}

func (tx *memoryLedgerTx) AddToCachedBalance(ctx context.Context, code string, delta float64) error {
	a := tx.repo.accounts[code]
	a.CachedBalance += delta
	tx.repo.accounts[code] = a
	return nil
}

func (tx *memoryLedgerTx) ListByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]ledger.Posting, error) {
	return tx.repo.ByCorrelation(ctx, correlationID)
}

func (tx *memoryLedgerTx) ListBySourceAndAccount(ctx context.Context, sourceType string, sourceID int64, accountCode string) ([]ledger.Posting, error) {
	var out []ledger.Posting
	for _, p := range tx.repo.postings {
		if p.SourceType == sourceType && p.SourceID == sourceID && p.AccountCode == accountCode {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tx *memoryLedgerTx) ListByAccountUpTo(ctx context.Context, code string, asOf time.Time) ([]ledger.Posting, error) {
	return tx.repo.ByAccountUpTo(ctx, code, asOf)
}

func (tx *memoryLedgerTx) SetCachedBalance(ctx context.Context, code string, balance float64) error {
	a := tx.repo.accounts[code]
	a.CachedBalance = balance
	tx.repo.accounts[code] = a
	return nil
}

func (tx *memoryLedgerTx) FindCashRegisterByEmployee(ctx context.Context, employeeID int64) (accounts.Account, error) {
	for _, a := range tx.repo.accounts {
		if a.IsCashRegister && a.IsActive && a.EmployeeID != nil && *a.EmployeeID == employeeID {
			return a, nil
		}
	}
	return accounts.Account{}, accounts.ErrAccountNotFound
}

func (tx *memoryLedgerTx) FindRevenueByApartment(ctx context.Context, apartmentID int64) (accounts.Account, error) {
	for _, a := range tx.repo.accounts {
		if a.Type == accounts.AccountTypeRevenue && a.IsActive && a.ApartmentID != nil && *a.ApartmentID == apartmentID {
			return a, nil
		}
	}
	return accounts.Account{}, accounts.ErrAccountNotFound
}

func int64Ptr(v int64) *int64 { return &v }

func fixtureLedger() *memoryLedger {
	return newMemoryLedger(
		accounts.Account{Code: "1001", Name: "Till Anna", Type: accounts.AccountTypeAsset, IsCashRegister: true, EmployeeID: int64Ptr(9), IsActive: true},
		accounts.Account{Code: "4007", Name: "Apartment 7 revenue", Type: accounts.AccountTypeRevenue, ApartmentID: int64Ptr(7), IsActive: true},
	)
}

func octoberStay() Stay {
	return Stay{
		ID:          77,
		ApartmentID: 7,
		CheckIn:     time.Date(2025, time.October, 28, 0, 0, 0, 0, time.UTC),
		CheckOut:    time.Date(2025, time.December, 15, 0, 0, 0, 0, time.UTC),
		NightlyRate: 100,
	}
}

func TestRecordCashPaymentSplitsAcrossMonths(t *testing.T) {
	repo := fixtureLedger()
	svc := NewService(ledger.NewService(repo), nil)

	payDay := time.Date(2025, time.October, 28, 0, 0, 0, 0, time.UTC)
	result, err := svc.RecordCashPayment(context.Background(), PaymentInput{
		Stay: octoberStay(), Amount: 1000, ActorID: 9, Date: payDay,
	})
	require.NoError(t, err)
	require.Len(t, result.Postings, 3)
	require.Equal(t, "1001", result.CashAccount)
	require.Equal(t, "4007", result.RevenueAccount)

	cash := result.Postings[0]
	require.Equal(t, "1001", cash.AccountCode)
	require.InDelta(t, 1000, cash.Debit, 0.001)
	require.Equal(t, time.October, cash.FiscalMonth)

	// October holds 4 nights, the rest lands in November; both credits are
	// dated on the payment day but tagged with their stay month.
	require.Equal(t, "4007", result.Postings[1].AccountCode)
	require.InDelta(t, 400, result.Postings[1].Credit, 0.001)
	require.Equal(t, time.October, result.Postings[1].FiscalMonth)
	require.InDelta(t, 600, result.Postings[2].Credit, 0.001)
	require.Equal(t, time.November, result.Postings[2].FiscalMonth)
	require.Equal(t, payDay, result.Postings[2].PostingDate)

	require.InDelta(t, 1000, repo.accounts["1001"].CachedBalance, 0.001)
	require.InDelta(t, 1000, repo.accounts["4007"].CachedBalance, 0.001)
}

func TestRecordCashPaymentContinuesAfterPriorPayment(t *testing.T) {
	repo := fixtureLedger()
	svc := NewService(ledger.NewService(repo), nil)

	payDay := time.Date(2025, time.October, 28, 0, 0, 0, 0, time.UTC)
	_, err := svc.RecordCashPayment(context.Background(), PaymentInput{
		Stay: octoberStay(), Amount: 1000, ActorID: 9, Date: payDay,
	})
	require.NoError(t, err)

	second, err := svc.RecordCashPayment(context.Background(), PaymentInput{
		Stay: octoberStay(), Amount: 3000, ActorID: 9, Date: payDay.AddDate(0, 0, 5),
	})
	require.NoError(t, err)
	// October is full; November has 2400 open, the rest goes to December.
	require.Len(t, second.Allocations, 2)
	require.Equal(t, time.November, second.Allocations[0].Month)
	require.InDelta(t, 2400, second.Allocations[0].Amount, 0.001)
	require.Equal(t, time.December, second.Allocations[1].Month)
	require.InDelta(t, 600, second.Allocations[1].Amount, 0.001)
}

func TestRecordCashPaymentRejectsOverpayment(t *testing.T) {
	repo := fixtureLedger()
	svc := NewService(ledger.NewService(repo), nil)

	stay := Stay{
		ID:          77,
		ApartmentID: 7,
		CheckIn:     time.Date(2025, time.October, 30, 0, 0, 0, 0, time.UTC),
		CheckOut:    time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC),
		NightlyRate: 65,
	}
	_, err := svc.RecordCashPayment(context.Background(), PaymentInput{
		Stay: stay, Amount: 200, ActorID: 9, Date: stay.CheckIn,
	})
	require.ErrorIs(t, err, ErrOverpayment)
	require.Empty(t, repo.postings)
	require.Zero(t, repo.accounts["1001"].CachedBalance)
}

func TestRecordCashPaymentAbsorbsAcceptedOverpayment(t *testing.T) {
	repo := fixtureLedger()
	svc := NewService(ledger.NewService(repo), nil)

	stay := Stay{
		ID:          77,
		ApartmentID: 7,
		CheckIn:     time.Date(2025, time.October, 30, 0, 0, 0, 0, time.UTC),
		CheckOut:    time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC),
		NightlyRate: 65,
	}
	result, err := svc.RecordCashPayment(context.Background(), PaymentInput{
		Stay: stay, Amount: 200, ActorID: 9, Date: stay.CheckIn, AcceptOverpaymentAsCredit: true,
	})
	require.NoError(t, err)
	require.InDelta(t, 70, result.Overpayment, 0.001)
	require.Len(t, result.Allocations, 1)
	// 130 of stay revenue plus the accepted 70 surplus in the final month.
	require.InDelta(t, 200, result.Allocations[0].Amount, 0.001)
	require.InDelta(t, 200, repo.accounts["4007"].CachedBalance, 0.001)
}

func TestRecordCashPaymentWithoutCashRegister(t *testing.T) {
	repo := fixtureLedger()
	svc := NewService(ledger.NewService(repo), nil)

	_, err := svc.RecordCashPayment(context.Background(), PaymentInput{
		Stay: octoberStay(), Amount: 100, ActorID: 999, Date: time.Date(2025, time.October, 28, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, ErrNoCashRegister)
}

func TestRecordRefundUnwindsLatestMonth(t *testing.T) {
	repo := fixtureLedger()
	svc := NewService(ledger.NewService(repo), nil)

	payDay := time.Date(2025, time.October, 28, 0, 0, 0, 0, time.UTC)
	_, err := svc.RecordCashPayment(context.Background(), PaymentInput{
		Stay: octoberStay(), Amount: 1000, ActorID: 9, Date: payDay,
	})
	require.NoError(t, err)

	// The guest leaves early; the stay record now ends in October, but the
	// refund must come out of the November revenue actually collected.
	shortened := octoberStay()
	shortened.CheckOut = time.Date(2025, time.October, 31, 0, 0, 0, 0, time.UTC)
	result, err := svc.RecordRefund(context.Background(), RefundInput{
		Stay: shortened, Amount: 600, ActorID: 9, Date: payDay.AddDate(0, 0, 10),
	})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 1)
	require.Equal(t, time.November, result.Allocations[0].Month)
	require.InDelta(t, 600, result.Allocations[0].Amount, 0.001)
	require.InDelta(t, 400, result.TotalAfterRefund, 0.001)

	require.InDelta(t, 400, repo.accounts["1001"].CachedBalance, 0.001)
	require.InDelta(t, 400, repo.accounts["4007"].CachedBalance, 0.001)
}

func TestRecordRefundRejectsMoreThanPaid(t *testing.T) {
	repo := fixtureLedger()
	svc := NewService(ledger.NewService(repo), nil)

	payDay := time.Date(2025, time.October, 28, 0, 0, 0, 0, time.UTC)
	_, err := svc.RecordCashPayment(context.Background(), PaymentInput{
		Stay: octoberStay(), Amount: 400, ActorID: 9, Date: payDay,
	})
	require.NoError(t, err)

	_, err = svc.RecordRefund(context.Background(), RefundInput{
		Stay: octoberStay(), Amount: 500, ActorID: 9, Date: payDay.AddDate(0, 0, 1),
	})
	require.ErrorIs(t, err, shared.ErrConsistency)
	require.Len(t, repo.postings, 2)
}

func TestPaymentInputValidation(t *testing.T) {
	base := PaymentInput{Stay: octoberStay(), Amount: 100, ActorID: 9, Date: time.Now()}

	missingStay := base
	missingStay.Stay.ID = 0
	require.ErrorIs(t, missingStay.Validate(), shared.ErrValidation)

	badAmount := base
	badAmount.Amount = 0
	require.ErrorIs(t, badAmount.Validate(), shared.ErrValidation)

	noDate := base
	noDate.Date = time.Time{}
	require.ErrorIs(t, noDate.Validate(), shared.ErrValidation)
}
