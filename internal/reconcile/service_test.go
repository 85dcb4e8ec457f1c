package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nordstay/nordstay/internal/accounts"
	"github.com/nordstay/nordstay/internal/ledger"
	"github.com/nordstay/nordstay/internal/shared"
)

type memoryStore struct {
	accounts map[string]accounts.Account
	postings map[string][]ledger.Posting
	// failing accounts error on in-tx reads to exercise batch isolation.
	failing map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts: make(map[string]accounts.Account),
		postings: make(map[string][]ledger.Posting),
		failing:  make(map[string]bool),
	}
}

func (s *memoryStore) addAccount(code string, accType accounts.AccountType, cached float64) {
	s.accounts[code] = accounts.Account{Code: code, Name: "Account " + code, Type: accType, CachedBalance: cached, IsActive: true}
}

func (s *memoryStore) addPosting(code string, day time.Time, debit, credit float64) {
	p := ledger.Posting{
		ID:          int64(len(s.postings[code]) + 1),
		PostingDate: day,
		FiscalYear:  day.Year(),
		FiscalMonth: day.Month(),
		AccountCode: code,
		Debit:       debit,
		Credit:      credit,
	}
	s.postings[code] = append(s.postings[code], p)
}

// AccountsPort

func (s *memoryStore) GetByCode(ctx context.Context, code string) (accounts.Account, error) {
	a, ok := s.accounts[code]
	if !ok {
		return accounts.Account{}, accounts.ErrAccountNotFound
	}
	return a, nil
}

func (s *memoryStore) ListActive(ctx context.Context) ([]accounts.Account, error) {
	var out []accounts.Account
	for _, a := range s.accounts {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

// LedgerPort

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return fn(ctx, &memoryStoreTx{store: s})
}

func (s *memoryStore) ByAccountUpTo(ctx context.Context, code string, asOf time.Time) ([]ledger.Posting, error) {
	var out []ledger.Posting
	for _, p := range s.postings[code] {
		if !p.PostingDate.After(asOf) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memoryStore) ByAccountBetween(ctx context.Context, code string, from, to time.Time) ([]ledger.Posting, error) {
	var out []ledger.Posting
	for _, p := range s.postings[code] {
		if p.PostingDate.After(from) && !p.PostingDate.After(to) {
			out = append(out, p)
		}
	}
	return out, nil
}

type memoryStoreTx struct {
	store *memoryStore
}

func (tx *memoryStoreTx) GetAccountForUpdate(ctx context.Context, code string) (accounts.Account, error) {
	if tx.store.failing[code] {
		return accounts.Account{}, errors.New("connection reset")
	}
	return tx.store.GetByCode(ctx, code)
}

func (tx *memoryStoreTx) InsertPosting(ctx context.Context, p ledger.Posting) (ledger.Posting, error) {
	tx.store.postings[p.AccountCode] = append(tx.store.postings[p.AccountCode], p)
	return p, nil
}

func (tx *memoryStoreTx) AddToCachedBalance(ctx context.Context, code string, delta float64) error {
	a, ok := tx.store.accounts[code]
	if !ok {
		return accounts.ErrAccountNotFound
	}
	a.CachedBalance += delta
	tx.store.accounts[code] = a
	return nil
}

func (tx *memoryStoreTx) ListByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]ledger.Posting, error) {
	return nil, nil
}

func (tx *memoryStoreTx) ListBySourceAndAccount(ctx context.Context, sourceType string, sourceID int64, accountCode string) ([]ledger.Posting, error) {
	return nil, nil
}

func (tx *memoryStoreTx) ListByAccountUpTo(ctx context.Context, code string, asOf time.Time) ([]ledger.Posting, error) {
	return tx.store.ByAccountUpTo(ctx, code, asOf)
}

func (tx *memoryStoreTx) SetCachedBalance(ctx context.Context, code string, balance float64) error {
	a, ok := tx.store.accounts[code]
	if !ok {
		return accounts.ErrAccountNotFound
	}
	a.CachedBalance = balance
	tx.store.accounts[code] = a
	return nil
}

func (tx *memoryStoreTx) FindCashRegisterByEmployee(ctx context.Context, employeeID int64) (accounts.Account, error) {
	return accounts.Account{}, accounts.ErrAccountNotFound
}

func (tx *memoryStoreTx) FindRevenueByApartment(ctx context.Context, apartmentID int64) (accounts.Account, error) {
	return accounts.Account{}, accounts.ErrAccountNotFound
}

func day(d int) time.Time {
	return time.Date(2025, time.October, d, 0, 0, 0, 0, time.UTC)
}

func TestRecomputeBalanceAppliesSignRule(t *testing.T) {
	store := newMemoryStore()
	store.addAccount("2000", accounts.AccountTypeLiability, 0)
	store.addPosting("2000", day(1), 0, 500)
	store.addPosting("2000", day(2), 120, 0)

	svc := NewService(store, store, 1)
	balance, err := svc.RecomputeBalance(context.Background(), "2000", day(30))
	require.NoError(t, err)
	// Liability grows on credit: 500 - 120.
	require.InDelta(t, 380, balance, 0.001)
}

func TestValidateDetectsDrift(t *testing.T) {
	store := newMemoryStore()
	store.addAccount("1000", accounts.AccountTypeAsset, 90)
	store.addPosting("1000", day(1), 100, 0)

	svc := NewService(store, store, 1)
	drift, err := svc.Validate(context.Background(), "1000")
	require.NoError(t, err)
	require.False(t, drift.Valid)
	require.InDelta(t, 90, drift.Cached, 0.001)
	require.InDelta(t, 100, drift.Recomputed, 0.001)
	require.InDelta(t, -10, drift.Drift, 0.001)
}

func TestValidateWithinTolerance(t *testing.T) {
	store := newMemoryStore()
	store.addAccount("1000", accounts.AccountTypeAsset, 100.004)
	store.addPosting("1000", day(1), 100, 0)

	svc := NewService(store, store, 1)
	drift, err := svc.Validate(context.Background(), "1000")
	require.NoError(t, err)
	require.True(t, drift.Valid)
}

func TestValidateAndRepairOverwritesCache(t *testing.T) {
	store := newMemoryStore()
	store.addAccount("1000", accounts.AccountTypeAsset, 75)
	store.addPosting("1000", day(1), 100, 0)
	store.addPosting("1000", day(3), 0, 40)

	svc := NewService(store, store, 1)
	repair, err := svc.ValidateAndRepair(context.Background(), "1000")
	require.NoError(t, err)
	require.True(t, repair.Repaired)
	require.InDelta(t, 75, repair.OldBalance, 0.001)
	require.InDelta(t, 60, repair.NewBalance, 0.001)
	require.InDelta(t, 60, store.accounts["1000"].CachedBalance, 0.001)
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestValidateAndRepairRecordsAudit(t *testing.T) {
	store := newMemoryStore()
	store.addAccount("1000", accounts.AccountTypeAsset, 75)
	store.addPosting("1000", day(1), 100, 0)

	audit := &recordingAudit{}
	svc := NewService(store, store, 1)
	svc.WithAudit(audit)

	_, err := svc.ValidateAndRepair(context.Background(), "1000")
	require.NoError(t, err)
	require.Len(t, audit.logs, 1)
	require.Equal(t, shared.AuditReconcileRepair, audit.logs[0].Action)
	require.Equal(t, "1000", audit.logs[0].EntityID)
	require.InDelta(t, 75.0, audit.logs[0].Meta["old_balance"].(float64), 0.001)
	require.InDelta(t, 100.0, audit.logs[0].Meta["new_balance"].(float64), 0.001)

	// A repair that changes nothing is not an auditable event.
	_, err = svc.ValidateAndRepair(context.Background(), "1000")
	require.NoError(t, err)
	require.Len(t, audit.logs, 1)
}

func TestValidateAndRepairLeavesValidAccountAlone(t *testing.T) {
	store := newMemoryStore()
	store.addAccount("1000", accounts.AccountTypeAsset, 100)
	store.addPosting("1000", day(1), 100, 0)

	svc := NewService(store, store, 1)
	repair, err := svc.ValidateAndRepair(context.Background(), "1000")
	require.NoError(t, err)
	require.False(t, repair.Repaired)
	require.InDelta(t, 100, store.accounts["1000"].CachedBalance, 0.001)
}

func TestRepairAllIsolatesFailures(t *testing.T) {
	store := newMemoryStore()
	store.addAccount("1000", accounts.AccountTypeAsset, 0)
	store.addPosting("1000", day(1), 50, 0)
	store.addAccount("2000", accounts.AccountTypeLiability, 10)
	store.addPosting("2000", day(1), 0, 10)
	store.addAccount("3000", accounts.AccountTypeAsset, 5)
	store.failing["3000"] = true

	svc := NewService(store, store, 2)
	result, err := svc.RepairAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, result.Checked)
	require.Equal(t, 1, result.Invalid)
	require.Equal(t, 1, result.Repaired)
	require.Len(t, result.Failures, 1)
	require.Equal(t, "3000", result.Failures[0].Code)

	// The failing account did not stop the drifted one from being repaired.
	require.InDelta(t, 50, store.accounts["1000"].CachedBalance, 0.001)
	require.InDelta(t, 10, store.accounts["2000"].CachedBalance, 0.001)
}

func TestValidateAllReportsWithoutWriting(t *testing.T) {
	store := newMemoryStore()
	store.addAccount("1000", accounts.AccountTypeAsset, 0)
	store.addPosting("1000", day(1), 50, 0)

	svc := NewService(store, store, 1)
	result, err := svc.ValidateAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Invalid)
	require.Zero(t, result.Repaired)
	require.Zero(t, store.accounts["1000"].CachedBalance)
}

func TestBalanceHistorySeedsOpeningBalance(t *testing.T) {
	store := newMemoryStore()
	store.addAccount("1000", accounts.AccountTypeAsset, 0)
	store.addPosting("1000", day(1), 100, 0)
	store.addPosting("1000", day(10), 0, 30)
	store.addPosting("1000", day(20), 50, 0)

	svc := NewService(store, store, 1)
	history, err := svc.BalanceHistory(context.Background(), "1000", day(5), day(31))
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.InDelta(t, 100, history[0].Balance, 0.001)
	require.InDelta(t, 70, history[1].Balance, 0.001)
	require.InDelta(t, 120, history[2].Balance, 0.001)
}

func TestBalanceHistoryFromZeroTime(t *testing.T) {
	store := newMemoryStore()
	store.addAccount("1000", accounts.AccountTypeAsset, 0)
	store.addPosting("1000", day(1), 100, 0)

	svc := NewService(store, store, 1)
	history, err := svc.BalanceHistory(context.Background(), "1000", time.Time{}, day(31))
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Zero(t, history[0].Balance)
	require.InDelta(t, 100, history[1].Balance, 0.001)
}
