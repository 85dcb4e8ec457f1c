// Package reconcile recomputes true balances from the posting history and
// corrects cached-balance drift.
package reconcile

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nordstay/nordstay/internal/accounts"
	"github.com/nordstay/nordstay/internal/ledger"
	"github.com/nordstay/nordstay/internal/shared"
)

// AuditPort records repair events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AccountsPort is the registry surface the service reads from.
type AccountsPort interface {
	GetByCode(ctx context.Context, code string) (accounts.Account, error)
	ListActive(ctx context.Context) ([]accounts.Account, error)
}

// LedgerPort is the posting-store surface the service reads and repairs
// through. Repairs run inside the ledger's transactional scope so a repair
// racing a live posting to the same account serializes behind the row lock.
type LedgerPort interface {
	WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error
	ByAccountUpTo(ctx context.Context, code string, asOf time.Time) ([]ledger.Posting, error)
	ByAccountBetween(ctx context.Context, code string, from, to time.Time) ([]ledger.Posting, error)
}

// Drift is the outcome of validating one account.
type Drift struct {
	Code       string
	Type       accounts.AccountType
	Cached     float64
	Recomputed float64
	Drift      float64
	Valid      bool
}

// Repair extends Drift with what a repair changed.
type Repair struct {
	Drift
	Repaired   bool
	OldBalance float64
	NewBalance float64
}

// AccountFailure records one account that could not be processed in a batch.
type AccountFailure struct {
	Code string
	Err  error
}

// BatchResult summarises a validate-all or repair-all run. One account's
// failure never aborts the batch; it lands in Failures instead.
type BatchResult struct {
	Checked  int
	Invalid  int
	Repaired int
	Drifts   []Drift
	Failures []AccountFailure
}

// BalancePoint is one step of a running-balance timeline.
type BalancePoint struct {
	PostingID int64
	Date      time.Time
	Debit     float64
	Credit    float64
	Balance   float64
}

// Service implements balance recomputation, validation, repair, and history.
type Service struct {
	accounts    AccountsPort
	ledger      LedgerPort
	audit       AuditPort
	concurrency int
	now         func() time.Time
}

// NewService constructs the reconciliation service. concurrency bounds the
// parallelism of batch runs; values below one fall back to serial.
func NewService(accountsPort AccountsPort, ledgerPort LedgerPort, concurrency int) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{accounts: accountsPort, ledger: ledgerPort, concurrency: concurrency, now: time.Now}
}

// WithAudit attaches an audit sink for repair events. Optional.
func (s *Service) WithAudit(audit AuditPort) {
	s.audit = audit
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RecomputeBalance replays every posting for the account up to asOf through
// the sign rule. Read-only.
func (s *Service) RecomputeBalance(ctx context.Context, code string, asOf time.Time) (float64, error) {
	account, err := s.accounts.GetByCode(ctx, code)
	if err != nil {
		return 0, err
	}
	postings, err := s.ledger.ByAccountUpTo(ctx, code, asOf)
	if err != nil {
		return 0, err
	}
	return replay(account.Type, postings), nil
}

// Validate compares the cached balance against the recomputed one.
func (s *Service) Validate(ctx context.Context, code string) (Drift, error) {
	account, err := s.accounts.GetByCode(ctx, code)
	if err != nil {
		return Drift{}, err
	}
	postings, err := s.ledger.ByAccountUpTo(ctx, code, s.now())
	if err != nil {
		return Drift{}, err
	}
	return driftOf(account, replay(account.Type, postings)), nil
}

// ValidateAndRepair overwrites the cached balance with the recomputed value
// when they diverge. Recomputation and write share one transaction with the
// account row locked, so a concurrent live posting cannot slip between them.
func (s *Service) ValidateAndRepair(ctx context.Context, code string) (Repair, error) {
	var repair Repair
	err := s.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		account, err := tx.GetAccountForUpdate(ctx, code)
		if err != nil {
			return err
		}
		postings, err := tx.ListByAccountUpTo(ctx, code, s.now())
		if err != nil {
			return err
		}
		repair.Drift = driftOf(account, replay(account.Type, postings))
		repair.OldBalance = account.CachedBalance
		repair.NewBalance = account.CachedBalance
		if repair.Valid {
			return nil
		}
		if err := tx.SetCachedBalance(ctx, code, repair.Recomputed); err != nil {
			return err
		}
		repair.Repaired = true
		repair.NewBalance = repair.Recomputed
		return nil
	})
	if err != nil {
		return Repair{}, err
	}
	if repair.Repaired && s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   shared.AuditReconcileRepair,
			Entity:   "account",
			EntityID: code,
			Meta: map[string]any{
				"old_balance": repair.OldBalance,
				"new_balance": repair.NewBalance,
			},
			At: s.now(),
		})
	}
	return repair, nil
}

// ValidateAll checks every active account. Failures are isolated per account.
func (s *Service) ValidateAll(ctx context.Context) (BatchResult, error) {
	return s.batch(ctx, func(ctx context.Context, code string) (Drift, bool, error) {
		drift, err := s.Validate(ctx, code)
		return drift, false, err
	})
}

// RepairAll repairs every active account. Failures are isolated per account;
// this is the entry point the scheduled sweep calls.
func (s *Service) RepairAll(ctx context.Context) (BatchResult, error) {
	return s.batch(ctx, func(ctx context.Context, code string) (Drift, bool, error) {
		repair, err := s.ValidateAndRepair(ctx, code)
		return repair.Drift, repair.Repaired, err
	})
}

func (s *Service) batch(ctx context.Context, check func(context.Context, string) (Drift, bool, error)) (BatchResult, error) {
	active, err := s.accounts.ListActive(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	var mu sync.Mutex
	var result BatchResult
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for _, account := range active {
		code := account.Code
		group.Go(func() error {
			drift, repaired, err := check(groupCtx, code)
			mu.Lock()
			defer mu.Unlock()
			result.Checked++
			if err != nil {
				result.Failures = append(result.Failures, AccountFailure{Code: code, Err: err})
				return nil // isolated: a single account never aborts the batch
			}
			if !drift.Valid {
				result.Invalid++
				result.Drifts = append(result.Drifts, drift)
			}
			if repaired {
				result.Repaired++
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

// BalanceHistory produces a running-balance timeline between from and to,
// seeded with the recomputed balance as of from (zero when from is the zero
// time).
func (s *Service) BalanceHistory(ctx context.Context, code string, from, to time.Time) ([]BalancePoint, error) {
	account, err := s.accounts.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	var opening float64
	var postings []ledger.Posting
	if from.IsZero() {
		postings, err = s.ledger.ByAccountUpTo(ctx, code, to)
	} else {
		opening, err = s.RecomputeBalance(ctx, code, from)
		if err != nil {
			return nil, err
		}
		postings, err = s.ledger.ByAccountBetween(ctx, code, from, to)
	}
	if err != nil {
		return nil, err
	}

	history := make([]BalancePoint, 0, len(postings)+1)
	balance := opening
	history = append(history, BalancePoint{Date: from, Balance: opening})
	for _, p := range postings {
		balance = round2(balance + account.Type.BalanceDelta(p.Debit, p.Credit))
		history = append(history, BalancePoint{
			PostingID: p.ID,
			Date:      p.PostingDate,
			Debit:     p.Debit,
			Credit:    p.Credit,
			Balance:   balance,
		})
	}
	return history, nil
}

func replay(accountType accounts.AccountType, postings []ledger.Posting) float64 {
	var balance float64
	for _, p := range postings {
		balance = round2(balance + accountType.BalanceDelta(p.Debit, p.Credit))
	}
	return balance
}

func driftOf(account accounts.Account, recomputed float64) Drift {
	drift := round2(account.CachedBalance - recomputed)
	return Drift{
		Code:       account.Code,
		Type:       account.Type,
		Cached:     account.CachedBalance,
		Recomputed: recomputed,
		Drift:      drift,
		Valid:      math.Abs(drift) <= ledger.BalanceTolerance,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
