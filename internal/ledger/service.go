package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nordstay/nordstay/internal/accounts"
	"github.com/nordstay/nordstay/internal/shared"
)

// Service posts balanced groups and answers posting queries. Postings are
// append-only: nothing here mutates or deletes an existing posting.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithTx opens one atomic scope. Orchestrators run their whole flow inside it
// so lookups, allocation, postings, and balance updates cannot interleave with
// a concurrent operation on the same stay or account.
func (s *Service) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return s.repo.WithTx(ctx, fn)
}

// PostGroup validates and persists a balanced posting group in its own
// transaction.
func (s *Service) PostGroup(ctx context.Context, in GroupInput) ([]Posting, error) {
	var postings []Posting
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		postings, err = s.PostGroupTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return postings, nil
}

// PostGroupTx persists a balanced group inside an already-open scope. Every
// touched account is locked in code order, verified, and its cached balance
// updated with the signed delta; any failure aborts the surrounding
// transaction with nothing persisted.
func (s *Service) PostGroupTx(ctx context.Context, tx TxRepository, in GroupInput) ([]Posting, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	correlationID := in.CorrelationID
	if correlationID == uuid.Nil {
		correlationID = uuid.New()
	}

	codes := distinctCodes(in.Lines)
	touched := make(map[string]accounts.Account, len(codes))
	for _, code := range codes {
		account, err := tx.GetAccountForUpdate(ctx, code)
		if err != nil {
			return nil, err
		}
		if !account.IsActive {
			return nil, accounts.ErrAccountInactive
		}
		if !account.Type.Valid() {
			return nil, shared.Validationf("account %s has unknown type %q", code, account.Type)
		}
		touched[code] = account
	}

	postings := make([]Posting, 0, len(in.Lines))
	deltas := make(map[string]float64, len(codes))
	for _, line := range in.Lines {
		account := touched[line.AccountCode]
		period := line.period()
		posting := Posting{
			PostingDate:   line.PostingDate,
			FiscalYear:    period.Year,
			FiscalMonth:   period.Month,
			AccountCode:   account.Code,
			AccountName:   account.Name,
			Debit:         line.Debit,
			Credit:        line.Credit,
			CorrelationID: correlationID,
			SourceType:    in.SourceType,
			SourceID:      in.SourceID,
			CreatedBy:     in.CreatedBy,
			Note:          line.Note,
		}
		inserted, err := tx.InsertPosting(ctx, posting)
		if err != nil {
			return nil, err
		}
		postings = append(postings, inserted)
		deltas[account.Code] += account.Type.BalanceDelta(line.Debit, line.Credit)
	}

	for _, code := range codes {
		if err := tx.AddToCachedBalance(ctx, code, deltas[code]); err != nil {
			return nil, err
		}
	}
	return postings, nil
}

// ByCorrelation returns the postings of one business event, oldest first.
func (s *Service) ByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]Posting, error) {
	postings, err := s.repo.ByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if len(postings) == 0 {
		return nil, ErrGroupNotFound
	}
	return postings, nil
}

// BySource returns every posting created for a business source.
func (s *Service) BySource(ctx context.Context, sourceType string, sourceID int64) ([]Posting, error) {
	return s.repo.BySource(ctx, sourceType, sourceID)
}

// ByAccountAndPeriod returns the postings booked into one fiscal bucket.
func (s *Service) ByAccountAndPeriod(ctx context.Context, code string, period shared.FiscalPeriod) ([]Posting, error) {
	return s.repo.ByAccountAndPeriod(ctx, code, period)
}

// distinctCodes returns the unique account codes of the group in sorted order,
// which doubles as the lock-acquisition order.
func distinctCodes(lines []LineInput) []string {
	seen := make(map[string]struct{}, len(lines))
	var codes []string
	for _, line := range lines {
		if _, ok := seen[line.AccountCode]; ok {
			continue
		}
		seen[line.AccountCode] = struct{}{}
		codes = append(codes, line.AccountCode)
	}
	sort.Strings(codes)
	return codes
}
