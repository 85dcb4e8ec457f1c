package accounts

import (
	"context"
	"strings"
	"time"

	"github.com/nordstay/nordstay/internal/shared"
)

// AuditPort records registry events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates account creation, code allocation, and deactivation.
type Service struct {
	repo  RepositoryPort
	cache *Cache
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the registry service. Cache and audit may be nil.
func NewService(repo RepositoryPort, cache *Cache, audit AuditPort) *Service {
	return &Service{repo: repo, cache: cache, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create registers an account under a caller-chosen code.
func (s *Service) Create(ctx context.Context, in CreateInput, actorID int64) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.Insert(ctx, in)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	s.cache.Invalidate(ctx, account.Code)
	s.recordAudit(ctx, actorID, shared.AuditAccountCreate, account.Code, map[string]any{
		"type": string(account.Type),
		"name": account.Name,
	})
	return account, nil
}

// CreateWithAllocatedCode allocates the next code under prefix and registers
// the account in the same transaction, so concurrent onboarding cannot hand
// out the same code twice.
func (s *Service) CreateWithAllocatedCode(ctx context.Context, in CreateInput, prefix string, actorID int64) (Account, error) {
	if strings.TrimSpace(prefix) == "" {
		return Account{}, shared.Validationf("code prefix required")
	}
	check := in
	check.Code = prefix // placeholder; the real code is assigned in-tx
	if err := check.Validate(); err != nil {
		return Account{}, err
	}
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextCodeNumber(ctx, prefix)
		if err != nil {
			return err
		}
		in.Code = FormatCode(prefix, number)
		account, err = tx.Insert(ctx, in)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	s.cache.Invalidate(ctx, account.Code)
	s.recordAudit(ctx, actorID, shared.AuditAccountCreate, account.Code, map[string]any{
		"type":   string(account.Type),
		"name":   account.Name,
		"prefix": prefix,
	})
	return account, nil
}

// AllocateNextCode reserves and returns the next code for prefix. The number
// is consumed even when no account is created afterwards; gaps are acceptable,
// reuse is not.
func (s *Service) AllocateNextCode(ctx context.Context, prefix string) (string, error) {
	if strings.TrimSpace(prefix) == "" {
		return "", shared.Validationf("code prefix required")
	}
	var code string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextCodeNumber(ctx, prefix)
		if err != nil {
			return err
		}
		code = FormatCode(prefix, number)
		return nil
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// Deactivate soft-disables an account. Refused while any posting references
// the code; accounts are never hard-deleted.
func (s *Service) Deactivate(ctx context.Context, code string, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetByCodeForUpdate(ctx, code); err != nil {
			return err
		}
		count, err := tx.CountPostings(ctx, code)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrAccountInUse
		}
		return tx.SetActive(ctx, code, false)
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, code)
	s.recordAudit(ctx, actorID, shared.AuditAccountDeactivate, code, nil)
	return nil
}

// Rename changes the display name. Postings keep the name snapshotted at the
// time they were written.
func (s *Service) Rename(ctx context.Context, code, name string, actorID int64) error {
	if strings.TrimSpace(name) == "" {
		return shared.Validationf("account name required")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetByCodeForUpdate(ctx, code); err != nil {
			return err
		}
		return tx.SetName(ctx, code, name)
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, code)
	s.recordAudit(ctx, actorID, shared.AuditAccountRename, code, map[string]any{"name": name})
	return nil
}

// GetByCode resolves one account, read-through cached.
func (s *Service) GetByCode(ctx context.Context, code string) (Account, error) {
	return s.cache.Fetch(ctx, code, func(ctx context.Context) (Account, error) {
		return s.repo.GetByCode(ctx, code)
	})
}

// ListByEmployee returns the accounts owned by an employee.
func (s *Service) ListByEmployee(ctx context.Context, employeeID int64) ([]Account, error) {
	return s.repo.ListByEmployee(ctx, employeeID)
}

// ListByApartment returns the accounts owned by an apartment.
func (s *Service) ListByApartment(ctx context.Context, apartmentID int64) ([]Account, error) {
	return s.repo.ListByApartment(ctx, apartmentID)
}

// ListActive returns every active account ordered by code.
func (s *Service) ListActive(ctx context.Context) ([]Account, error) {
	return s.repo.ListActive(ctx)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, code string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "account",
		EntityID: code,
		Meta:     meta,
		At:       s.now(),
	})
}
