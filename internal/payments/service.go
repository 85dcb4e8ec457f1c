package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nordstay/nordstay/internal/allocation"
	"github.com/nordstay/nordstay/internal/ledger"
	"github.com/nordstay/nordstay/internal/shared"
)

// AuditPort records payment events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service records cash payments and refunds for stays. Each call runs inside
// one transactional scope spanning account resolution, prior-posting reads,
// allocation, postings, and balance updates, so concurrent operations on the
// same stay cannot double-allocate a fiscal-month remainder.
type Service struct {
	ledger *ledger.Service
	audit  AuditPort
	now    func() time.Time
}

// NewService constructs the payments orchestrator. Audit may be nil.
func NewService(ledgerSvc *ledger.Service, audit AuditPort) *Service {
	return &Service{ledger: ledgerSvc, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RecordCashPayment books one debit on the actor's cash register and one
// revenue credit per fiscal month the stay touches, all under one correlation
// id. The group balances in aggregate; any failed step aborts the whole
// operation with nothing persisted.
func (s *Service) RecordCashPayment(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	if err := in.Validate(); err != nil {
		return PaymentResult{}, err
	}

	result := PaymentResult{CorrelationID: uuid.New()}
	err := s.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		cash, err := tx.FindCashRegisterByEmployee(ctx, in.ActorID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return ErrNoCashRegister
			}
			return err
		}
		revenue, err := tx.FindRevenueByApartment(ctx, in.Stay.ApartmentID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return ErrNoRevenueAccount
			}
			return err
		}

		prior, err := tx.ListBySourceAndAccount(ctx, ledger.SourceTypeStay, in.Stay.ID, revenue.Code)
		if err != nil {
			return err
		}
		plan, err := allocation.AllocatePayment(in.Stay.allocation(), in.Stay.NightlyRate, in.Amount, toPrior(prior))
		if err != nil {
			return err
		}
		allocations := plan.Allocations
		if plan.Overpayment > 0 {
			if !in.AcceptOverpaymentAsCredit {
				return ErrOverpayment
			}
			allocations, err = absorbIntoFinalMonth(in.Stay, allocations, plan.Overpayment)
			if err != nil {
				return err
			}
		}

		lines := make([]ledger.LineInput, 0, len(allocations)+1)
		lines = append(lines, ledger.LineInput{
			AccountCode: cash.Code,
			Debit:       in.Amount,
			PostingDate: in.Date,
			Note:        in.Note,
		})
		for _, month := range allocations {
			lines = append(lines, ledger.LineInput{
				AccountCode: revenue.Code,
				Credit:      month.Amount,
				PostingDate: in.Date,
				Period:      month.Period(),
				Note:        in.Note,
			})
		}

		postings, err := s.ledger.PostGroupTx(ctx, tx, ledger.GroupInput{
			CorrelationID: result.CorrelationID,
			SourceType:    ledger.SourceTypeStay,
			SourceID:      in.Stay.ID,
			CreatedBy:     in.ActorID,
			Lines:         lines,
		})
		if err != nil {
			return err
		}
		result.Postings = postings
		result.Allocations = allocations
		result.Overpayment = plan.Overpayment
		result.CashAccount = cash.Code
		result.RevenueAccount = revenue.Code
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	s.recordAudit(ctx, in.ActorID, shared.AuditPaymentRecord, result.CorrelationID, map[string]any{
		"stay_id":     in.Stay.ID,
		"amount":      in.Amount,
		"overpayment": result.Overpayment,
	})
	return result, nil
}

// RecordRefund mirrors RecordCashPayment with the sides swapped: the cash
// register is credited and the revenue account debited per fiscal month, the
// months chosen by unwinding actual payment history latest-first.
func (s *Service) RecordRefund(ctx context.Context, in RefundInput) (RefundResult, error) {
	if err := in.Validate(); err != nil {
		return RefundResult{}, err
	}

	result := RefundResult{CorrelationID: uuid.New()}
	err := s.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		cash, err := tx.FindCashRegisterByEmployee(ctx, in.ActorID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return ErrNoCashRegister
			}
			return err
		}
		revenue, err := tx.FindRevenueByApartment(ctx, in.Stay.ApartmentID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return ErrNoRevenueAccount
			}
			return err
		}

		prior, err := tx.ListBySourceAndAccount(ctx, ledger.SourceTypeStay, in.Stay.ID, revenue.Code)
		if err != nil {
			return err
		}
		plan, err := allocation.AllocateRefund(in.Stay.allocation(), in.Amount, toPrior(prior))
		if err != nil {
			return err
		}

		lines := make([]ledger.LineInput, 0, len(plan.Allocations)+1)
		lines = append(lines, ledger.LineInput{
			AccountCode: cash.Code,
			Credit:      in.Amount,
			PostingDate: in.Date,
			Note:        in.Note,
		})
		for _, month := range plan.Allocations {
			lines = append(lines, ledger.LineInput{
				AccountCode: revenue.Code,
				Debit:       month.Amount,
				PostingDate: in.Date,
				Period:      month.Period(),
				Note:        in.Note,
			})
		}

		postings, err := s.ledger.PostGroupTx(ctx, tx, ledger.GroupInput{
			CorrelationID: result.CorrelationID,
			SourceType:    ledger.SourceTypeStay,
			SourceID:      in.Stay.ID,
			CreatedBy:     in.ActorID,
			Lines:         lines,
		})
		if err != nil {
			return err
		}
		result.Postings = postings
		result.Allocations = plan.Allocations
		result.TotalAfterRefund = plan.TotalAfterRefund
		result.CashAccount = cash.Code
		result.RevenueAccount = revenue.Code
		return nil
	})
	if err != nil {
		return RefundResult{}, err
	}

	s.recordAudit(ctx, in.ActorID, shared.AuditRefundRecord, result.CorrelationID, map[string]any{
		"stay_id": in.Stay.ID,
		"amount":  in.Amount,
	})
	return result, nil
}

// absorbIntoFinalMonth books an accepted surplus into the last stay month.
func absorbIntoFinalMonth(stay Stay, allocations []allocation.MonthAmount, surplus float64) ([]allocation.MonthAmount, error) {
	months, err := allocation.NightsByFiscalMonth(stay.CheckIn, stay.CheckOut)
	if err != nil {
		return nil, err
	}
	last := months[len(months)-1]
	if n := len(allocations); n > 0 && allocations[n-1].Year == last.Year && allocations[n-1].Month == last.Month {
		allocations[n-1].Amount += surplus
		return allocations, nil
	}
	return append(allocations, allocation.MonthAmount{Year: last.Year, Month: last.Month, Amount: surplus}), nil
}

func toPrior(postings []ledger.Posting) []allocation.PriorPosting {
	prior := make([]allocation.PriorPosting, 0, len(postings))
	for _, p := range postings {
		prior = append(prior, allocation.PriorPosting{
			Year:   p.FiscalYear,
			Month:  p.FiscalMonth,
			Debit:  p.Debit,
			Credit: p.Credit,
		})
	}
	return prior
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, correlationID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "posting_group",
		EntityID: correlationID.String(),
		Meta:     meta,
		At:       s.now(),
	})
}
