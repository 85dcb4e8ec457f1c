package cleaning

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nordstay/nordstay/internal/ledger"
	"github.com/nordstay/nordstay/internal/shared"
)

// AuditPort records payroll events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the assignment state machine and its payroll postings.
type Service struct {
	repo   RepositoryPort
	ledger *ledger.Service
	audit  AuditPort
	now    func() time.Time
}

// NewService constructs the cleaning orchestrator. Audit may be nil.
func NewService(repo RepositoryPort, ledgerSvc *ledger.Service, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledgerSvc, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CompleteAssignment transitions SCHEDULED -> COMPLETED and accrues payroll:
// an expense debit and a liability credit sized hours x rate on the worker's
// payroll accounts, in one correlation group, atomically with the status
// change.
func (s *Service) CompleteAssignment(ctx context.Context, in CompleteInput) (Assignment, []ledger.Posting, error) {
	if err := in.Validate(); err != nil {
		return Assignment{}, nil, err
	}

	correlationID := uuid.New()
	var assignment Assignment
	var postings []ledger.Posting
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetAssignmentForUpdate(ctx, in.AssignmentID)
		if err != nil {
			return err
		}
		if current.Status != StatusScheduled {
			return ErrInvalidTransition
		}
		expense, liability, err := tx.FindPayrollAccounts(ctx, in.CompletedBy)
		if err != nil {
			return err
		}

		amount := round2(in.HoursSpent * in.HourlyRate)
		postings, err = s.ledger.PostGroupTx(ctx, tx, ledger.GroupInput{
			CorrelationID: correlationID,
			SourceType:    ledger.SourceTypeCleaning,
			SourceID:      current.ID,
			CreatedBy:     in.CompletedBy,
			Lines: []ledger.LineInput{
				{AccountCode: expense.Code, Debit: amount, PostingDate: in.Date},
				{AccountCode: liability.Code, Credit: amount, PostingDate: in.Date},
			},
		})
		if err != nil {
			return err
		}
		if err := tx.MarkCompleted(ctx, current.ID, in.HoursSpent, in.CompletedBy, in.HourlyRate, correlationID); err != nil {
			return err
		}
		assignment = current
		assignment.Status = StatusCompleted
		assignment.HoursSpent = in.HoursSpent
		assignment.CompletedBy = &in.CompletedBy
		assignment.HourlyRate = in.HourlyRate
		assignment.PayrollCorrelationID = &correlationID
		return nil
	})
	if err != nil {
		return Assignment{}, nil, err
	}

	s.recordAudit(ctx, in.CompletedBy, shared.AuditPayrollAccrue, assignment.ID, map[string]any{
		"correlation_id": correlationID.String(),
		"hours":          in.HoursSpent,
		"rate":           in.HourlyRate,
	})
	return assignment, postings, nil
}

// CancelCompletedAssignment transitions COMPLETED -> CANCELLED and posts the
// exact inverse pair against the account codes used by the original accrual
// group, so the two groups net to zero.
func (s *Service) CancelCompletedAssignment(ctx context.Context, assignmentID, actorID int64) (Assignment, []ledger.Posting, error) {
	if assignmentID == 0 {
		return Assignment{}, nil, shared.Validationf("assignment id required")
	}

	reversalID := uuid.New()
	var assignment Assignment
	var postings []ledger.Posting
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetAssignmentForUpdate(ctx, assignmentID)
		if err != nil {
			return err
		}
		if current.Status != StatusCompleted {
			return ErrInvalidTransition
		}
		if current.PayrollCorrelationID == nil {
			return ErrNoAccrual
		}
		original, err := tx.ListByCorrelation(ctx, *current.PayrollCorrelationID)
		if err != nil {
			return err
		}
		if len(original) == 0 {
			return ErrNoAccrual
		}

		lines := make([]ledger.LineInput, 0, len(original))
		for _, p := range original {
			lines = append(lines, ledger.LineInput{
				AccountCode: p.AccountCode,
				Debit:       p.Credit,
				Credit:      p.Debit,
				PostingDate: s.now(),
				Period:      p.Period(),
			})
		}
		postings, err = s.ledger.PostGroupTx(ctx, tx, ledger.GroupInput{
			CorrelationID: reversalID,
			SourceType:    ledger.SourceTypeCleaning,
			SourceID:      current.ID,
			CreatedBy:     actorID,
			Lines:         lines,
		})
		if err != nil {
			return err
		}
		if err := tx.MarkCancelled(ctx, current.ID); err != nil {
			return err
		}
		assignment = current
		assignment.Status = StatusCancelled
		return nil
	})
	if err != nil {
		return Assignment{}, nil, err
	}

	s.recordAudit(ctx, actorID, shared.AuditPayrollReverse, assignment.ID, map[string]any{
		"correlation_id": reversalID.String(),
	})
	return assignment, postings, nil
}

// CancelScheduledAssignment transitions SCHEDULED -> CANCELLED directly. No
// postings exist yet, so the status is the sole field changed.
func (s *Service) CancelScheduledAssignment(ctx context.Context, assignmentID, actorID int64) (Assignment, error) {
	if assignmentID == 0 {
		return Assignment{}, shared.Validationf("assignment id required")
	}

	var assignment Assignment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetAssignmentForUpdate(ctx, assignmentID)
		if err != nil {
			return err
		}
		if current.Status != StatusScheduled {
			return ErrInvalidTransition
		}
		if err := tx.MarkCancelled(ctx, current.ID); err != nil {
			return err
		}
		assignment = current
		assignment.Status = StatusCancelled
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}

	s.recordAudit(ctx, actorID, "assignment.cancel", assignment.ID, nil)
	return assignment, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, assignmentID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "cleaning_assignment",
		EntityID: formatID(assignmentID),
		Meta:     meta,
		At:       s.now(),
	})
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
