package cleaning

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nordstay/nordstay/internal/shared"
)

// AssignmentStatus enumerates the cleaning-assignment lifecycle.
// SCHEDULED -> COMPLETED -> CANCELLED, plus a direct SCHEDULED -> CANCELLED
// with no financial postings. COMPLETED and CANCELLED are financially
// terminal.
type AssignmentStatus string

const (
	StatusScheduled AssignmentStatus = "SCHEDULED"
	StatusCompleted AssignmentStatus = "COMPLETED"
	StatusCancelled AssignmentStatus = "CANCELLED"
)

// Assignment is one cleaning job for an apartment.
type Assignment struct {
	ID           int64
	ApartmentID  int64
	ScheduledFor time.Time
	HoursSpent   float64
	CompletedBy  *int64
	HourlyRate   float64
	Status       AssignmentStatus
	// PayrollCorrelationID links to the accrual posting group created on
	// completion; the cancellation reversal is built from that group.
	PayrollCorrelationID *uuid.UUID
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CompleteInput carries the facts needed to complete an assignment and accrue
// its payroll.
type CompleteInput struct {
	AssignmentID int64
	HoursSpent   float64
	CompletedBy  int64
	HourlyRate   float64
	Date         time.Time
}

// Validate checks the completion input before any storage work.
func (in CompleteInput) Validate() error {
	if in.AssignmentID == 0 {
		return shared.Validationf("assignment id required")
	}
	if in.HoursSpent <= 0 {
		return shared.Validationf("hours spent must be positive")
	}
	if in.CompletedBy == 0 {
		return shared.Validationf("completer required")
	}
	if in.HourlyRate <= 0 {
		return shared.Validationf("hourly rate must be positive")
	}
	if in.Date.IsZero() {
		return shared.Validationf("completion date required")
	}
	return nil
}

var (
	// ErrAssignmentNotFound indicates no assignment carries the id.
	ErrAssignmentNotFound = fmt.Errorf("%w: cleaning assignment", shared.ErrNotFound)
	// ErrInvalidTransition indicates the status change is not in the state machine.
	ErrInvalidTransition = fmt.Errorf("%w: assignment status transition not allowed", shared.ErrValidation)
	// ErrNotQualified indicates the completer has no payroll accounts.
	ErrNotQualified = fmt.Errorf("%w: payroll accounts for completer", shared.ErrNotFound)
	// ErrNoAccrual indicates a completed assignment without a payroll group.
	ErrNoAccrual = fmt.Errorf("%w: completed assignment has no payroll correlation group", shared.ErrConsistency)
)
