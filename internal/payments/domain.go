package payments

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nordstay/nordstay/internal/allocation"
	"github.com/nordstay/nordstay/internal/ledger"
	"github.com/nordstay/nordstay/internal/shared"
)

// Stay carries the read-only reservation facts consumed from the booking
// domain: identity, dates, and rate. Nothing here is written back.
type Stay struct {
	ID          int64
	ApartmentID int64
	CheckIn     time.Time
	CheckOut    time.Time
	NightlyRate float64
}

func (s Stay) allocation() allocation.Stay {
	return allocation.Stay{CheckIn: s.CheckIn, CheckOut: s.CheckOut}
}

// PaymentInput describes one cash payment taken for a stay.
type PaymentInput struct {
	Stay    Stay
	Amount  float64
	ActorID int64
	Date    time.Time
	// AcceptOverpaymentAsCredit books any surplus beyond the stay's remaining
	// revenue into the final stay month instead of aborting.
	AcceptOverpaymentAsCredit bool
	Note                      string
}

// Validate checks the payment input before any storage work.
func (in PaymentInput) Validate() error {
	if in.Stay.ID == 0 {
		return shared.Validationf("stay id required")
	}
	if in.Amount <= 0 {
		return shared.Validationf("payment amount must be positive")
	}
	if in.ActorID == 0 {
		return shared.Validationf("actor required")
	}
	if in.Date.IsZero() {
		return shared.Validationf("payment date required")
	}
	return nil
}

// PaymentResult reports what a recorded payment produced.
type PaymentResult struct {
	CorrelationID  uuid.UUID
	Postings       []ledger.Posting
	Allocations    []allocation.MonthAmount
	Overpayment    float64
	CashAccount    string
	RevenueAccount string
}

// RefundInput describes one cash refund for a stay.
type RefundInput struct {
	Stay    Stay
	Amount  float64
	ActorID int64
	Date    time.Time
	Note    string
}

// Validate checks the refund input before any storage work.
func (in RefundInput) Validate() error {
	if in.Stay.ID == 0 {
		return shared.Validationf("stay id required")
	}
	if in.Amount <= 0 {
		return shared.Validationf("refund amount must be positive")
	}
	if in.ActorID == 0 {
		return shared.Validationf("actor required")
	}
	if in.Date.IsZero() {
		return shared.Validationf("refund date required")
	}
	return nil
}

// RefundResult reports what a recorded refund produced.
type RefundResult struct {
	CorrelationID    uuid.UUID
	Postings         []ledger.Posting
	Allocations      []allocation.MonthAmount
	TotalAfterRefund float64
	CashAccount      string
	RevenueAccount   string
}

var (
	// ErrOverpayment indicates the payment exceeds the stay's remaining
	// monthly revenue and the caller did not opt in to keeping the surplus.
	ErrOverpayment = fmt.Errorf("%w: payment exceeds remaining stay revenue", shared.ErrConsistency)
	// ErrNoCashRegister indicates the actor has no active cash register.
	ErrNoCashRegister = fmt.Errorf("%w: cash register for actor", shared.ErrNotFound)
	// ErrNoRevenueAccount indicates the apartment has no active revenue account.
	ErrNoRevenueAccount = fmt.Errorf("%w: revenue account for apartment", shared.ErrNotFound)
)
