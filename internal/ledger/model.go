package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/nordstay/nordstay/internal/shared"
)

// BalanceTolerance absorbs cent rounding when checking the double-entry law
// and when comparing balances.
const BalanceTolerance = 0.01

// Source types of the business events that create posting groups.
const (
	SourceTypeStay     = "STAY"
	SourceTypeCleaning = "CLEANING"
	SourceTypeManual   = "MANUAL"
)

// Posting is one immutable debit-or-credit entry. Account code and name are
// snapshotted at creation so later renames never rewrite history, and a
// reversal is always a new posting with the sides swapped.
type Posting struct {
	ID            int64
	PostingDate   time.Time
	FiscalYear    int
	FiscalMonth   time.Month
	AccountCode   string
	AccountName   string
	Debit         float64
	Credit        float64
	CorrelationID uuid.UUID
	SourceType    string
	SourceID      int64
	CreatedBy     int64
	Note          string
	CreatedAt     time.Time
}

// Period returns the fiscal bucket the posting belongs to.
func (p Posting) Period() shared.FiscalPeriod {
	return shared.FiscalPeriod{Year: p.FiscalYear, Month: p.FiscalMonth}
}

// LineInput describes one posting of a group before persistence.
type LineInput struct {
	AccountCode string
	Debit       float64
	Credit      float64
	PostingDate time.Time
	// Period overrides the fiscal bucket derived from PostingDate. Revenue
	// allocations use it to book a payment-dated posting into the stay month
	// it economically belongs to.
	Period shared.FiscalPeriod
	Note   string
}

func (l LineInput) period() shared.FiscalPeriod {
	if !l.Period.IsZero() {
		return l.Period
	}
	return shared.PeriodOf(l.PostingDate)
}

// GroupInput groups the postings of one business event.
type GroupInput struct {
	CorrelationID uuid.UUID
	SourceType    string
	SourceID      int64
	CreatedBy     int64
	Lines         []LineInput
}

var (
	// ErrUnbalanced indicates the group violates the double-entry law.
	ErrUnbalanced = fmt.Errorf("%w: group debits and credits must balance", shared.ErrConsistency)
	// ErrTooFewLines indicates a group with fewer than two postings.
	ErrTooFewLines = fmt.Errorf("%w: posting group requires at least two lines", shared.ErrValidation)
	// ErrGroupNotFound indicates no postings carry the correlation id.
	ErrGroupNotFound = fmt.Errorf("%w: correlation group", shared.ErrNotFound)
)

// Validate enforces the double-entry law across the whole group before
// anything is persisted.
func (in GroupInput) Validate() error {
	if in.SourceType == "" {
		return shared.Validationf("source type required")
	}
	if in.SourceID == 0 {
		return shared.Validationf("source id required")
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	var debit, credit float64
	for idx, line := range in.Lines {
		if line.AccountCode == "" {
			return shared.Validationf("line %d missing account code", idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return shared.Validationf("line %d negative amount", idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return shared.Validationf("line %d cannot be both debit and credit", idx)
		}
		if line.PostingDate.IsZero() {
			return shared.Validationf("line %d missing posting date", idx)
		}
		debit += line.Debit
		credit += line.Credit
	}
	if math.Abs(debit-credit) > BalanceTolerance {
		return ErrUnbalanced
	}
	return nil
}
