package accounts

import (
	"fmt"
	"strings"
	"time"

	"github.com/nordstay/nordstay/internal/shared"
)

// AccountType enumerates chart-of-accounts categories. The hierarchy is flat:
// there are no parent/child roll-ups.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is one of the four known categories.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// BalanceDelta applies the sign convention: asset and expense accounts grow on
// the debit side, liability and revenue accounts grow on the credit side.
func (t AccountType) BalanceDelta(debit, credit float64) float64 {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return debit - credit
	case AccountTypeLiability, AccountTypeRevenue:
		return credit - debit
	}
	return 0
}

// Account models a bucket in the chart of accounts. Code is immutable and
// never reused, including after deactivation.
type Account struct {
	Code           string
	Name           string
	Type           AccountType
	CachedBalance  float64
	IsCashRegister bool
	EmployeeID     *int64
	ApartmentID    *int64
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateInput groups the fields required to register an account.
type CreateInput struct {
	Code           string
	Name           string
	Type           AccountType
	IsCashRegister bool
	EmployeeID     *int64
	ApartmentID    *int64
}

// Validate ensures the input can form a legal account.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" {
		return shared.Validationf("account code required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return shared.Validationf("account name required")
	}
	if !in.Type.Valid() {
		return shared.Validationf("unknown account type %q", in.Type)
	}
	if in.IsCashRegister && in.Type != AccountTypeAsset {
		return shared.Validationf("cash register accounts must be assets")
	}
	return nil
}

var (
	// ErrCodeTaken indicates the account code already exists.
	ErrCodeTaken = fmt.Errorf("%w: account code already exists", shared.ErrConflict)
	// ErrAccountNotFound indicates no account carries the requested code.
	ErrAccountNotFound = fmt.Errorf("%w: account", shared.ErrNotFound)
	// ErrAccountInUse indicates postings still reference the account.
	ErrAccountInUse = fmt.Errorf("%w: postings reference account", shared.ErrConsistency)
	// ErrAccountInactive indicates the account was deactivated.
	ErrAccountInactive = fmt.Errorf("%w: account is inactive", shared.ErrValidation)
)
