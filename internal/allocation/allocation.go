// Package allocation contains the pure fiscal-month allocation engine: no
// storage, no clock, no side effects. Payments fill stay months forward in
// chronological order; refunds unwind actual payment history backward. The
// asymmetry is a business rule: a refund follows real money movement, never a
// revised date range.
package allocation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nordstay/nordstay/internal/shared"
)

// Stay carries the read-only reservation facts the engine needs.
type Stay struct {
	CheckIn  time.Time
	CheckOut time.Time
}

// MonthNights is the number of charged nights falling into one fiscal month.
type MonthNights struct {
	Year   int
	Month  time.Month
	Nights int
}

// MonthAmount is a money amount attributed to one fiscal month.
type MonthAmount struct {
	Year   int
	Month  time.Month
	Amount float64
}

// Period returns the fiscal bucket of the amount.
func (m MonthAmount) Period() shared.FiscalPeriod {
	return shared.FiscalPeriod{Year: m.Year, Month: m.Month}
}

// PriorPosting summarises one earlier revenue posting for a stay. Credits are
// payments, debits are refunds already granted.
type PriorPosting struct {
	Year   int
	Month  time.Month
	Debit  float64
	Credit float64
}

// PaymentPlan is the outcome of allocating a payment across stay months.
type PaymentPlan struct {
	Allocations []MonthAmount
	// Overpayment is the part of the amount exceeding the stay's remaining
	// monthly revenue. It is surfaced for an explicit caller decision (refund
	// it, or accept it as credit) and never silently absorbed.
	Overpayment    float64
	TotalAllocated float64
	Amount         float64
}

// RefundPlan is the outcome of unwinding payment history for a refund.
type RefundPlan struct {
	Allocations      []MonthAmount
	TotalRefunded    float64
	TotalPaidBefore  float64
	TotalAfterRefund float64
}

var (
	// ErrInvalidStayRange indicates check-out does not fall after check-in.
	ErrInvalidStayRange = fmt.Errorf("%w: check-out must be after check-in", shared.ErrValidation)
	// ErrRefundExceedsPaid indicates the refund is larger than everything paid.
	ErrRefundExceedsPaid = fmt.Errorf("%w: refund exceeds total previously paid", shared.ErrConsistency)
)

// amountTolerance absorbs cent rounding in comparisons.
const amountTolerance = 0.01

// NightsByFiscalMonth walks each night from check-in up to but excluding
// check-out (the check-out night is never charged) and buckets them by
// calendar month, in chronological order.
func NightsByFiscalMonth(checkIn, checkOut time.Time) ([]MonthNights, error) {
	in := dateOf(checkIn)
	out := dateOf(checkOut)
	if !in.Before(out) {
		return nil, ErrInvalidStayRange
	}
	var buckets []MonthNights
	for night := in; night.Before(out); night = night.AddDate(0, 0, 1) {
		year, month := night.Year(), night.Month()
		if n := len(buckets); n > 0 && buckets[n-1].Year == year && buckets[n-1].Month == month {
			buckets[n-1].Nights++
			continue
		}
		buckets = append(buckets, MonthNights{Year: year, Month: month, Nights: 1})
	}
	return buckets, nil
}

// MonthlyRevenue prices each stay month at nights x nightly rate.
func MonthlyRevenue(stay Stay, nightlyRate float64) ([]MonthAmount, error) {
	if nightlyRate <= 0 {
		return nil, shared.Validationf("nightly rate must be positive")
	}
	nights, err := NightsByFiscalMonth(stay.CheckIn, stay.CheckOut)
	if err != nil {
		return nil, err
	}
	amounts := make([]MonthAmount, 0, len(nights))
	for _, bucket := range nights {
		amounts = append(amounts, MonthAmount{
			Year:   bucket.Year,
			Month:  bucket.Month,
			Amount: round2(float64(bucket.Nights) * nightlyRate),
		})
	}
	return amounts, nil
}

// AllocatePayment fills each stay month's remaining revenue chronologically,
// earliest month first, until the amount is exhausted. Whatever cannot be
// placed is reported as overpayment.
func AllocatePayment(stay Stay, nightlyRate, amount float64, prior []PriorPosting) (PaymentPlan, error) {
	if amount <= 0 {
		return PaymentPlan{}, shared.Validationf("payment amount must be positive")
	}
	revenue, err := MonthlyRevenue(stay, nightlyRate)
	if err != nil {
		return PaymentPlan{}, err
	}
	credited := creditedByMonth(prior)

	plan := PaymentPlan{Amount: amount}
	left := amount
	for _, month := range revenue {
		if left <= amountTolerance {
			break
		}
		remaining := month.Amount - credited[month.Period()]
		if remaining <= amountTolerance {
			continue
		}
		take := math.Min(remaining, left)
		take = round2(take)
		plan.Allocations = append(plan.Allocations, MonthAmount{Year: month.Year, Month: month.Month, Amount: take})
		plan.TotalAllocated = round2(plan.TotalAllocated + take)
		left = round2(left - take)
	}
	if left > amountTolerance {
		plan.Overpayment = left
	}
	return plan, nil
}

// AllocateRefund derives paid-per-month strictly from prior postings, ignoring
// the current (possibly shortened) stay dates, and consumes the refund from
// the latest paid month backwards. The returned allocations are re-sorted
// chronologically so reversal postings are still created oldest first.
func AllocateRefund(stay Stay, amount float64, prior []PriorPosting) (RefundPlan, error) {
	_ = stay // refunds track actual money movement, not the revised date range
	if amount <= 0 {
		return RefundPlan{}, shared.Validationf("refund amount must be positive")
	}
	credited := creditedByMonth(prior)

	months := make([]MonthAmount, 0, len(credited))
	var totalPaid float64
	for period, paid := range credited {
		if paid <= amountTolerance {
			continue
		}
		months = append(months, MonthAmount{Year: period.Year, Month: period.Month, Amount: paid})
		totalPaid = round2(totalPaid + paid)
	}
	if amount > totalPaid+amountTolerance {
		return RefundPlan{}, ErrRefundExceedsPaid
	}

	// Latest month first: the most recent revenue is unwound first.
	sort.Slice(months, func(i, j int) bool {
		return months[j].Period().Before(months[i].Period())
	})

	plan := RefundPlan{TotalPaidBefore: totalPaid}
	left := amount
	for _, month := range months {
		if left <= amountTolerance {
			break
		}
		take := round2(math.Min(month.Amount, left))
		plan.Allocations = append(plan.Allocations, MonthAmount{Year: month.Year, Month: month.Month, Amount: take})
		plan.TotalRefunded = round2(plan.TotalRefunded + take)
		left = round2(left - take)
	}

	sort.Slice(plan.Allocations, func(i, j int) bool {
		return plan.Allocations[i].Period().Before(plan.Allocations[j].Period())
	})
	plan.TotalAfterRefund = round2(totalPaid - plan.TotalRefunded)
	return plan, nil
}

// creditedByMonth nets credits against debits per fiscal month.
func creditedByMonth(prior []PriorPosting) map[shared.FiscalPeriod]float64 {
	credited := make(map[shared.FiscalPeriod]float64, len(prior))
	for _, p := range prior {
		period := shared.FiscalPeriod{Year: p.Year, Month: p.Month}
		credited[period] = round2(credited[period] + p.Credit - p.Debit)
	}
	return credited
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
