package shared

import (
	"fmt"
	"time"
)

// FiscalPeriod is a calendar year+month bucket. Periods are flat: no quarters,
// no custom fiscal years.
type FiscalPeriod struct {
	Year  int
	Month time.Month
}

// PeriodOf derives the fiscal period a date falls into.
func PeriodOf(t time.Time) FiscalPeriod {
	return FiscalPeriod{Year: t.Year(), Month: t.Month()}
}

// Start returns midnight UTC on the first day of the period.
func (p FiscalPeriod) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Next returns the following calendar month.
func (p FiscalPeriod) Next() FiscalPeriod {
	if p.Month == time.December {
		return FiscalPeriod{Year: p.Year + 1, Month: time.January}
	}
	return FiscalPeriod{Year: p.Year, Month: p.Month + 1}
}

// Before reports whether p is strictly earlier than other.
func (p FiscalPeriod) Before(other FiscalPeriod) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

// IsZero reports whether the period is unset.
func (p FiscalPeriod) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

func (p FiscalPeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}
