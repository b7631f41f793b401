// Package mrr converts recurring prices into monthly recurring revenue.
package mrr

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leakradar/internal/billing"
)

type Interval string

const (
	IntervalDay     Interval = "day"
	IntervalWeek    Interval = "week"
	IntervalMonth   Interval = "month"
	IntervalYear    Interval = "year"
	IntervalUnknown Interval = ""
)

var (
	daysPerMonth  = decimal.RequireFromString("30.42")
	weeksPerMonth = decimal.RequireFromString("4.33")
	monthsPerYear = decimal.NewFromInt(12)
	centsPerUnit  = decimal.NewFromInt(100)
)

func ParseInterval(raw string) Interval {
	switch Interval(strings.ToLower(strings.TrimSpace(raw))) {
	case IntervalDay:
		return IntervalDay
	case IntervalWeek:
		return IntervalWeek
	case IntervalMonth:
		return IntervalMonth
	case IntervalYear:
		return IntervalYear
	default:
		return IntervalUnknown
	}
}

// MonthlyDecimal is MonthlyAmount without the float conversion, for callers that keep summing.
func MonthlyDecimal(unitAmountCents int64, quantity int64, interval Interval) decimal.Decimal {
	if unitAmountCents <= 0 {
		return decimal.Zero
	}
	if quantity <= 0 {
		quantity = 1
	}
	base := decimal.NewFromInt(unitAmountCents).Mul(decimal.NewFromInt(quantity)).Div(centsPerUnit)

	switch interval {
	case IntervalMonth:
		return base
	case IntervalYear:
		return base.Div(monthsPerYear)
	case IntervalWeek:
		return base.Mul(weeksPerMonth)
	case IntervalDay:
		return base.Mul(daysPerMonth)
	default:
		return decimal.Zero
	}
}

// MonthlyAmount returns the monthly value in dollars of a price billed every interval.
// One-off and unrecognised intervals contribute nothing.
func MonthlyAmount(unitAmountCents int64, quantity int64, interval Interval) float64 {
	return MonthlyDecimal(unitAmountCents, quantity, interval).InexactFloat64()
}

// SubscriptionMRR sums the monthly value of every line item.
func SubscriptionMRR(items []billing.SubscriptionItem) float64 {
	return SubscriptionDecimal(items).InexactFloat64()
}

func SubscriptionDecimal(items []billing.SubscriptionItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(MonthlyDecimal(item.Price.UnitAmount, item.Quantity, ParseInterval(item.Price.Interval)))
	}
	return total
}
