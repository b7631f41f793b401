// Package anomaly flags sharp drops in an organization's MRR against stored baselines.
package anomaly

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leakradar/internal/revenue/domain"
)

const (
	DefaultThresholdPct = -10.0

	TriggerDayOverDay   = "day_over_day"
	TriggerSevenDayMean = "7day_average"

	OrganizationWideEmail = "N/A"
	OrganizationWideName  = "Organization-wide"
)

var hundred = decimal.NewFromInt(100)

// Baseline is the MRR recorded by an earlier snapshot.
type Baseline struct {
	Date      time.Time
	MRR       float64
	IsPartial bool
}

func BaselineFrom(s domain.Snapshot) Baseline {
	return Baseline{Date: s.SnapshotDate, MRR: s.CurrentMRR, IsPartial: s.IsPartial}
}

type Input struct {
	CurrentMRR float64
	// Yesterday is nil when no snapshot exists for the previous day.
	Yesterday *Baseline
	// History holds the non-partial snapshots of the preceding seven days.
	History    []Baseline
	DetectedAt time.Time
	// ThresholdPct is the percentage change at or above which nothing is flagged. Zero uses the default.
	ThresholdPct float64
}

// Detect returns an organization-wide mrr_anomaly issue, or nil when no baseline is usable or no
// trigger fires.
func Detect(in Input) (*domain.Issue, error) {
	if in.Yesterday == nil || in.Yesterday.IsPartial || in.Yesterday.MRR <= 0 || in.CurrentMRR <= 0 {
		return nil, nil
	}
	threshold := decimal.NewFromFloat(in.ThresholdPct)
	if in.ThresholdPct == 0 {
		threshold = decimal.NewFromFloat(DefaultThresholdPct)
	}

	current := decimal.NewFromFloat(in.CurrentMRR)
	previous := decimal.NewFromFloat(in.Yesterday.MRR)
	dayOverDay := percentChange(current, previous)

	var triggers []string
	if dayOverDay.LessThan(threshold) {
		triggers = append(triggers, TriggerDayOverDay)
	}

	var avg7, avg7Change float64
	if mean, ok := average(in.History); ok {
		avg7 = mean.Round(2).InexactFloat64()
		if mean.IsPositive() {
			change := percentChange(current, mean)
			avg7Change = change.Round(2).InexactFloat64()
			if change.LessThan(threshold) {
				triggers = append(triggers, TriggerSevenDayMean)
			}
		}
	}

	if len(triggers) == 0 {
		return nil, nil
	}

	issue, err := domain.NewIssue(domain.MRRAnomalyDetails{
		CurrentMRR:       current.Round(2).InexactFloat64(),
		PreviousMRR:      previous.Round(2).InexactFloat64(),
		Avg7DayMRR:       avg7,
		DayOverDayChange: dayOverDay.Round(2).InexactFloat64(),
		Avg7DayChange:    avg7Change,
		TriggerMethod:    strings.Join(triggers, ", "),
	}, domain.IssueFields{
		CustomerEmail: OrganizationWideEmail,
		CustomerName:  OrganizationWideName,
		Amount:        current.Sub(previous).Abs().Round(2).InexactFloat64(),
		Priority:      domain.PriorityCritical,
		DetectedAt:    in.DetectedAt,
	})
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func percentChange(current, base decimal.Decimal) decimal.Decimal {
	return current.Sub(base).Div(base).Mul(hundred)
}

func average(history []Baseline) (decimal.Decimal, bool) {
	sum := decimal.Zero
	n := 0
	for _, b := range history {
		if b.IsPartial {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(b.MRR))
		n++
	}
	if n == 0 {
		return decimal.Zero, false
	}
	return sum.Div(decimal.NewFromInt(int64(n))), true
}
