package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIssueDerivesTypeFromDetails(t *testing.T) {
	detectedAt := time.Date(2026, 3, 4, 6, 0, 0, 0, time.UTC)
	issue, err := NewIssue(FailedPaymentDetails{InvoiceID: "in_1", DaysOverdue: 45, InvoiceURL: "https://pay/in_1"}, IssueFields{
		CustomerEmail: "a@example.com",
		CustomerName:  "Acme",
		Amount:        120.5,
		Priority:      PriorityCritical,
		DetectedAt:    detectedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, IssueTypeFailedPayment, issue.Type)
	assert.Equal(t, 120.5, issue.Amount)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(issue.Metadata, &raw))
	assert.Equal(t, "in_1", raw["invoiceId"])
	assert.EqualValues(t, 45, raw["daysOverdue"])

	decoded, err := issue.Details()
	require.NoError(t, err)
	assert.Equal(t, FailedPaymentDetails{InvoiceID: "in_1", DaysOverdue: 45, InvoiceURL: "https://pay/in_1"}, decoded)
}

func TestNewIssueClampsNegativeAmount(t *testing.T) {
	issue, err := NewIssue(ChargebackDetails{DisputeID: "dp_1", Status: "under_review"}, IssueFields{Amount: -3})
	require.NoError(t, err)
	assert.Zero(t, issue.Amount)
}

func TestNewIssueRequiresDetails(t *testing.T) {
	_, err := NewIssue(nil, IssueFields{})
	assert.ErrorIs(t, err, ErrMissingDetails)
}

func TestAnomalyDetailsWriteZeroWithoutHistory(t *testing.T) {
	issue, err := NewIssue(MRRAnomalyDetails{CurrentMRR: 85000, PreviousMRR: 100000, DayOverDayChange: -15, TriggerMethod: "day_over_day"}, IssueFields{})
	require.NoError(t, err)
	assert.Contains(t, string(issue.Metadata), `"avg7dayMRR":0`)
	assert.Contains(t, string(issue.Metadata), `"avg7dayChange":0`)
	assert.NotContains(t, string(issue.Metadata), "null")

	decoded, err := issue.Details()
	require.NoError(t, err)
	anomaly, ok := decoded.(MRRAnomalyDetails)
	require.True(t, ok)
	assert.Zero(t, anomaly.Avg7DayMRR)
	assert.Equal(t, "day_over_day", anomaly.TriggerMethod)
}

func TestDetailsRejectsUnknownType(t *testing.T) {
	_, err := Issue{Type: "refund_spike"}.Details()
	if !errors.Is(err, ErrUnknownIssueType) {
		t.Fatalf("expected ErrUnknownIssueType, got %v", err)
	}
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	got := Day(time.Date(2026, 1, 2, 3, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), got)
}
