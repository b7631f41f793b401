// Package events publishes scan lifecycle events for downstream consumers such as alerting.
package events

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/leakradar/internal/revenue/domain"
)

const ScanCompletedType = "revenue.scan.completed"

// ScanCompleted is emitted once per organization after its snapshot is committed.
type ScanCompleted struct {
	EventID               string             `json:"event_id"`
	EventType             string             `json:"event_type"`
	RunID                 string             `json:"run_id"`
	OrgID                 string             `json:"org_id"`
	SnapshotID            string             `json:"snapshot_id"`
	SnapshotDate          string             `json:"snapshot_date"`
	TotalRevenueAtRisk    float64            `json:"total_revenue_at_risk"`
	MRRAffectedPercentage float64            `json:"mrr_affected_percentage"`
	CurrentMRR            float64            `json:"current_mrr"`
	IssueCount            int                `json:"issue_count"`
	IssueCountByType      domain.IssueCounts `json:"issue_count_by_type"`
	CriticalCount         int                `json:"critical_count"`
	IsPartial             bool               `json:"is_partial"`
	IsTruncated           bool               `json:"is_truncated"`
	OccurredAt            time.Time          `json:"occurred_at"`
}

func NewScanCompleted(runID string, snapshot domain.Snapshot, issues []domain.Issue, occurredAt time.Time) ScanCompleted {
	critical := 0
	for _, issue := range issues {
		if issue.Priority == domain.PriorityCritical {
			critical++
		}
	}
	return ScanCompleted{
		EventID:               ulid.Make().String(),
		EventType:             ScanCompletedType,
		RunID:                 runID,
		OrgID:                 snapshot.OrgID.String(),
		SnapshotID:            snapshot.ID.String(),
		SnapshotDate:          snapshot.SnapshotDate.Format(time.DateOnly),
		TotalRevenueAtRisk:    snapshot.TotalRevenueAtRisk,
		MRRAffectedPercentage: snapshot.MRRAffectedPercentage,
		CurrentMRR:            snapshot.CurrentMRR,
		IssueCount:            len(issues),
		IssueCountByType:      snapshot.IssueCountByType.Data(),
		CriticalCount:         critical,
		IsPartial:             snapshot.IsPartial,
		IsTruncated:           snapshot.IsTruncated,
		OccurredAt:            occurredAt.UTC(),
	}
}

type Publisher interface {
	PublishScanCompleted(ctx context.Context, event ScanCompleted) error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishScanCompleted(context.Context, ScanCompleted) error { return nil }
