package archive

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leakradar/internal/revenue/domain"
)

func TestToRows(t *testing.T) {
	archivedAt := time.Date(2026, 1, 9, 7, 0, 0, 0, time.UTC)
	snapshot := domain.Snapshot{
		ID:                 snowflake.ID(100),
		OrgID:              snowflake.ID(5),
		SnapshotDate:       time.Date(2026, 1, 9, 6, 30, 0, 0, time.UTC),
		TotalRevenueAtRisk: 42.5,
		CurrentMRR:         900,
		IsTruncated:        true,
		IsPartial:          true,
	}
	issues := []domain.Issue{
		{ID: snowflake.ID(1), Type: domain.IssueTypeChargeback, Priority: domain.PriorityHigh, Amount: 40},
		{ID: snowflake.ID(2), Type: domain.IssueTypeFailedPayment, Priority: domain.PriorityCritical, Amount: 2.5},
	}

	s, rows := toRows(snapshot, issues, archivedAt)

	if s.SnapshotID != 100 || s.OrgID != 5 {
		t.Fatalf("unexpected ids: %+v", s)
	}
	if !s.SnapshotDate.Equal(time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected day-truncated date, got %v", s.SnapshotDate)
	}
	if s.IssueCount != 2 || s.IsPartial != 1 || s.IsTruncated != 1 {
		t.Fatalf("unexpected flags: %+v", s)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 issue rows, got %d", len(rows))
	}
	if rows[1].Type != "failed_payment" || rows[1].SnapshotID != 100 {
		t.Fatalf("unexpected issue row: %+v", rows[1])
	}
}

func TestNoopArchiver(t *testing.T) {
	if err := (NoopArchiver{}).ArchiveSnapshot(context.Background(), domain.Snapshot{}, nil); err != nil {
		t.Fatalf("noop archiver: %v", err)
	}
}
