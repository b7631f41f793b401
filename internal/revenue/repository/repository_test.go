package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leakradar/internal/revenue/domain"
	"github.com/smallbiznis/leakradar/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.Snapshot{}, &domain.Issue{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func snapshotFor(node *snowflake.Node, orgID snowflake.ID, date time.Time, risk float64, partial bool) *domain.Snapshot {
	return &domain.Snapshot{
		ID:                 node.Generate(),
		OrgID:              orgID,
		SnapshotDate:       date,
		TotalRevenueAtRisk: risk,
		CurrentMRR:         1000,
		IssueCountByType:   datatypes.NewJSONType(domain.IssueCounts{domain.IssueTypeFailedPayment: 1}),
		SourceStatus:       datatypes.NewJSONType(domain.SourceStatus{domain.SourceFailedPayments: domain.SourceStateOK}),
		IsPartial:          partial,
	}
}

func TestUpsertSnapshotOverwritesSameDay(t *testing.T) {
	conn := setupDB(t)
	node := newNode(t)
	repo := NewRepository()
	ctx := context.Background()
	orgID := node.Generate()
	day := time.Date(2026, 5, 1, 14, 30, 0, 0, time.UTC)

	first := snapshotFor(node, orgID, day, 100, false)
	require.NoError(t, repo.UpsertSnapshot(ctx, conn, first))

	second := snapshotFor(node, orgID, day.Add(2*time.Hour), 250, true)
	require.NoError(t, repo.UpsertSnapshot(ctx, conn, second))
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, conn.Model(&domain.Snapshot{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	stored, err := repo.FindSnapshot(ctx, conn, orgID, day)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 250.0, stored.TotalRevenueAtRisk)
	assert.True(t, stored.IsPartial)
	assert.Equal(t, 1, stored.IssueCountByType.Data()[domain.IssueTypeFailedPayment])
}

func TestFindSnapshotMissingReturnsNil(t *testing.T) {
	conn := setupDB(t)
	snapshot, err := NewRepository().FindSnapshot(context.Background(), conn, 42, time.Now())
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestFindSnapshotsInRangeExcludesPartial(t *testing.T) {
	conn := setupDB(t)
	node := newNode(t)
	repo := NewRepository()
	ctx := context.Background()
	orgID := node.Generate()
	today := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 8; i++ {
		s := snapshotFor(node, orgID, today.AddDate(0, 0, -i), float64(i), i == 3)
		require.NoError(t, repo.UpsertSnapshot(ctx, conn, s))
	}
	require.NoError(t, repo.UpsertSnapshot(ctx, conn, snapshotFor(node, orgID, today, 0, false)))
	require.NoError(t, repo.UpsertSnapshot(ctx, conn, snapshotFor(node, node.Generate(), today.AddDate(0, 0, -1), 0, false)))

	all, err := repo.FindSnapshotsInRange(ctx, conn, orgID, today.AddDate(0, 0, -7), today, false)
	require.NoError(t, err)
	assert.Len(t, all, 7)

	complete, err := repo.FindSnapshotsInRange(ctx, conn, orgID, today.AddDate(0, 0, -7), today, true)
	require.NoError(t, err)
	assert.Len(t, complete, 6)
	assert.True(t, complete[0].SnapshotDate.Before(complete[len(complete)-1].SnapshotDate))
}

func TestIssuesReplaceAndListByAmount(t *testing.T) {
	conn := setupDB(t)
	node := newNode(t)
	repo := NewRepository()
	ctx := context.Background()
	orgID := node.Generate()

	snapshot := snapshotFor(node, orgID, time.Now(), 0, false)
	require.NoError(t, repo.UpsertSnapshot(ctx, conn, snapshot))

	build := func(amount float64) domain.Issue {
		issue, err := domain.NewIssue(domain.FailedPaymentDetails{InvoiceID: "in"}, domain.IssueFields{
			CustomerEmail: "n@example.com",
			CustomerName:  "N",
			Amount:        amount,
			Priority:      domain.PriorityHigh,
			DetectedAt:    time.Now().UTC(),
		})
		require.NoError(t, err)
		issue.Assign(node.Generate(), snapshot.ID, orgID)
		return issue
	}

	require.NoError(t, repo.CreateIssues(ctx, conn, []domain.Issue{build(10), build(30), build(20)}))
	require.NoError(t, repo.DeleteIssuesForSnapshot(ctx, conn, snapshot.ID))
	require.NoError(t, repo.CreateIssues(ctx, conn, []domain.Issue{build(5), build(50), build(25)}))

	total, err := repo.CountIssues(ctx, conn, snapshot.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	page, err := repo.ListIssues(ctx, conn, snapshot.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 50.0, page[0].Amount)
	assert.Equal(t, 25.0, page[1].Amount)

	rest, err := repo.ListIssues(ctx, conn, snapshot.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, 5.0, rest[0].Amount)
}

func TestLatestSnapshotAndDeleteForOrganization(t *testing.T) {
	conn := setupDB(t)
	node := newNode(t)
	repo := NewRepository()
	ctx := context.Background()
	orgID := node.Generate()
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.UpsertSnapshot(ctx, conn, snapshotFor(node, orgID, base, 1, false)))
	require.NoError(t, repo.UpsertSnapshot(ctx, conn, snapshotFor(node, orgID, base.AddDate(0, 0, 2), 3, false)))
	require.NoError(t, repo.UpsertSnapshot(ctx, conn, snapshotFor(node, orgID, base.AddDate(0, 0, 1), 2, false)))

	latest, err := repo.LatestSnapshot(ctx, conn, orgID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3.0, latest.TotalRevenueAtRisk)

	require.NoError(t, repo.DeleteForOrganization(ctx, conn, orgID))
	latest, err = repo.LatestSnapshot(ctx, conn, orgID)
	require.NoError(t, err)
	assert.Nil(t, latest)
}
