//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leakradar/internal/revenue/domain"
	"github.com/smallbiznis/leakradar/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createOrganization(t *testing.T, conn *gorm.DB, id snowflake.ID) {
	t.Helper()
	require.NoError(t, conn.Exec(
		`INSERT INTO organizations (id, name, slug) VALUES (?, ?, ?)`,
		int64(id), "Org "+id.String(), "org-"+id.String(),
	).Error)
}

func TestPostgresUpsertIsIdempotentUnderConcurrency(t *testing.T) {
	conn := testutil.Postgres(t)
	node := newNode(t)
	repo := NewRepository()
	ctx := context.Background()
	orgID := node.Generate()
	createOrganization(t, conn, orgID)
	day := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return repo.UpsertSnapshot(ctx, tx, snapshotFor(node, orgID, day, float64(100+i), false))
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, conn.Model(&domain.Snapshot{}).Where("org_id = ?", orgID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPostgresDeleteForOrganizationKeepsOthers(t *testing.T) {
	conn := testutil.Postgres(t)
	node := newNode(t)
	repo := NewRepository()
	ctx := context.Background()
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	orgA, orgB := node.Generate(), node.Generate()
	createOrganization(t, conn, orgA)
	createOrganization(t, conn, orgB)

	for _, orgID := range []snowflake.ID{orgA, orgB} {
		snapshot := snapshotFor(node, orgID, day, 50, false)
		require.NoError(t, repo.UpsertSnapshot(ctx, conn, snapshot))

		issue, err := domain.NewIssue(domain.FailedPaymentDetails{InvoiceID: "in_1", DaysOverdue: 3}, domain.IssueFields{
			CustomerEmail: "billing@example.com",
			CustomerName:  "Example",
			Amount:        50,
			Priority:      domain.PriorityHigh,
			DetectedAt:    day,
		})
		require.NoError(t, err)
		issue.Assign(node.Generate(), snapshot.ID, orgID)
		require.NoError(t, repo.CreateIssues(ctx, conn, []domain.Issue{issue}))
	}

	require.NoError(t, repo.DeleteForOrganization(ctx, conn, orgA))

	latest, err := repo.LatestSnapshot(ctx, conn, orgA)
	require.NoError(t, err)
	assert.Nil(t, latest)

	latest, err = repo.LatestSnapshot(ctx, conn, orgB)
	require.NoError(t, err)
	require.NotNil(t, latest)
	count, err := repo.CountIssues(ctx, conn, latest.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPostgresRejectsNegativeIssueAmount(t *testing.T) {
	conn := testutil.Postgres(t)
	node := newNode(t)
	repo := NewRepository()
	ctx := context.Background()
	orgID := node.Generate()
	createOrganization(t, conn, orgID)

	snapshot := snapshotFor(node, orgID, time.Now().UTC(), 0, false)
	require.NoError(t, repo.UpsertSnapshot(ctx, conn, snapshot))

	issue, err := domain.NewIssue(domain.ChargebackDetails{DisputeID: "dp_1", Status: "needs_response"}, domain.IssueFields{
		CustomerEmail: "N/A",
		CustomerName:  "N/A",
		Amount:        -1,
		Priority:      domain.PriorityCritical,
		DetectedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	issue.Assign(node.Generate(), snapshot.ID, orgID)
	assert.Error(t, repo.CreateIssues(ctx, conn, []domain.Issue{issue}))
}

func TestPostgresStoresPercentageFarAboveOneHundred(t *testing.T) {
	conn := testutil.Postgres(t)
	node := newNode(t)
	repo := NewRepository()
	ctx := context.Background()
	orgID := node.Generate()
	createOrganization(t, conn, orgID)
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	snapshot := snapshotFor(node, orgID, day, 50000, false)
	snapshot.CurrentMRR = 10
	snapshot.MRRAffectedPercentage = 500000
	require.NoError(t, conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return repo.UpsertSnapshot(ctx, tx, snapshot)
	}))

	stored, err := repo.FindSnapshot(ctx, conn, orgID, day)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 500000.0, stored.MRRAffectedPercentage)
}
