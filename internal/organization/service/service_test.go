package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leakradar/internal/clock"
	"github.com/smallbiznis/leakradar/internal/organization/domain"
	"github.com/smallbiznis/leakradar/internal/organization/repository"
	"github.com/smallbiznis/leakradar/internal/secret"
	"github.com/smallbiznis/leakradar/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.Organization{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	svc := NewService(
		conn,
		zaptest.NewLogger(t),
		repository.NewRepository(conn),
		node,
		clock.NewFakeClock(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)),
		secret.NewCipherFromSecret("test-secret"),
	)
	return svc, conn
}

func TestCreateAssignsUniqueSlugs(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, domain.CreateOrganizationRequest{Name: "Acme Corp"})
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", first.Slug)

	second, err := svc.Create(ctx, domain.CreateOrganizationRequest{Name: "ACME corp"})
	require.NoError(t, err)
	assert.Equal(t, "acme-corp-2", second.Slug)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = svc.Create(ctx, domain.CreateOrganizationRequest{Name: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestGetByID(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, domain.CreateOrganizationRequest{Name: "Beta"})
	require.NoError(t, err)

	got, err := svc.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Beta", got.Name)

	_, err = svc.GetByID(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)
	_, err = svc.GetByID(ctx, "12345")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAlertSettingsLifecycle(t *testing.T) {
	svc, conn := newService(t)
	ctx := context.Background()

	org, err := svc.Create(ctx, domain.CreateOrganizationRequest{Name: "Gamma"})
	require.NoError(t, err)

	settings, err := svc.GetAlertSettings(ctx, org.ID)
	require.NoError(t, err)
	assert.True(t, settings.EmailEnabled)
	assert.False(t, settings.SlackEnabled)
	assert.Nil(t, settings.SlackWebhookURL)

	webhook := "https://hooks.slack.com/services/T000/B000/abcdefghijklmnop"
	disabled := false
	settings, err = svc.UpdateAlertSettings(ctx, org.ID, domain.UpdateAlertSettingsRequest{
		EmailEnabled:    &disabled,
		SlackWebhookURL: &webhook,
	})
	require.NoError(t, err)
	assert.False(t, settings.EmailEnabled)
	assert.True(t, settings.SlackEnabled)
	require.NotNil(t, settings.SlackWebhookURL)
	assert.Equal(t, "https://hooks.slack.com/services/••••••••••••••••abcdefghijklmnop", *settings.SlackWebhookURL)

	var stored domain.Organization
	require.NoError(t, conn.Take(&stored).Error)
	assert.NotContains(t, string(stored.SlackWebhook), "hooks.slack.com")

	clear := ""
	settings, err = svc.UpdateAlertSettings(ctx, org.ID, domain.UpdateAlertSettingsRequest{SlackWebhookURL: &clear})
	require.NoError(t, err)
	assert.False(t, settings.SlackEnabled)
	assert.Nil(t, settings.SlackWebhookURL)
	assert.False(t, settings.EmailEnabled)
}

func TestUpdateAlertSettingsRejectsForeignWebhook(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	org, err := svc.Create(ctx, domain.CreateOrganizationRequest{Name: "Delta"})
	require.NoError(t, err)

	for _, raw := range []string{
		"http://hooks.slack.com/services/x",
		"https://hooks.slack.com.evil.io/services/x",
		"https://example.com/hook",
		"https://hooks.slack.com/",
	} {
		value := raw
		_, err := svc.UpdateAlertSettings(ctx, org.ID, domain.UpdateAlertSettingsRequest{SlackWebhookURL: &value})
		if err != domain.ErrInvalidWebhook {
			t.Fatalf("%s: expected ErrInvalidWebhook, got %v", raw, err)
		}
	}
}
