package domain

import (
	"context"
	"errors"
	"time"
)

const SlackWebhookPrefix = "https://hooks.slack.com/"

type Service interface {
	Create(ctx context.Context, req CreateOrganizationRequest) (*OrganizationResponse, error)
	GetByID(ctx context.Context, id string) (*OrganizationResponse, error)
	GetAlertSettings(ctx context.Context, orgID string) (*AlertSettingsResponse, error)
	UpdateAlertSettings(ctx context.Context, orgID string, req UpdateAlertSettingsRequest) (*AlertSettingsResponse, error)
}

type CreateOrganizationRequest struct {
	Name string `json:"name"`
}

type OrganizationResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// UpdateAlertSettingsRequest leaves a field untouched when it is nil. An empty
// SlackWebhookURL clears the webhook and disables Slack.
type UpdateAlertSettingsRequest struct {
	EmailEnabled    *bool   `json:"email_enabled"`
	SlackWebhookURL *string `json:"slack_webhook_url"`
}

type AlertSettingsResponse struct {
	EmailEnabled    bool    `json:"email_enabled"`
	SlackEnabled    bool    `json:"slack_enabled"`
	SlackWebhookURL *string `json:"slack_webhook_url"`
}

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrNotFound            = errors.New("organization_not_found")
	ErrInvalidWebhook      = errors.New("invalid_slack_webhook")
)
