package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Connect(ctx context.Context, orgID string, req ConnectRequest) (*AccountResponse, error)
	Get(ctx context.Context, orgID string) (*AccountResponse, error)
	Disconnect(ctx context.Context, orgID string) error
}

type ConnectRequest struct {
	APIKey string `json:"api_key"`
	Mode   string `json:"mode"`
}

type AccountResponse struct {
	Provider    string    `json:"provider"`
	Mode        string    `json:"mode"`
	AccountID   string    `json:"account_id"`
	AccountName string    `json:"account_name"`
	MaskedKey   string    `json:"masked_key"`
	ConnectedAt time.Time `json:"connected_at"`
}

var (
	ErrInvalidOrganization    = errors.New("invalid_organization")
	ErrInvalidAPIKey          = errors.New("invalid_api_key")
	ErrInvalidMode            = errors.New("invalid_mode")
	ErrModeMismatch           = errors.New("api_key_mode_mismatch")
	ErrVerificationFailed     = errors.New("billing_verification_failed")
	ErrProviderUnavailable    = errors.New("billing_provider_unavailable")
	ErrAccountLinkedElsewhere = errors.New("billing_account_linked_elsewhere")
	ErrTooManyAttempts        = errors.New("too_many_attempts")
	ErrNotFound               = errors.New("billing_link_not_found")
)
