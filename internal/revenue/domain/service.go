package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrSnapshotNotFound    = errors.New("snapshot_not_found")
	ErrUnknownIssueType    = errors.New("unknown_issue_type")
	ErrMissingDetails      = errors.New("missing_issue_details")
)

const (
	DefaultIssueLimit = 50
	MaxIssueLimit     = 100
)

// Service exposes the read side of scan results to the dashboard.
type Service interface {
	LatestSnapshot(ctx context.Context, orgID string) (*SnapshotResponse, error)
	TodayIssues(ctx context.Context, orgID string, req IssueListRequest) (*IssueListResponse, error)
}

type IssueListRequest struct {
	Limit  int
	Offset int
}

type SnapshotResponse struct {
	ID                    string       `json:"id"`
	Date                  string       `json:"date"`
	TotalRevenueAtRisk    float64      `json:"totalRevenueAtRisk"`
	MRRAffectedPercentage float64      `json:"mrrAffectedPercentage"`
	CurrentMRR            float64      `json:"currentMRR"`
	IssueCountByType      IssueCounts  `json:"issueCountByType"`
	SourceStatus          SourceStatus `json:"sourceStatus"`
	IsPartial             bool         `json:"isPartial"`
	IsTruncated           bool         `json:"isTruncated"`
	CreatedAt             time.Time    `json:"createdAt"`
}

type IssueResponse struct {
	ID            string    `json:"id"`
	Type          IssueType `json:"type"`
	CustomerEmail string    `json:"customerEmail"`
	CustomerName  string    `json:"customerName"`
	Amount        float64   `json:"amount"`
	Priority      Priority  `json:"priority"`
	Metadata      Details   `json:"metadata"`
	DetectedAt    time.Time `json:"detectedAt"`
}

type IssueListResponse struct {
	Snapshot SnapshotResponse `json:"snapshot"`
	Issues   []IssueResponse  `json:"issues"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
	HasMore  bool             `json:"hasMore"`
}
