package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leakradar/internal/revenue/domain"
	"github.com/smallbiznis/leakradar/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type service struct {
	db   *gorm.DB
	repo domain.Repository
	log  *zap.Logger
}

func NewService(db *gorm.DB, repo domain.Repository, log *zap.Logger) domain.Service {
	return &service{
		db:   db,
		repo: repo,
		log:  log.Named("revenue.service"),
	}
}

func (s *service) LatestSnapshot(ctx context.Context, orgID string) (*domain.SnapshotResponse, error) {
	id, err := parseOrgID(orgID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.repo.LatestSnapshot(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, domain.ErrSnapshotNotFound
	}

	resp := toSnapshotResponse(*snapshot)
	return &resp, nil
}

// TodayIssues lists the issues of the most recent snapshot, largest amount first.
func (s *service) TodayIssues(ctx context.Context, orgID string, req domain.IssueListRequest) (*domain.IssueListResponse, error) {
	id, err := parseOrgID(orgID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.repo.LatestSnapshot(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, domain.ErrSnapshotNotFound
	}

	window := pagination.Offset{Limit: req.Limit, Offset: req.Offset}.Normalize(domain.DefaultIssueLimit, domain.MaxIssueLimit)

	total, err := s.repo.CountIssues(ctx, s.db, snapshot.ID)
	if err != nil {
		return nil, err
	}
	issues, err := s.repo.ListIssues(ctx, s.db, snapshot.ID, window.Limit, window.Offset)
	if err != nil {
		return nil, err
	}

	items := make([]domain.IssueResponse, 0, len(issues))
	for _, issue := range issues {
		item, err := toIssueResponse(issue)
		if err != nil {
			s.log.Warn("revenue.issue.undecodable", zap.String("issue_id", issue.ID.String()), zap.Error(err))
			continue
		}
		items = append(items, item)
	}

	page := pagination.BuildPageInfo(window, len(issues), total)
	return &domain.IssueListResponse{
		Snapshot: toSnapshotResponse(*snapshot),
		Issues:   items,
		Total:    page.Total,
		Limit:    page.Limit,
		Offset:   page.Offset,
		HasMore:  page.HasMore,
	}, nil
}

func parseOrgID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidOrganization
	}
	return id, nil
}

func toSnapshotResponse(s domain.Snapshot) domain.SnapshotResponse {
	return domain.SnapshotResponse{
		ID:                    s.ID.String(),
		Date:                  s.SnapshotDate.UTC().Format(time.DateOnly),
		TotalRevenueAtRisk:    s.TotalRevenueAtRisk,
		MRRAffectedPercentage: s.MRRAffectedPercentage,
		CurrentMRR:            s.CurrentMRR,
		IssueCountByType:      s.IssueCountByType.Data(),
		SourceStatus:          s.SourceStatus.Data(),
		IsPartial:             s.IsPartial,
		IsTruncated:           s.IsTruncated,
		CreatedAt:             s.CreatedAt,
	}
}

func toIssueResponse(issue domain.Issue) (domain.IssueResponse, error) {
	details, err := issue.Details()
	if err != nil {
		return domain.IssueResponse{}, err
	}
	return domain.IssueResponse{
		ID:            issue.ID.String(),
		Type:          issue.Type,
		CustomerEmail: issue.CustomerEmail,
		CustomerName:  issue.CustomerName,
		Amount:        issue.Amount,
		Priority:      issue.Priority,
		Metadata:      details,
		DetectedAt:    issue.DetectedAt,
	}, nil
}
