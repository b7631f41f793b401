// Package domain contains the persistence models for daily revenue scans.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type IssueType string

const (
	IssueTypeFailedPayment      IssueType = "failed_payment"
	IssueTypeFailedSubscription IssueType = "failed_subscription"
	IssueTypeExpiringCard       IssueType = "expiring_card"
	IssueTypeChargeback         IssueType = "chargeback"
	IssueTypeMRRAnomaly         IssueType = "mrr_anomaly"
)

// IssueTypes lists every issue type in display order.
var IssueTypes = []IssueType{
	IssueTypeFailedPayment,
	IssueTypeFailedSubscription,
	IssueTypeExpiringCard,
	IssueTypeChargeback,
	IssueTypeMRRAnomaly,
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
)

// Source names one aggregator pass.
type Source string

const (
	SourceFailedPayments      Source = "failed_payments"
	SourceFailedSubscriptions Source = "failed_subscriptions"
	SourceExpiringCards       Source = "expiring_cards"
	SourceChargebacks         Source = "chargebacks"
	SourceCurrentMRR          Source = "current_mrr"
)

var Sources = []Source{
	SourceFailedPayments,
	SourceFailedSubscriptions,
	SourceExpiringCards,
	SourceChargebacks,
	SourceCurrentMRR,
}

type SourceState string

const (
	SourceStateOK        SourceState = "ok"
	SourceStateFailed    SourceState = "failed"
	SourceStateTruncated SourceState = "truncated"
)

type IssueCounts map[IssueType]int

type SourceStatus map[Source]SourceState

// Snapshot is the per-organization, per-day summary of revenue at risk.
type Snapshot struct {
	ID                    snowflake.ID                     `gorm:"primaryKey" json:"id"`
	OrgID                 snowflake.ID                     `gorm:"not null;uniqueIndex:ux_revenue_snapshots_org_date,priority:1" json:"org_id"`
	SnapshotDate          time.Time                        `gorm:"type:date;not null;uniqueIndex:ux_revenue_snapshots_org_date,priority:2" json:"snapshot_date"`
	TotalRevenueAtRisk    float64                          `gorm:"type:numeric(14,2);not null;default:0" json:"total_revenue_at_risk"`
	MRRAffectedPercentage float64                          `gorm:"column:mrr_affected_percentage;type:double precision;not null;default:0" json:"mrr_affected_percentage"`
	CurrentMRR            float64                          `gorm:"column:current_mrr;type:numeric(14,2);not null;default:0" json:"current_mrr"`
	IssueCountByType      datatypes.JSONType[IssueCounts]  `gorm:"type:jsonb;not null" json:"issue_count_by_type"`
	SourceStatus          datatypes.JSONType[SourceStatus] `gorm:"type:jsonb;not null" json:"source_status"`
	IsPartial             bool                             `gorm:"not null;default:false" json:"is_partial"`
	IsTruncated           bool                             `gorm:"not null;default:false" json:"is_truncated"`
	CreatedAt             time.Time                        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt             time.Time                        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Snapshot) TableName() string { return "revenue_snapshots" }

// Issue is one prioritized revenue risk found in a scan.
type Issue struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	SnapshotID    snowflake.ID   `gorm:"not null;index" json:"snapshot_id"`
	OrgID         snowflake.ID   `gorm:"not null;index" json:"org_id"`
	Type          IssueType      `gorm:"type:text;not null" json:"type"`
	CustomerEmail string         `gorm:"type:text;not null" json:"customer_email"`
	CustomerName  string         `gorm:"type:text;not null" json:"customer_name"`
	Amount        float64        `gorm:"type:numeric(14,2);not null;default:0" json:"amount"`
	Priority      Priority       `gorm:"type:text;not null" json:"priority"`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null" json:"metadata"`
	DetectedAt    time.Time      `gorm:"not null" json:"detected_at"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Issue) TableName() string { return "revenue_issues" }

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
