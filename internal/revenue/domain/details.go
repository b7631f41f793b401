package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Details is the typed metadata attached to an issue. Each variant maps to exactly one IssueType.
type Details interface {
	IssueType() IssueType
	details()
}

type FailedPaymentDetails struct {
	InvoiceID   string `json:"invoiceId"`
	DaysOverdue int    `json:"daysOverdue"`
	InvoiceURL  string `json:"invoiceUrl"`
}

type FailedSubscriptionDetails struct {
	SubscriptionID string  `json:"subscriptionId"`
	InvoiceID      string  `json:"invoiceId"`
	PlanName       string  `json:"planName"`
	MRRImpact      float64 `json:"mrrImpact"`
}

type ExpiringCardDetails struct {
	CardLast4       string   `json:"cardLast4"`
	ExpirationDate  string   `json:"expirationDate"`
	DaysUntilExpiry int      `json:"daysUntilExpiry"`
	SubscriptionIDs []string `json:"subscriptionIds"`
}

type ChargebackDetails struct {
	DisputeID string  `json:"disputeId"`
	Reason    string  `json:"reason"`
	DueBy     *string `json:"dueBy"`
	Status    string  `json:"status"`
}

// MRRAnomalyDetails reports zero for the 7-day fields when no history was available.
type MRRAnomalyDetails struct {
	CurrentMRR       float64 `json:"currentMRR"`
	PreviousMRR      float64 `json:"previousMRR"`
	Avg7DayMRR       float64 `json:"avg7dayMRR"`
	DayOverDayChange float64 `json:"dayOverDayChange"`
	Avg7DayChange    float64 `json:"avg7dayChange"`
	TriggerMethod    string  `json:"triggerMethod"`
}

func (FailedPaymentDetails) IssueType() IssueType      { return IssueTypeFailedPayment }
func (FailedSubscriptionDetails) IssueType() IssueType { return IssueTypeFailedSubscription }
func (ExpiringCardDetails) IssueType() IssueType       { return IssueTypeExpiringCard }
func (ChargebackDetails) IssueType() IssueType         { return IssueTypeChargeback }
func (MRRAnomalyDetails) IssueType() IssueType         { return IssueTypeMRRAnomaly }

func (FailedPaymentDetails) details()      {}
func (FailedSubscriptionDetails) details() {}
func (ExpiringCardDetails) details()       {}
func (ChargebackDetails) details()         {}
func (MRRAnomalyDetails) details()         {}

// IssueFields are the columns shared by every issue type.
type IssueFields struct {
	CustomerEmail string
	CustomerName  string
	Amount        float64
	Priority      Priority
	DetectedAt    time.Time
}

// NewIssue builds an unsaved issue whose type follows from details. Snapshot, org and id are
// assigned at persistence time.
func NewIssue(details Details, fields IssueFields) (Issue, error) {
	if details == nil {
		return Issue{}, ErrMissingDetails
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return Issue{}, fmt.Errorf("encode %s details: %w", details.IssueType(), err)
	}
	amount := fields.Amount
	if amount < 0 {
		amount = 0
	}
	return Issue{
		Type:          details.IssueType(),
		CustomerEmail: fields.CustomerEmail,
		CustomerName:  fields.CustomerName,
		Amount:        amount,
		Priority:      fields.Priority,
		Metadata:      datatypes.JSON(raw),
		DetectedAt:    fields.DetectedAt,
	}, nil
}

// Details decodes the stored metadata into the variant for the issue's type.
func (i Issue) Details() (Details, error) {
	var target Details
	switch i.Type {
	case IssueTypeFailedPayment:
		var d FailedPaymentDetails
		if err := i.decode(&d); err != nil {
			return nil, err
		}
		target = d
	case IssueTypeFailedSubscription:
		var d FailedSubscriptionDetails
		if err := i.decode(&d); err != nil {
			return nil, err
		}
		target = d
	case IssueTypeExpiringCard:
		var d ExpiringCardDetails
		if err := i.decode(&d); err != nil {
			return nil, err
		}
		target = d
	case IssueTypeChargeback:
		var d ChargebackDetails
		if err := i.decode(&d); err != nil {
			return nil, err
		}
		target = d
	case IssueTypeMRRAnomaly:
		var d MRRAnomalyDetails
		if err := i.decode(&d); err != nil {
			return nil, err
		}
		target = d
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIssueType, i.Type)
	}
	return target, nil
}

func (i Issue) decode(v any) error {
	if len(i.Metadata) == 0 {
		return nil
	}
	if err := json.Unmarshal(i.Metadata, v); err != nil {
		return fmt.Errorf("decode %s details: %w", i.Type, err)
	}
	return nil
}

// Assign stamps persistence identity onto an issue built by NewIssue.
func (i *Issue) Assign(id, snapshotID, orgID snowflake.ID) {
	i.ID = id
	i.SnapshotID = snapshotID
	i.OrgID = orgID
}
