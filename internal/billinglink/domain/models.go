package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Link binds an organization to one billing provider account.
type Link struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID   `gorm:"not null;uniqueIndex:ux_billing_account_links_org" json:"org_id"`
	Provider    string         `gorm:"type:text;not null;uniqueIndex:ux_billing_account_links_account,priority:1" json:"provider"`
	Mode        string         `gorm:"type:text;not null" json:"mode"`
	Credential  datatypes.JSON `gorm:"column:credential_ciphertext;type:jsonb;not null" json:"-"`
	AccountID   string         `gorm:"type:text;not null;uniqueIndex:ux_billing_account_links_account,priority:2" json:"account_id"`
	AccountName string         `gorm:"type:text;not null;default:''" json:"account_name"`
	KeyLast4    string         `gorm:"column:key_last4;type:text;not null" json:"key_last4"`
	ConnectedAt time.Time      `gorm:"not null" json:"connected_at"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Link) TableName() string { return "billing_account_links" }
