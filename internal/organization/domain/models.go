// Package domain contains persistence models for the org service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Organization represents a tenant. Alert preferences live on the row itself.
type Organization struct {
	ID           snowflake.ID   `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"type:text;not null" json:"name"`
	Slug         string         `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	EmailEnabled bool           `gorm:"not null;default:true" json:"email_enabled"`
	SlackEnabled bool           `gorm:"not null;default:false" json:"slack_enabled"`
	SlackWebhook datatypes.JSON `gorm:"column:slack_webhook_ciphertext;type:jsonb" json:"-"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }
