package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey is a hashed workspace credential. The plaintext is shown once at issue time.
type APIKey struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	WorkspaceID string       `gorm:"column:workspace_id;type:text;not null;index"`
	Name        string       `gorm:"type:text;not null"`
	KeyPrefix   string       `gorm:"column:key_prefix;type:text;not null"`
	KeyHash     string       `gorm:"column:key_hash;type:text;not null;uniqueIndex"`
	IsTest      bool         `gorm:"column:is_test;not null;default:false"`
	IsActive    bool         `gorm:"column:is_active;not null;default:true"`
	ExpiresAt   *time.Time   `gorm:"column:expires_at"`
	RevokedAt   *time.Time   `gorm:"column:revoked_at"`
	LastUsedAt  *time.Time   `gorm:"column:last_used_at"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

// Usable reports whether the key may authenticate at now.
func (k APIKey) Usable(now time.Time) bool {
	if !k.IsActive || k.RevokedAt != nil {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// Principal is the workspace identity a key resolves to.
type Principal struct {
	KeyID       snowflake.ID
	WorkspaceID string
	IsTest      bool
}
