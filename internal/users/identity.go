package users

import (
	"strings"
	"time"
)

// Identity maps a tenant-scoped login to the user id carried in session tokens
// and notification recipients.
type Identity struct {
	TenantID    string    `gorm:"column:tenant_id;primaryKey;size:190;not null"`
	Login       string    `gorm:"column:login;primaryKey;size:320;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeLogin(value string) string {
	return strings.ToLower(normalize(value))
}
