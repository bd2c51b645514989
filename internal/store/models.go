package store

import "time"

// CommandSwitch is the persisted feature flag for one toggleable command.
// A command with no row is enabled.
type CommandSwitch struct {
	CommandCode string `gorm:"primaryKey;size:64"`
	Enabled     bool   `gorm:"not null"`
	UpdatedAt   time.Time
	UpdatedBy   string `gorm:"size:128"`
	Note        string `gorm:"type:text"`
}

// User is an account known to the local identity service.
type User struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Login        string `gorm:"size:64;not null;uniqueIndex"`
	PasswordHash string `gorm:"size:128;not null"`
	Active       bool   `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Roles     []Role               `gorm:"many2many:user_roles"`
	Overrides []PermissionOverride `gorm:"foreignKey:UserID"`
}

// ChannelLink binds an external chat identity to a User.
type ChannelLink struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ProviderCode   string `gorm:"size:32;not null;uniqueIndex:idx_provider_external"`
	ExternalUserID string `gorm:"size:128;not null;uniqueIndex:idx_provider_external"`
	UserID         uint   `gorm:"not null;index"`
	CreatedAt      time.Time

	User User `gorm:"foreignKey:UserID"`
}

// Role groups permissions.
type Role struct {
	ID          uint             `gorm:"primaryKey;autoIncrement"`
	Code        string           `gorm:"size:32;not null;uniqueIndex"`
	Description string           `gorm:"size:255"`
	Permissions []RolePermission `gorm:"foreignKey:RoleID"`
}

// RolePermission grants a permission code to a role.
type RolePermission struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	RoleID   uint   `gorm:"not null;uniqueIndex:idx_role_perm"`
	PermCode string `gorm:"size:64;not null;uniqueIndex:idx_role_perm"`
}

// Override effects.
const (
	EffectAllow = "ALLOW"
	EffectDeny  = "DENY"
)

// PermissionOverride adds (ALLOW) or removes (DENY) a permission for one
// user regardless of role grants.
type PermissionOverride struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    uint   `gorm:"not null;uniqueIndex:idx_user_perm"`
	PermCode  string `gorm:"size:64;not null;uniqueIndex:idx_user_perm"`
	Effect    string `gorm:"size:8;not null"`
	Reason    string `gorm:"size:255"`
	CreatedAt time.Time
}

// AccessToken is an opaque bearer token issued to a linked user.
type AccessToken struct {
	Token     string    `gorm:"primaryKey;size:64"`
	UserID    uint      `gorm:"not null;index"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
}
