package store

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&CommandSwitch{},
		&User{},
		&ChannelLink{},
		&Role{},
		&RolePermission{},
		&PermissionOverride{},
		&AccessToken{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("store: auto-migrate: %w", err)
	}
	return nil
}

// RoleSeed describes a role and the permissions it grants.
type RoleSeed struct {
	Code        string
	Description string
	Perms       []string
}

// DefaultRoles is the role table seeded on first run.
var DefaultRoles = []RoleSeed{
	{Code: "USER", Description: "Linked chat user", Perms: []string{"MARKET_READ"}},
	{Code: "ADMIN", Description: "Operator", Perms: []string{"MARKET_READ", "ADMIN"}},
	{Code: "DEV", Description: "Developer with SQL console access", Perms: []string{"MARKET_READ", "DEVGOD"}},
}

// DefaultRoleCode is granted to newly registered users.
const DefaultRoleCode = "USER"

// SeedRoles upserts roles and their permission grants.
func SeedRoles(db *gorm.DB, roles []RoleSeed) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, rs := range roles {
			role := Role{Code: rs.Code, Description: rs.Description}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "code"}},
				DoUpdates: clause.AssignmentColumns([]string{"description"}),
			}).Create(&role).Error; err != nil {
				return fmt.Errorf("store: seed role %s: %w", rs.Code, err)
			}
			if err := tx.Where("code = ?", rs.Code).First(&role).Error; err != nil {
				return fmt.Errorf("store: reload role %s: %w", rs.Code, err)
			}
			for _, p := range rs.Perms {
				rp := RolePermission{RoleID: role.ID, PermCode: p}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rp).Error; err != nil {
					return fmt.Errorf("store: seed %s permission %s: %w", rs.Code, p, err)
				}
			}
		}
		return nil
	})
}
