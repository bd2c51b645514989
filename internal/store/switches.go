package store

import (
	"context"
	"fmt"
	"time"

	"github.com/775kkk/logic-signal-protector-sub000/internal/catalog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SwitchStore reads and writes command feature switches.
type SwitchStore struct {
	db *gorm.DB
}

// NewSwitchStore creates a SwitchStore.
func NewSwitchStore(db *gorm.DB) (*SwitchStore, error) {
	if db == nil {
		return nil, fmt.Errorf("store: switch store: db is required")
	}
	return &SwitchStore{db: db}, nil
}

// ListSwitches returns every persisted switch, ordered by command code.
func (s *SwitchStore) ListSwitches(ctx context.Context) ([]catalog.Switch, error) {
	var rows []CommandSwitch
	if err := s.db.WithContext(ctx).Order("command_code").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list switches: %w", err)
	}
	out := make([]catalog.Switch, 0, len(rows))
	for _, r := range rows {
		out = append(out, catalog.Switch{
			CommandCode: r.CommandCode,
			Enabled:     r.Enabled,
			UpdatedAt:   r.UpdatedAt,
			UpdatedBy:   r.UpdatedBy,
			Note:        r.Note,
		})
	}
	return out, nil
}

// SetSwitch upserts the switch for code.
func (s *SwitchStore) SetSwitch(ctx context.Context, code string, enabled bool, updatedBy, note string) error {
	row := CommandSwitch{
		CommandCode: code,
		Enabled:     enabled,
		UpdatedAt:   time.Now(),
		UpdatedBy:   updatedBy,
		Note:        note,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "command_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at", "updated_by", "note"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: set switch %s: %w", code, err)
	}
	return nil
}
