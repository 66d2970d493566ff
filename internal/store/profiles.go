package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stageconnect/messaging-platform/internal/model"
)

// ErrInvalidProfile is returned for a profile without a positive id or a known kind.
var ErrInvalidProfile = errors.New("invalid profile")

// ProfileRecord is the read model of a user profile. Profiles are owned by
// another service; this table only mirrors what messaging needs to show.
type ProfileRecord struct {
	ID        int64  `gorm:"primaryKey;autoIncrement:false"`
	Kind      string `gorm:"size:16;not null"`
	Name      string `gorm:"size:256"`
	AvatarURL string `gorm:"size:512"`
	Title     string `gorm:"size:256"`
	Company   string `gorm:"size:256"`
}

// TableName pins the table name.
func (ProfileRecord) TableName() string {
	return "profiles"
}

// ProfileDirectory resolves user ids to profile summaries.
type ProfileDirectory struct {
	db *gorm.DB
}

// NewProfileDirectory creates a new profile directory.
func NewProfileDirectory(db *gorm.DB) *ProfileDirectory {
	return &ProfileDirectory{db: db}
}

// Exists reports whether a profile with the given id is known.
func (d *ProfileDirectory) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&ProfileRecord{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check profile: %w", err)
	}
	return count > 0, nil
}

// Summary returns the participant view of a profile.
func (d *ProfileDirectory) Summary(ctx context.Context, id int64) (model.Participant, error) {
	var rec ProfileRecord
	if err := d.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return model.Participant{}, translate(err)
	}
	return rec.participant(), nil
}

// Upsert inserts or replaces a profile record.
func (d *ProfileDirectory) Upsert(ctx context.Context, rec *ProfileRecord) error {
	if rec.ID <= 0 {
		return fmt.Errorf("%w: id %d", ErrInvalidProfile, rec.ID)
	}
	if !model.ParticipantKind(rec.Kind).Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidProfile, rec.Kind)
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

func (r ProfileRecord) participant() model.Participant {
	kind := model.ParticipantKind(r.Kind)
	summary := model.ProfileSummary{
		ID:        r.ID,
		Name:      r.Name,
		AvatarURL: r.AvatarURL,
		Title:     r.Title,
	}
	// Only organization representatives carry a company.
	if kind == model.KindResponsible {
		summary.Company = r.Company
	}
	return model.Participant{Kind: kind, Summary: summary}
}
