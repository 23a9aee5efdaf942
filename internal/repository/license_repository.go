package repository

import (
	"context"
	"errors"
	"time"

	"github.com/streamvault/playback-license-service/internal/domain"
	"github.com/streamvault/playback-license-service/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrLicenseNotFound = errors.New("license not found")

type LicenseRepository interface {
	Upsert(l *domain.License) error
	FindByUserEpisode(userID, episodeID uint) (*domain.License, error)
	Revoke(userID, episodeID uint, reason string, at time.Time) (int64, error)
}

type GormLicenseRepository struct{ db *gorm.DB }

func NewLicenseRepository(db *gorm.DB) LicenseRepository { return &GormLicenseRepository{db: db} }

// Upsert creates the license for (user, episode) or renews the existing row
// in place. The unique index is the arbiter: a concurrent insert for the same
// pair resolves to an update, never a duplicate. Renewal clears any previous
// revocation.
func (r *GormLicenseRepository) Upsert(l *domain.License) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "episode_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"device_id":         l.DeviceID,
			"license_type":      l.LicenseType,
			"is_valid":          true,
			"expires_at":        l.ExpiresAt,
			"revoked_at":        nil,
			"revocation_reason": nil,
			"updated_at":        time.Now().UTC(),
		}),
	}).Create(l).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "license", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "license", "upsert", "success")
	return nil
}

func (r *GormLicenseRepository) FindByUserEpisode(userID, episodeID uint) (*domain.License, error) {
	var l domain.License
	err := r.db.Where("user_id = ? AND episode_id = ?", userID, episodeID).First(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "license", "find_by_user_episode", "not_found")
			return nil, ErrLicenseNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "license", "find_by_user_episode", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "license", "find_by_user_episode", "success")
	return &l, nil
}

// Revoke flips the license invalid. Zero rows affected means the license is
// either missing or already revoked; the caller decides which via a lookup.
func (r *GormLicenseRepository) Revoke(userID, episodeID uint, reason string, at time.Time) (int64, error) {
	res := r.db.Model(&domain.License{}).
		Where("user_id = ? AND episode_id = ? AND revoked_at IS NULL", userID, episodeID).
		Updates(map[string]any{
			"is_valid":          false,
			"revoked_at":        at,
			"revocation_reason": reason,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "license", "revoke", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "license", "revoke", "success")
	return res.RowsAffected, nil
}
