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

var ErrStreamNotFound = errors.New("active stream not found")

type StreamRepository interface {
	CountActiveByUser(userID uint, activeSince time.Time) (int64, error)
	FindByUserDevice(userID uint, deviceID string) (*domain.ActiveStream, error)
	UpsertByUserDevice(s *domain.ActiveStream) error
	Heartbeat(sessionToken string, at time.Time) (int64, error)
	DeleteByToken(sessionToken string) (*domain.ActiveStream, error)
	DeleteByUserEpisode(userID, episodeID uint) ([]domain.ActiveStream, error)
	ReapStale(cutoff time.Time) ([]domain.ActiveStream, error)
	InTx(fn func(StreamRepository) error) error
}

type GormStreamRepository struct{ db *gorm.DB }

func NewStreamRepository(db *gorm.DB) StreamRepository { return &GormStreamRepository{db: db} }

func (r *GormStreamRepository) InTx(fn func(StreamRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&GormStreamRepository{db: tx})
	})
}

// CountActiveByUser counts streams whose heartbeat is newer than activeSince.
// Rows older than the cutoff are already dead to admission even if the next
// sweep has not reaped them yet.
func (r *GormStreamRepository) CountActiveByUser(userID uint, activeSince time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&domain.ActiveStream{}).
		Where("user_id = ? AND last_heartbeat > ?", userID, activeSince).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "stream", "count_active_by_user", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(context.Background(), "stream", "count_active_by_user", "success")
	return count, nil
}

func (r *GormStreamRepository) FindByUserDevice(userID uint, deviceID string) (*domain.ActiveStream, error) {
	var s domain.ActiveStream
	err := r.db.Where("user_id = ? AND device_id = ?", userID, deviceID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "stream", "find_by_user_device", "not_found")
			return nil, ErrStreamNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "stream", "find_by_user_device", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "stream", "find_by_user_device", "success")
	return &s, nil
}

// UpsertByUserDevice inserts the stream or, when a row for (user, device)
// already exists, replaces it in place: new token, reset start, fresh
// heartbeat. The unique index turns a racing duplicate insert into an update.
func (r *GormStreamRepository) UpsertByUserDevice(s *domain.ActiveStream) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "device_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"episode_id":      s.EpisodeID,
			"device_name":     s.DeviceName,
			"device_platform": s.DevicePlatform,
			"ip_address":      s.IPAddress,
			"session_token":   s.SessionToken,
			"last_heartbeat":  s.LastHeartbeat,
			"started_at":      s.StartedAt,
		}),
	}).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "stream", "upsert_by_user_device", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "stream", "upsert_by_user_device", "success")
	return nil
}

func (r *GormStreamRepository) Heartbeat(sessionToken string, at time.Time) (int64, error) {
	res := r.db.Model(&domain.ActiveStream{}).
		Where("session_token = ?", sessionToken).
		Update("last_heartbeat", at)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "stream", "heartbeat", "error")
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "stream", "heartbeat", "not_found")
		return 0, nil
	}
	observability.RecordRepositoryOperation(context.Background(), "stream", "heartbeat", "success")
	return res.RowsAffected, nil
}

// DeleteByToken removes the stream and returns the deleted row so the caller
// can audit it. Absent tokens return ErrStreamNotFound.
func (r *GormStreamRepository) DeleteByToken(sessionToken string) (*domain.ActiveStream, error) {
	var deleted *domain.ActiveStream
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var s domain.ActiveStream
		if err := tx.Where("session_token = ?", sessionToken).First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStreamNotFound
			}
			return err
		}
		if err := tx.Delete(&domain.ActiveStream{}, s.ID).Error; err != nil {
			return err
		}
		deleted = &s
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStreamNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "stream", "delete_by_token", "not_found")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "stream", "delete_by_token", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "stream", "delete_by_token", "success")
	return deleted, nil
}

func (r *GormStreamRepository) DeleteByUserEpisode(userID, episodeID uint) ([]domain.ActiveStream, error) {
	streams, err := r.deleteMatching("user_id = ? AND episode_id = ?", userID, episodeID)
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "stream", "delete_by_user_episode", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "stream", "delete_by_user_episode", "success")
	return streams, nil
}

// ReapStale removes every stream whose heartbeat is at or older than cutoff
// and returns the removed rows for per-session audit.
func (r *GormStreamRepository) ReapStale(cutoff time.Time) ([]domain.ActiveStream, error) {
	streams, err := r.deleteMatching("last_heartbeat <= ?", cutoff)
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "stream", "reap_stale", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "stream", "reap_stale", "success")
	return streams, nil
}

func (r *GormStreamRepository) deleteMatching(query string, args ...any) ([]domain.ActiveStream, error) {
	var streams []domain.ActiveStream
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(query, args...).Find(&streams).Error; err != nil {
			return err
		}
		if len(streams) == 0 {
			return nil
		}
		ids := make([]uint, 0, len(streams))
		for _, s := range streams {
			ids = append(ids, s.ID)
		}
		return tx.Delete(&domain.ActiveStream{}, ids).Error
	})
	if err != nil {
		return nil, err
	}
	return streams, nil
}
