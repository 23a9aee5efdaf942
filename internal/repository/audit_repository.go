package repository

import (
	"context"

	"github.com/streamvault/playback-license-service/internal/domain"
	"github.com/streamvault/playback-license-service/internal/observability"

	"gorm.io/gorm"
)

// AuditRepository is append-only by contract: Create is the only write and
// nothing here updates or deletes rows.
type AuditRepository interface {
	Create(e *domain.AuditLogEntry) error
	ListRecent(limit int) ([]domain.AuditLogEntry, error)
}

type GormAuditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) AuditRepository { return &GormAuditRepository{db: db} }

func (r *GormAuditRepository) Create(e *domain.AuditLogEntry) error {
	err := r.db.Create(e).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "audit", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "audit", "create", "success")
	return nil
}

func (r *GormAuditRepository) ListRecent(limit int) ([]domain.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []domain.AuditLogEntry
	err := r.db.Order("id DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "audit", "list_recent", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "audit", "list_recent", "success")
	return entries, nil
}
