package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streamvault/playback-license-service/internal/domain"
	"github.com/streamvault/playback-license-service/internal/observability"
	"github.com/streamvault/playback-license-service/internal/repository"
)

type AuditLogger interface {
	Record(ctx context.Context, e *domain.AuditLogEntry) error
}

// StoreAuditLogger persists audit entries synchronously.
//
// Failure policy: a failed audit write never rolls back the decision it
// records. Callers return the business result and pass the wrapped
// ErrAuditWriteFailed up as a secondary warning, so operators can detect
// audit-trail gaps without turning every decision into a hard failure.
type StoreAuditLogger struct {
	repo   repository.AuditRepository
	logger *slog.Logger
}

func NewAuditLogger(repo repository.AuditRepository, logger *slog.Logger) *StoreAuditLogger {
	return &StoreAuditLogger{repo: repo, logger: logger}
}

func (l *StoreAuditLogger) Record(ctx context.Context, e *domain.AuditLogEntry) error {
	if err := l.repo.Create(e); err != nil {
		observability.RecordAuditWriteFailure(ctx)
		l.logger.ErrorContext(ctx, "audit write failed",
			"event_type", e.EventType,
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
	}
	return nil
}

// Recent exposes the trail for the operator listing endpoint. Read-only.
func (l *StoreAuditLogger) Recent(limit int) ([]domain.AuditLogEntry, error) {
	return l.repo.ListRecent(limit)
}
