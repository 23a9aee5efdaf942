package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/streamvault/playback-license-service/internal/domain"
	"github.com/streamvault/playback-license-service/internal/observability"
	"github.com/streamvault/playback-license-service/internal/repository"
)

// HeartbeatSweeper is the sole authority on staleness: it reaps streams whose
// heartbeat has gone quiet for longer than the stale window and frees their
// admission slots. Admission counts with the same window, so a stream due for
// reaping never blocks a new admit in the meantime.
type HeartbeatSweeper struct {
	streams     repository.StreamRepository
	audit       AuditLogger
	interval    time.Duration
	staleWindow time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewHeartbeatSweeper(
	streams repository.StreamRepository,
	audit AuditLogger,
	interval, staleWindow time.Duration,
	logger *slog.Logger,
) *HeartbeatSweeper {
	return &HeartbeatSweeper{
		streams:     streams,
		audit:       audit,
		interval:    interval,
		staleWindow: staleWindow,
		logger:      logger,
		now:         time.Now,
	}
}

// Run sweeps on a fixed interval until the context is cancelled. Sweep
// failures are logged and retried on the next tick, never escalated.
func (s *HeartbeatSweeper) Run(ctx context.Context) error {
	s.logger.Info("heartbeat sweeper started",
		"interval", s.interval,
		"stale_window", s.staleWindow,
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("heartbeat sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "heartbeat sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce reaps every stale stream and writes exactly one playback_ended
// entry per reaped session.
func (s *HeartbeatSweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleWindow)
	reaped, err := s.streams.ReapStale(cutoff)
	if err != nil {
		return 0, err
	}
	var auditErrs []error
	for i := range reaped {
		stream := &reaped[i]
		auditErrs = append(auditErrs, s.audit.Record(ctx, &domain.AuditLogEntry{
			UserID:        &stream.UserID,
			EpisodeID:     &stream.EpisodeID,
			DeviceID:      sptr(stream.DeviceID),
			EventType:     domain.EventPlaybackEnded,
			Reason:        sptr("heartbeat timeout"),
			WasSuccessful: true,
		}))
	}
	if len(reaped) > 0 {
		observability.RecordSweeperReaped(ctx, len(reaped))
		s.logger.InfoContext(ctx, "reaped stale streams", "count", len(reaped))
	}
	return len(reaped), errors.Join(auditErrs...)
}
