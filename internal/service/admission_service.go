package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/streamvault/playback-license-service/internal/domain"
	"github.com/streamvault/playback-license-service/internal/observability"
	"github.com/streamvault/playback-license-service/internal/repository"
)

// AdmissionService owns active streams: it decides whether a playback attempt
// may start, keeps sessions alive via heartbeats, and tears them down.
//
// Admission is serialized per user: always through the in-process keyed
// mutex, additionally through the remote locker when one is configured. The
// unique (user_id, device_id) index is the final arbiter under races — a
// conflicting insert resolves to a replacement, never a duplicate.
type AdmissionService struct {
	streams     repository.StreamRepository
	licenses    LicenseValidator
	audit       AuditLogger
	local       *KeyedUserLock
	remote      UserLocker
	staleWindow time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewAdmissionService(
	streams repository.StreamRepository,
	licenses LicenseValidator,
	audit AuditLogger,
	remote UserLocker,
	staleWindow time.Duration,
	logger *slog.Logger,
) *AdmissionService {
	return &AdmissionService{
		streams:     streams,
		licenses:    licenses,
		audit:       audit,
		local:       NewKeyedUserLock(),
		remote:      remote,
		staleWindow: staleWindow,
		logger:      logger,
		now:         time.Now,
	}
}

type AdmitRequest struct {
	UserID               uint
	EpisodeID            uint
	DeviceID             string
	DeviceName           string
	DevicePlatform       string
	MaxConcurrentStreams int
	Meta                 RequestMeta
}

type Admission struct {
	SessionToken string    `json:"session_token"`
	StartedAt    time.Time `json:"started_at"`
	Replaced     bool      `json:"replaced"`
}

// Admit runs the admission algorithm: valid license, then concurrency check
// and stream write inside one transaction. A device re-opening playback
// supersedes its own prior session instead of counting against the limit.
// Rejection is immediate and final; there is no queueing.
func (s *AdmissionService) Admit(ctx context.Context, req AdmitRequest) (*Admission, error) {
	if req.DeviceID == "" {
		return nil, fmt.Errorf("admit: device id required")
	}
	if req.MaxConcurrentStreams < 1 {
		return nil, fmt.Errorf("admit: max concurrent streams must be at least 1")
	}

	release := s.local.Lock(req.UserID)
	defer release()
	if s.remote != nil {
		remoteRelease, err := s.remote.Lock(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("acquire admission lock: %w", err)
		}
		defer remoteRelease()
	}

	st, verr := s.licenses.Validate(ctx, req.UserID, req.EpisodeID, req.Meta)
	if verr != nil && !errors.Is(verr, ErrAuditWriteFailed) {
		return nil, verr
	}
	if st != domain.LicenseStatusValid {
		observability.RecordAdmission(ctx, "rejected", "license_"+string(st))
		// The validate path already wrote the playback_rejected entry.
		return nil, errors.Join(licenseStatusErr(st), auditWarn(verr))
	}

	now := s.now()
	activeSince := now.Add(-s.staleWindow)
	var (
		admission *Admission
		blocked   bool
	)
	err := s.streams.InTx(func(tx repository.StreamRepository) error {
		existing, err := tx.FindByUserDevice(req.UserID, req.DeviceID)
		if err != nil && !errors.Is(err, repository.ErrStreamNotFound) {
			return err
		}
		replacing := existing != nil
		if !replacing {
			count, err := tx.CountActiveByUser(req.UserID, activeSince)
			if err != nil {
				return err
			}
			if count >= int64(req.MaxConcurrentStreams) {
				blocked = true
				return nil
			}
		}
		stream := &domain.ActiveStream{
			UserID:         req.UserID,
			EpisodeID:      req.EpisodeID,
			DeviceID:       req.DeviceID,
			DeviceName:     req.DeviceName,
			DevicePlatform: req.DevicePlatform,
			IPAddress:      req.Meta.IPAddress,
			SessionToken:   uuid.NewString(),
			LastHeartbeat:  now,
			StartedAt:      now,
		}
		if err := tx.UpsertByUserDevice(stream); err != nil {
			return err
		}
		admission = &Admission{SessionToken: stream.SessionToken, StartedAt: now, Replaced: replacing}
		return nil
	})
	if err != nil {
		observability.RecordAdmission(ctx, "error", "storage")
		return nil, fmt.Errorf("admit stream: %w", err)
	}

	if blocked {
		observability.RecordAdmission(ctx, "rejected", "concurrency")
		auditErr := s.audit.Record(ctx, &domain.AuditLogEntry{
			UserID:    &req.UserID,
			EpisodeID: &req.EpisodeID,
			DeviceID:  sptr(req.DeviceID),
			EventType: domain.EventConcurrentStreamBlocked,
			IPAddress: req.Meta.IPAddress,
			UserAgent: req.Meta.UserAgent,
			Metadata: domain.Metadata{
				"max_concurrent_streams": req.MaxConcurrentStreams,
			},
			Reason:        sptr("concurrent stream limit reached"),
			WasSuccessful: false,
		})
		return nil, errors.Join(ErrConcurrencyLimitExceeded, auditErr)
	}

	outcome := "new_device"
	if admission.Replaced {
		outcome = "replaced_device"
	}
	observability.RecordAdmission(ctx, "admitted", outcome)
	auditErr := s.audit.Record(ctx, &domain.AuditLogEntry{
		UserID:    &req.UserID,
		EpisodeID: &req.EpisodeID,
		DeviceID:  sptr(req.DeviceID),
		EventType: domain.EventPlaybackStarted,
		IPAddress: req.Meta.IPAddress,
		UserAgent: req.Meta.UserAgent,
		Metadata: domain.Metadata{
			"device_name":     req.DeviceName,
			"device_platform": req.DevicePlatform,
			"replaced":        admission.Replaced,
		},
		WasSuccessful: true,
	})
	return admission, auditErr
}

// Heartbeat advances the liveness timestamp for the session. A reaped or
// unknown token is reported as ErrSessionNotFound; the client must re-admit.
func (s *AdmissionService) Heartbeat(ctx context.Context, sessionToken string) error {
	rows, err := s.streams.Heartbeat(sessionToken, s.now())
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// End removes the session. Idempotent: an already-absent token is treated as
// already ended and writes no audit entry.
func (s *AdmissionService) End(ctx context.Context, sessionToken, reason string, meta RequestMeta) error {
	if reason == "" {
		reason = "playback ended"
	}
	stream, err := s.streams.DeleteByToken(sessionToken)
	if err != nil {
		if errors.Is(err, repository.ErrStreamNotFound) {
			return nil
		}
		return fmt.Errorf("end stream: %w", err)
	}
	return s.audit.Record(ctx, &domain.AuditLogEntry{
		UserID:        &stream.UserID,
		EpisodeID:     &stream.EpisodeID,
		DeviceID:      sptr(stream.DeviceID),
		EventType:     domain.EventPlaybackEnded,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		Reason:        sptr(reason),
		WasSuccessful: true,
	})
}

// EvictAllForLicense tears down every stream playing under the given pair.
// Called synchronously by license revocation; one playback_rejected entry is
// written per evicted stream.
func (s *AdmissionService) EvictAllForLicense(ctx context.Context, userID, episodeID uint, meta RequestMeta) error {
	evicted, err := s.streams.DeleteByUserEpisode(userID, episodeID)
	if err != nil {
		return fmt.Errorf("evict streams: %w", err)
	}
	var auditErrs []error
	for i := range evicted {
		stream := &evicted[i]
		auditErrs = append(auditErrs, s.audit.Record(ctx, &domain.AuditLogEntry{
			UserID:        &stream.UserID,
			EpisodeID:     &stream.EpisodeID,
			DeviceID:      sptr(stream.DeviceID),
			EventType:     domain.EventPlaybackRejected,
			IPAddress:     meta.IPAddress,
			UserAgent:     meta.UserAgent,
			Reason:        sptr("license revoked"),
			WasSuccessful: false,
		}))
	}
	if len(evicted) > 0 {
		s.logger.InfoContext(ctx, "evicted streams for revoked license",
			"user_id", userID,
			"episode_id", episodeID,
			"count", len(evicted),
		)
	}
	return errors.Join(auditErrs...)
}

// StaleWindow exposes the staleness definition so the sweeper and admission
// are configured from the same value.
func (s *AdmissionService) StaleWindow() time.Duration { return s.staleWindow }
