package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streamvault/playback-license-service/internal/domain"
	"github.com/streamvault/playback-license-service/internal/observability"
	"github.com/streamvault/playback-license-service/internal/repository"
)

// LicenseService owns license rows: issuance, validity checks, revocation and
// download authorization. It never touches active streams directly; the
// revocation cascade goes through the StreamEvictor so the audit trail
// captures causality.
type LicenseService struct {
	licenses     repository.LicenseRepository
	entitlements EntitlementChecker
	audit        AuditLogger
	missing      LicenseLookupCache
	evictor      StreamEvictor
	defaultTTL   time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewLicenseService(
	licenses repository.LicenseRepository,
	entitlements EntitlementChecker,
	audit AuditLogger,
	missing LicenseLookupCache,
	defaultTTL time.Duration,
	logger *slog.Logger,
) *LicenseService {
	return &LicenseService{
		licenses:     licenses,
		entitlements: entitlements,
		audit:        audit,
		missing:      missing,
		defaultTTL:   defaultTTL,
		logger:       logger,
		now:          time.Now,
	}
}

// SetEvictor breaks the construction cycle with the admission controller:
// admission validates through this service, revocation evicts through
// admission.
func (s *LicenseService) SetEvictor(e StreamEvictor) { s.evictor = e }

type IssueRequest struct {
	UserID      uint
	EpisodeID   uint
	LicenseType domain.LicenseType
	DeviceID    *string
	TTL         time.Duration
	Meta        RequestMeta
}

// Issue creates or renews the license for (user, episode). Renewal updates
// the existing row in place and clears any prior revocation; the unique index
// guarantees no duplicate ever appears.
func (s *LicenseService) Issue(ctx context.Context, req IssueRequest) (*domain.License, error) {
	if req.LicenseType == "" {
		req.LicenseType = domain.LicenseTypeStream
	}

	entitled, err := s.entitlements.Entitled(ctx, req.UserID, req.EpisodeID)
	if err != nil {
		return nil, fmt.Errorf("check entitlement: %w", err)
	}
	if !entitled {
		observability.RecordLicenseOperation(ctx, "issue", "denied")
		auditErr := s.audit.Record(ctx, &domain.AuditLogEntry{
			UserID:        &req.UserID,
			EpisodeID:     &req.EpisodeID,
			DeviceID:      req.DeviceID,
			EventType:     domain.EventLicenseGranted,
			IPAddress:     req.Meta.IPAddress,
			UserAgent:     req.Meta.UserAgent,
			Reason:        sptr("entitlement denied"),
			WasSuccessful: false,
		})
		return nil, errors.Join(ErrLicenseDenied, auditErr)
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	var expiresAt *time.Time
	if ttl > 0 {
		t := s.now().Add(ttl)
		expiresAt = &t
	}

	lic := &domain.License{
		UserID:      req.UserID,
		EpisodeID:   req.EpisodeID,
		DeviceID:    req.DeviceID,
		LicenseType: req.LicenseType,
		IsValid:     true,
		ExpiresAt:   expiresAt,
	}
	if err := s.licenses.Upsert(lic); err != nil {
		observability.RecordLicenseOperation(ctx, "issue", "error")
		return nil, fmt.Errorf("issue license: %w", err)
	}
	s.invalidateMissing(ctx, req.UserID, req.EpisodeID)
	observability.RecordLicenseOperation(ctx, "issue", "granted")

	auditErr := s.audit.Record(ctx, &domain.AuditLogEntry{
		UserID:    &req.UserID,
		EpisodeID: &req.EpisodeID,
		DeviceID:  req.DeviceID,
		EventType: domain.EventLicenseGranted,
		IPAddress: req.Meta.IPAddress,
		UserAgent: req.Meta.UserAgent,
		Metadata: domain.Metadata{
			"license_type": string(req.LicenseType),
		},
		WasSuccessful: true,
	})
	return lic, auditErr
}

// Validate reports the license status for (user, episode) without mutating
// state. Non-valid outcomes emit a playback_rejected entry; a Valid result
// used as an admission gate emits nothing here — the caller records the
// higher-level decision once it is known.
func (s *LicenseService) Validate(ctx context.Context, userID, episodeID uint, meta RequestMeta) (domain.LicenseStatus, error) {
	if s.missing != nil {
		known, err := s.missing.IsKnownMissing(ctx, userID, episodeID)
		if err != nil {
			s.logger.WarnContext(ctx, "license lookup cache unavailable", "error", err)
		} else if known {
			observability.RecordLicenseOperation(ctx, "validate", "not_found")
			return domain.LicenseStatusNotFound, auditWarn(s.recordRejection(ctx, userID, episodeID, meta, "license not found"))
		}
	}

	lic, err := s.licenses.FindByUserEpisode(userID, episodeID)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			if s.missing != nil {
				if cerr := s.missing.MarkMissing(ctx, userID, episodeID); cerr != nil {
					s.logger.WarnContext(ctx, "license lookup cache write failed", "error", cerr)
				}
			}
			observability.RecordLicenseOperation(ctx, "validate", "not_found")
			return domain.LicenseStatusNotFound, auditWarn(s.recordRejection(ctx, userID, episodeID, meta, "license not found"))
		}
		observability.RecordLicenseOperation(ctx, "validate", "error")
		return domain.LicenseStatusNotFound, fmt.Errorf("find license: %w", err)
	}

	st := lic.Status(s.now())
	observability.RecordLicenseOperation(ctx, "validate", string(st))
	if st != domain.LicenseStatusValid {
		return st, auditWarn(s.recordRejection(ctx, userID, episodeID, meta, "license "+string(st)))
	}
	return st, nil
}

// ValidatePlayback is the standalone validate endpoint semantic: same check
// as Validate, plus a playback_validated entry on success.
func (s *LicenseService) ValidatePlayback(ctx context.Context, userID, episodeID uint, meta RequestMeta) (domain.LicenseStatus, error) {
	st, err := s.Validate(ctx, userID, episodeID, meta)
	if err != nil && !errors.Is(err, ErrAuditWriteFailed) {
		return st, err
	}
	if st != domain.LicenseStatusValid {
		return st, err
	}
	auditErr := s.audit.Record(ctx, &domain.AuditLogEntry{
		UserID:        &userID,
		EpisodeID:     &episodeID,
		EventType:     domain.EventPlaybackValidated,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		WasSuccessful: true,
	})
	return st, errors.Join(err, auditErr)
}

// Revoke invalidates the license and synchronously evicts any active stream
// for the pair. Idempotent: revoking an already-revoked license succeeds and
// re-runs the eviction; a missing license is a silent no-op.
func (s *LicenseService) Revoke(ctx context.Context, userID, episodeID uint, reason string, meta RequestMeta) error {
	rows, err := s.licenses.Revoke(userID, episodeID, reason, s.now().UTC())
	if err != nil {
		observability.RecordLicenseOperation(ctx, "revoke", "error")
		return fmt.Errorf("revoke license: %w", err)
	}
	if rows == 0 {
		if _, err := s.licenses.FindByUserEpisode(userID, episodeID); err != nil {
			if errors.Is(err, repository.ErrLicenseNotFound) {
				observability.RecordLicenseOperation(ctx, "revoke", "not_found")
				return nil
			}
			return fmt.Errorf("revoke license: %w", err)
		}
		// Already revoked: still an auditable intent, still worth evicting.
	}
	observability.RecordLicenseOperation(ctx, "revoke", "revoked")

	auditErr := s.audit.Record(ctx, &domain.AuditLogEntry{
		UserID:        &userID,
		EpisodeID:     &episodeID,
		EventType:     domain.EventLicenseRevoked,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		Reason:        sptr(reason),
		WasSuccessful: true,
	})

	var evictErr error
	if s.evictor != nil {
		evictErr = s.evictor.EvictAllForLicense(ctx, userID, episodeID, meta)
	}
	return errors.Join(auditErr, evictErr)
}

// AuthorizeDownload gates a download against the license: it must be valid
// and of download type.
func (s *LicenseService) AuthorizeDownload(ctx context.Context, userID, episodeID uint, meta RequestMeta) error {
	lic, err := s.licenses.FindByUserEpisode(userID, episodeID)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			observability.RecordLicenseOperation(ctx, "download_authorize", "not_found")
			return errors.Join(ErrLicenseNotFound, auditWarn(s.recordRejection(ctx, userID, episodeID, meta, "license not found")))
		}
		return fmt.Errorf("find license: %w", err)
	}
	if st := lic.Status(s.now()); st != domain.LicenseStatusValid {
		observability.RecordLicenseOperation(ctx, "download_authorize", string(st))
		return errors.Join(licenseStatusErr(st), auditWarn(s.recordRejection(ctx, userID, episodeID, meta, "license "+string(st))))
	}
	if lic.LicenseType != domain.LicenseTypeDownload {
		observability.RecordLicenseOperation(ctx, "download_authorize", "wrong_type")
		return errors.Join(ErrLicenseDenied, auditWarn(s.recordRejection(ctx, userID, episodeID, meta, "license type not download")))
	}

	observability.RecordLicenseOperation(ctx, "download_authorize", "authorized")
	return s.audit.Record(ctx, &domain.AuditLogEntry{
		UserID:        &userID,
		EpisodeID:     &episodeID,
		DeviceID:      lic.DeviceID,
		EventType:     domain.EventDownloadAuthorized,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		WasSuccessful: true,
	})
}

// CompleteDownload records a client-reported finished download.
func (s *LicenseService) CompleteDownload(ctx context.Context, userID, episodeID uint, meta RequestMeta) error {
	lic, err := s.licenses.FindByUserEpisode(userID, episodeID)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			return ErrLicenseNotFound
		}
		return fmt.Errorf("find license: %w", err)
	}
	observability.RecordLicenseOperation(ctx, "download_complete", "completed")
	return s.audit.Record(ctx, &domain.AuditLogEntry{
		UserID:        &userID,
		EpisodeID:     &episodeID,
		DeviceID:      lic.DeviceID,
		EventType:     domain.EventDownloadCompleted,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		WasSuccessful: true,
	})
}

func (s *LicenseService) recordRejection(ctx context.Context, userID, episodeID uint, meta RequestMeta, reason string) error {
	return s.audit.Record(ctx, &domain.AuditLogEntry{
		UserID:        &userID,
		EpisodeID:     &episodeID,
		EventType:     domain.EventPlaybackRejected,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		Reason:        sptr(reason),
		WasSuccessful: false,
	})
}

func (s *LicenseService) invalidateMissing(ctx context.Context, userID, episodeID uint) {
	if s.missing == nil {
		return
	}
	if err := s.missing.Invalidate(ctx, userID, episodeID); err != nil {
		s.logger.WarnContext(ctx, "license lookup cache invalidation failed", "error", err)
	}
}

func sptr(s string) *string { return &s }
