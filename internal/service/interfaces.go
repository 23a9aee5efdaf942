package service

import (
	"context"

	"github.com/streamvault/playback-license-service/internal/domain"
)

// RequestMeta carries caller network identity into audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// EntitlementChecker is the external collaborator deciding whether a user may
// hold a license for an episode (plan, purchase, region). The engine only
// consumes the verdict.
type EntitlementChecker interface {
	Entitled(ctx context.Context, userID, episodeID uint) (bool, error)
}

// AllowAllEntitlements grants everything. Dev-profile stand-in until a real
// catalog collaborator is wired.
type AllowAllEntitlements struct{}

func (AllowAllEntitlements) Entitled(context.Context, uint, uint) (bool, error) { return true, nil }

// LicenseValidator is the slice of the license registry that admission needs.
type LicenseValidator interface {
	Validate(ctx context.Context, userID, episodeID uint, meta RequestMeta) (domain.LicenseStatus, error)
}

// StreamEvictor is the slice of the admission controller that revocation
// cascades into.
type StreamEvictor interface {
	EvictAllForLicense(ctx context.Context, userID, episodeID uint, meta RequestMeta) error
}

// UserLocker serializes admission per user across instances.
type UserLocker interface {
	Lock(ctx context.Context, userID uint) (release func(), err error)
}

// LicenseLookupCache short-circuits lookups for licenses known to be absent.
// Only negative results are cached so revocations stay immediately visible.
type LicenseLookupCache interface {
	IsKnownMissing(ctx context.Context, userID, episodeID uint) (bool, error)
	MarkMissing(ctx context.Context, userID, episodeID uint) error
	Invalidate(ctx context.Context, userID, episodeID uint) error
}
