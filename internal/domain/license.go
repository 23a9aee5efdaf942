package domain

import "time"

type LicenseType string

const (
	LicenseTypeStream   LicenseType = "stream"
	LicenseTypeDownload LicenseType = "download"
)

// LicenseStatus is the outcome of a validity check, reported to callers as a
// typed result rather than an error.
type LicenseStatus string

const (
	LicenseStatusValid    LicenseStatus = "valid"
	LicenseStatusExpired  LicenseStatus = "expired"
	LicenseStatusRevoked  LicenseStatus = "revoked"
	LicenseStatusNotFound LicenseStatus = "not_found"
)

// License grants one user access to one episode. At most one row exists per
// (user, episode); re-issuing renews the existing row in place.
type License struct {
	ID               uint        `gorm:"primaryKey" json:"id"`
	UserID           uint        `gorm:"uniqueIndex:idx_licenses_user_episode;not null" json:"user_id"`
	EpisodeID        uint        `gorm:"uniqueIndex:idx_licenses_user_episode;not null" json:"episode_id"`
	DeviceID         *string     `gorm:"size:128" json:"device_id,omitempty"`
	LicenseType      LicenseType `gorm:"size:16;not null" json:"license_type"`
	IsValid          bool        `gorm:"not null" json:"is_valid"`
	ExpiresAt        *time.Time  `gorm:"index" json:"expires_at,omitempty"`
	RevokedAt        *time.Time  `gorm:"index" json:"revoked_at,omitempty"`
	RevocationReason *string     `gorm:"size:255" json:"revocation_reason,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Status evaluates validity at the given instant. Revocation wins over
// expiry so that an expired-then-revoked license reports Revoked.
func (l *License) Status(now time.Time) LicenseStatus {
	switch {
	case l.RevokedAt != nil || !l.IsValid:
		return LicenseStatusRevoked
	case l.ExpiresAt != nil && !l.ExpiresAt.After(now):
		return LicenseStatusExpired
	default:
		return LicenseStatusValid
	}
}
