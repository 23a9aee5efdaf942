package service

import (
	"errors"

	"github.com/streamvault/playback-license-service/internal/domain"
)

// Expected, user-visible outcomes. These are decisions, not infrastructure
// faults; anything else bubbling out of a service is a storage error.
var (
	ErrLicenseNotFound          = errors.New("license not found")
	ErrLicenseExpired           = errors.New("license expired")
	ErrLicenseRevoked           = errors.New("license revoked")
	ErrLicenseDenied            = errors.New("license denied")
	ErrConcurrencyLimitExceeded = errors.New("concurrent stream limit exceeded")
	ErrSessionNotFound          = errors.New("session not found")
	ErrAuditWriteFailed         = errors.New("audit write failed")
)

func licenseStatusErr(st domain.LicenseStatus) error {
	switch st {
	case domain.LicenseStatusExpired:
		return ErrLicenseExpired
	case domain.LicenseStatusRevoked:
		return ErrLicenseRevoked
	default:
		return ErrLicenseNotFound
	}
}

// auditWarn keeps an audit-write failure attached to an otherwise decided
// outcome while discarding nil.
func auditWarn(err error) error {
	if err == nil || !errors.Is(err, ErrAuditWriteFailed) {
		return nil
	}
	return err
}
