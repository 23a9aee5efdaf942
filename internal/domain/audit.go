package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type EventType string

const (
	EventURLSigned               EventType = "url_signed"
	EventPlaybackStarted         EventType = "playback_started"
	EventPlaybackEnded           EventType = "playback_ended"
	EventPlaybackValidated       EventType = "playback_validated"
	EventPlaybackRejected        EventType = "playback_rejected"
	EventLicenseGranted          EventType = "license_granted"
	EventLicenseRevoked          EventType = "license_revoked"
	EventConcurrentStreamBlocked EventType = "concurrent_stream_blocked"
	EventDownloadAuthorized      EventType = "download_authorized"
	EventDownloadCompleted       EventType = "download_completed"
)

// Metadata is an opaque structured blob stored as JSON text. The engine never
// inspects it after write.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("unsupported metadata column type")
	}
}

// AuditLogEntry is an immutable record of one license or session decision.
// Rows are append-only: nothing in the engine updates or deletes them.
type AuditLogEntry struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        *uint     `gorm:"index" json:"user_id,omitempty"`
	EpisodeID     *uint     `gorm:"index" json:"episode_id,omitempty"`
	DeviceID      *string   `gorm:"size:128" json:"device_id,omitempty"`
	EventType     EventType `gorm:"size:64;index;not null" json:"event_type"`
	IPAddress     string    `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent     string    `gorm:"size:512" json:"user_agent,omitempty"`
	Metadata      Metadata  `gorm:"type:text" json:"metadata,omitempty"`
	Reason        *string   `gorm:"size:255" json:"reason,omitempty"`
	WasSuccessful bool      `gorm:"not null" json:"was_successful"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}
