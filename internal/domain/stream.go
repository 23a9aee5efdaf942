package domain

import "time"

// ActiveStream is a live playback session bound to one (user, device) pair.
// The unique index on (user_id, device_id) makes a re-open from the same
// device a replacement, never a duplicate; session_token is globally unique.
type ActiveStream struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"uniqueIndex:idx_streams_user_device;not null" json:"user_id"`
	EpisodeID      uint      `gorm:"index;not null" json:"episode_id"`
	DeviceID       string    `gorm:"size:128;uniqueIndex:idx_streams_user_device;not null" json:"device_id"`
	DeviceName     string    `gorm:"size:255" json:"device_name,omitempty"`
	DevicePlatform string    `gorm:"size:64" json:"device_platform,omitempty"`
	IPAddress      string    `gorm:"size:64" json:"ip_address,omitempty"`
	SessionToken   string    `gorm:"size:64;uniqueIndex;not null" json:"session_token"`
	LastHeartbeat  time.Time `gorm:"index;not null" json:"last_heartbeat"`
	StartedAt      time.Time `gorm:"not null" json:"started_at"`
}
