package repository

import (
	"testing"

	"github.com/streamvault/playback-license-service/internal/domain"
)

func TestAuditListRecentNewestFirst(t *testing.T) {
	repo := NewAuditRepository(newTestDB(t))

	for _, ev := range []domain.EventType{
		domain.EventLicenseGranted,
		domain.EventPlaybackStarted,
		domain.EventPlaybackEnded,
	} {
		if err := repo.Create(&domain.AuditLogEntry{EventType: ev, WasSuccessful: true}); err != nil {
			t.Fatalf("create %s: %v", ev, err)
		}
	}

	entries, err := repo.ListRecent(2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].EventType != domain.EventPlaybackEnded {
		t.Fatalf("first entry = %q, want newest", entries[0].EventType)
	}
	if entries[1].EventType != domain.EventPlaybackStarted {
		t.Fatalf("second entry = %q", entries[1].EventType)
	}
}

func TestAuditMetadataRoundTrip(t *testing.T) {
	repo := NewAuditRepository(newTestDB(t))

	userID := uint(12)
	reason := "concurrent stream limit reached"
	err := repo.Create(&domain.AuditLogEntry{
		UserID:    &userID,
		EventType: domain.EventConcurrentStreamBlocked,
		Metadata: domain.Metadata{
			"max_concurrent_streams": 2,
			"device_platform":        "roku",
		},
		Reason:        &reason,
		WasSuccessful: false,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	entries, err := repo.ListRecent(1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	got := entries[0]
	if got.UserID == nil || *got.UserID != 12 {
		t.Fatalf("user id lost: %+v", got.UserID)
	}
	if got.Metadata["device_platform"] != "roku" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}
	if got.Reason == nil || *got.Reason != reason {
		t.Fatalf("reason lost: %+v", got.Reason)
	}
}
