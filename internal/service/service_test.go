package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/streamvault/playback-license-service/internal/domain"
	"github.com/streamvault/playback-license-service/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires the services against a throwaway sqlite database so tests
// exercise the real repositories and their unique indexes.
type harness struct {
	db        *gorm.DB
	licenses  *LicenseService
	admission *AdmissionService
	sweeper   *HeartbeatSweeper
	streams   repository.StreamRepository
	audit     repository.AuditRepository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "service.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&domain.License{}, &domain.ActiveStream{}, &domain.AuditLogEntry{}); err != nil {
		t.Fatalf("migrate test schema: %v", err)
	}

	logger := testLogger()
	licenseRepo := repository.NewLicenseRepository(db)
	streamRepo := repository.NewStreamRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	auditLogger := NewAuditLogger(auditRepo, logger)

	staleWindow := 75 * time.Second
	licenses := NewLicenseService(licenseRepo, AllowAllEntitlements{}, auditLogger, nil, time.Hour, logger)
	admission := NewAdmissionService(streamRepo, licenses, auditLogger, nil, staleWindow, logger)
	licenses.SetEvictor(admission)
	sweeper := NewHeartbeatSweeper(streamRepo, auditLogger, time.Second, staleWindow, logger)

	return &harness{
		db:        db,
		licenses:  licenses,
		admission: admission,
		sweeper:   sweeper,
		streams:   streamRepo,
		audit:     auditRepo,
	}
}

func (h *harness) issue(t *testing.T, userID, episodeID uint, licenseType domain.LicenseType) {
	t.Helper()
	_, err := h.licenses.Issue(context.Background(), IssueRequest{
		UserID:      userID,
		EpisodeID:   episodeID,
		LicenseType: licenseType,
	})
	if err != nil {
		t.Fatalf("issue license %d/%d: %v", userID, episodeID, err)
	}
}

func (h *harness) eventsOfType(t *testing.T, eventType domain.EventType) []domain.AuditLogEntry {
	t.Helper()
	entries, err := h.audit.ListRecent(1000)
	if err != nil {
		t.Fatalf("list audit entries: %v", err)
	}
	var matched []domain.AuditLogEntry
	for _, e := range entries {
		if e.EventType == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

type denyAllEntitlements struct{}

func (denyAllEntitlements) Entitled(context.Context, uint, uint) (bool, error) { return false, nil }

// memoryLookupCache is an in-process LicenseLookupCache double that records
// its traffic.
type memoryLookupCache struct {
	mu      sync.Mutex
	missing map[[2]uint]bool
	marks   int
	hits    int
}

func newMemoryLookupCache() *memoryLookupCache {
	return &memoryLookupCache{missing: make(map[[2]uint]bool)}
}

func (c *memoryLookupCache) IsKnownMissing(_ context.Context, userID, episodeID uint) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.missing[[2]uint{userID, episodeID}] {
		c.hits++
		return true, nil
	}
	return false, nil
}

func (c *memoryLookupCache) MarkMissing(_ context.Context, userID, episodeID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missing[[2]uint{userID, episodeID}] = true
	c.marks++
	return nil
}

func (c *memoryLookupCache) Invalidate(_ context.Context, userID, episodeID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.missing, [2]uint{userID, episodeID})
	return nil
}
