package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/streamvault/playback-license-service/internal/domain"
	"github.com/streamvault/playback-license-service/internal/health"
	"github.com/streamvault/playback-license-service/internal/http/handler"
	"github.com/streamvault/playback-license-service/internal/http/router"
	"github.com/streamvault/playback-license-service/internal/repository"
	"github.com/streamvault/playback-license-service/internal/security"
	"github.com/streamvault/playback-license-service/internal/service"
)

type apiEnvelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Warnings []string        `json:"warnings"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testStack struct {
	server *httptest.Server
	jwt    *security.JWTManager
}

func newStack(t *testing.T) *testStack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "integration.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&domain.License{}, &domain.ActiveStream{}, &domain.AuditLogEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	auditLogger := service.NewAuditLogger(repository.NewAuditRepository(db), logger)
	licenses := service.NewLicenseService(
		repository.NewLicenseRepository(db),
		service.AllowAllEntitlements{},
		auditLogger,
		service.NewRedisLicenseLookupCache(redisClient, "license_missing", 30*time.Second),
		time.Hour,
		logger,
	)
	admission := service.NewAdmissionService(
		repository.NewStreamRepository(db),
		licenses,
		auditLogger,
		service.NewRedisUserLocker(redisClient, "admission_lock", 5*time.Second),
		75*time.Second,
		logger,
	)
	licenses.SetEvictor(admission)

	planLimits := map[string]int{"basic": 1, "standard": 2, "premium": 4}
	jwtMgr := security.NewJWTManager("playback-license-service", "playback-clients", "integration-secret")

	mux := router.NewRouter(router.Dependencies{
		LicenseHandler:  handler.NewLicenseHandler(licenses),
		PlaybackHandler: handler.NewPlaybackHandler(admission, func(plan string) int {
			if limit, ok := planLimits[plan]; ok {
				return limit
			}
			return 2
		}),
		AuditHandler: handler.NewAuditHandler(auditLogger, 100),
		JWTManager:   jwtMgr,
		Readiness:    health.NewProbeRunner(health.DatabaseCheck(db), health.RedisCheck(redisClient)),
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testStack{server: server, jwt: jwtMgr}
}

func (s *testStack) viewerToken(t *testing.T, userID uint, deviceID, plan string, scopes ...string) string {
	t.Helper()
	token, err := s.jwt.SignViewerToken(userID, security.DeviceInfo{ID: deviceID, Platform: "test"}, plan, scopes, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (s *testStack) do(t *testing.T, method, path, token string, body any) (int, apiEnvelope) {
	t.Helper()
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.server.URL+path, payload)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("decode response for %s %s: %v", method, path, err)
	}
	return res.StatusCode, env
}

func (s *testStack) startPlayback(t *testing.T, token string, episodeID uint) (int, apiEnvelope) {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/v1/playback/start", token, map[string]any{"episode_id": episodeID})
}

func sessionTokenFrom(t *testing.T, env apiEnvelope) string {
	t.Helper()
	var adm struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.Unmarshal(env.Data, &adm); err != nil {
		t.Fatalf("decode admission: %v", err)
	}
	if adm.SessionToken == "" {
		t.Fatal("admission carries no session token")
	}
	return adm.SessionToken
}

func TestPlaybackLifecycle(t *testing.T) {
	s := newStack(t)
	const episode = uint(301)

	tokenA := s.viewerToken(t, 1, "device-a", "standard")
	tokenB := s.viewerToken(t, 1, "device-b", "standard")
	tokenC := s.viewerToken(t, 1, "device-c", "standard")

	// Playback without a license is rejected up front.
	status, env := s.startPlayback(t, tokenA, episode)
	if status != http.StatusForbidden || env.Error == nil || env.Error.Code != "LICENSE_INVALID" {
		t.Fatalf("unlicensed start: status=%d env=%+v", status, env)
	}

	status, _ = s.do(t, http.MethodPost, "/api/v1/licenses/issue", tokenA, map[string]any{"episode_id": episode})
	if status != http.StatusCreated {
		t.Fatalf("issue license: status=%d", status)
	}

	// Two devices fit the standard plan, the third is blocked.
	status, envA := s.startPlayback(t, tokenA, episode)
	if status != http.StatusCreated {
		t.Fatalf("device-a start: status=%d", status)
	}
	sessionA := sessionTokenFrom(t, envA)

	if status, _ = s.startPlayback(t, tokenB, episode); status != http.StatusCreated {
		t.Fatalf("device-b start: status=%d", status)
	}
	status, env = s.startPlayback(t, tokenC, episode)
	if status != http.StatusConflict || env.Error == nil || env.Error.Code != "CONCURRENT_STREAM_LIMIT" {
		t.Fatalf("device-c start: status=%d env=%+v", status, env)
	}

	// Heartbeats keep the admitted session alive.
	status, _ = s.do(t, http.MethodPost, "/api/v1/playback/heartbeat", tokenA, map[string]any{"session_token": sessionA})
	if status != http.StatusOK {
		t.Fatalf("heartbeat: status=%d", status)
	}

	// Stopping one stream frees the slot for the blocked device.
	status, _ = s.do(t, http.MethodPost, "/api/v1/playback/stop", tokenA, map[string]any{"session_token": sessionA})
	if status != http.StatusOK {
		t.Fatalf("stop: status=%d", status)
	}
	if status, _ = s.startPlayback(t, tokenC, episode); status != http.StatusCreated {
		t.Fatalf("device-c retry: status=%d", status)
	}
}

func TestRevocationCascadesOverHTTP(t *testing.T) {
	s := newStack(t)
	const episode = uint(302)

	viewer := s.viewerToken(t, 2, "tv", "premium")
	operator := s.viewerToken(t, 900, "ops-console", "premium", "licenses:revoke", "audit:read")

	if status, _ := s.do(t, http.MethodPost, "/api/v1/licenses/issue", viewer, map[string]any{"episode_id": episode}); status != http.StatusCreated {
		t.Fatalf("issue: status=%d", status)
	}
	status, env := s.startPlayback(t, viewer, episode)
	if status != http.StatusCreated {
		t.Fatalf("start: status=%d", status)
	}
	session := sessionTokenFrom(t, env)

	// A viewer without the scope cannot revoke.
	status, env = s.do(t, http.MethodPost, "/api/v1/licenses/revoke", viewer, map[string]any{"user_id": 2, "episode_id": episode})
	if status != http.StatusForbidden || env.Error == nil || env.Error.Code != "FORBIDDEN" {
		t.Fatalf("viewer revoke: status=%d env=%+v", status, env)
	}

	status, _ = s.do(t, http.MethodPost, "/api/v1/licenses/revoke", operator, map[string]any{
		"user_id": 2, "episode_id": episode, "reason": "chargeback",
	})
	if status != http.StatusOK {
		t.Fatalf("operator revoke: status=%d", status)
	}

	// The active session died with the license.
	status, env = s.do(t, http.MethodPost, "/api/v1/playback/heartbeat", viewer, map[string]any{"session_token": session})
	if status != http.StatusNotFound || env.Error == nil || env.Error.Code != "SESSION_NOT_FOUND" {
		t.Fatalf("heartbeat after revoke: status=%d env=%+v", status, env)
	}

	// And validation reports the revocation immediately.
	status, env = s.do(t, http.MethodGet, "/api/v1/licenses/validate?episode_id=302", viewer, nil)
	if status != http.StatusOK {
		t.Fatalf("validate: status=%d", status)
	}
	var verdict struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &verdict); err != nil {
		t.Fatalf("decode verdict: %v", err)
	}
	if verdict.Status != "revoked" {
		t.Fatalf("status = %q, want revoked", verdict.Status)
	}

	// The trail captured the whole story and is scope-gated.
	status, env = s.do(t, http.MethodGet, "/api/v1/audit/events", operator, nil)
	if status != http.StatusOK {
		t.Fatalf("audit list: status=%d", status)
	}
	var listing struct {
		Events []struct {
			EventType string `json:"event_type"`
		} `json:"events"`
	}
	if err := json.Unmarshal(env.Data, &listing); err != nil {
		t.Fatalf("decode audit listing: %v", err)
	}
	seen := make(map[string]bool)
	for _, e := range listing.Events {
		seen[e.EventType] = true
	}
	for _, want := range []string{"license_granted", "playback_started", "license_revoked", "playback_rejected"} {
		if !seen[want] {
			t.Fatalf("audit trail missing %q, saw %v", want, seen)
		}
	}
	if status, _ = s.do(t, http.MethodGet, "/api/v1/audit/events", viewer, nil); status != http.StatusForbidden {
		t.Fatalf("viewer audit list: status=%d", status)
	}
}

func TestDownloadFlowOverHTTP(t *testing.T) {
	s := newStack(t)
	const episode = uint(303)
	viewer := s.viewerToken(t, 3, "phone", "basic")

	// A stream license does not authorize downloads.
	if status, _ := s.do(t, http.MethodPost, "/api/v1/licenses/issue", viewer, map[string]any{"episode_id": episode}); status != http.StatusCreated {
		t.Fatalf("issue stream license: status=%d", status)
	}
	status, env := s.do(t, http.MethodPost, "/api/v1/downloads/authorize", viewer, map[string]any{"episode_id": episode})
	if status != http.StatusForbidden || env.Error == nil || env.Error.Code != "DOWNLOAD_DENIED" {
		t.Fatalf("authorize with stream license: status=%d env=%+v", status, env)
	}

	// Re-issuing as a download license upgrades the same row.
	status, _ = s.do(t, http.MethodPost, "/api/v1/licenses/issue", viewer, map[string]any{
		"episode_id": episode, "license_type": "download",
	})
	if status != http.StatusCreated {
		t.Fatalf("issue download license: status=%d", status)
	}
	if status, _ = s.do(t, http.MethodPost, "/api/v1/downloads/authorize", viewer, map[string]any{"episode_id": episode}); status != http.StatusOK {
		t.Fatalf("authorize download: status=%d", status)
	}
	if status, _ = s.do(t, http.MethodPost, "/api/v1/downloads/complete", viewer, map[string]any{"episode_id": episode}); status != http.StatusOK {
		t.Fatalf("complete download: status=%d", status)
	}
}

func TestAuthAndHealthSurface(t *testing.T) {
	s := newStack(t)

	status, env := s.do(t, http.MethodPost, "/api/v1/playback/start", "", map[string]any{"episode_id": 1})
	if status != http.StatusUnauthorized || env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("unauthenticated request: status=%d env=%+v", status, env)
	}

	if status, _ = s.do(t, http.MethodGet, "/health/live", "", nil); status != http.StatusOK {
		t.Fatalf("liveness: status=%d", status)
	}
	if status, _ = s.do(t, http.MethodGet, "/health/ready", "", nil); status != http.StatusOK {
		t.Fatalf("readiness: status=%d", status)
	}
}
