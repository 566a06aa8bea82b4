package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/fms-backend/internal/auth"
	"github.com/yourusername/fms-backend/internal/config"
	"github.com/yourusername/fms-backend/internal/export"
	"github.com/yourusername/fms-backend/internal/jobs"
	"github.com/yourusername/fms-backend/internal/pdf"
	"github.com/yourusername/fms-backend/internal/storage"
	"github.com/yourusername/fms-backend/internal/store"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	cfg := &config.Config{
		GinMode:            gin.TestMode,
		CORSAllowedOrigins: "*",
		SecretKey:          "test-secret",
		TokenExpireMinutes: 60,
		DatabaseDriver:     "sqlite",
		DatabaseURL:        filepath.Join(root, "fms.db"),
		TemplateDir:        filepath.Join(root, "templates"),
		UploadDir:          filepath.Join(root, "uploads"),
		MaxUploadSize:      1 << 20,
		WorkDir:            filepath.Join(root, "work"),
		Storage:            "local",
		JobExpireMinutes:   10,
	}

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	files, err := storage.New(ctx, cfg)
	require.NoError(t, err)
	exports, err := export.NewService(cfg, db, pdf.NewRenderer(), files)
	require.NoError(t, err)

	return &app{
		cfg:     cfg,
		db:      db,
		files:   files,
		auth:    auth.NewManager(cfg, db),
		exports: exports,
	}
}

func mustRouter(t *testing.T, a *app) *gin.Engine {
	t.Helper()
	router, err := newRouter(a)
	require.NoError(t, err)
	return router
}

func login(t *testing.T, router http.Handler, a *app, email, role string) string {
	t.Helper()
	hash, err := auth.HashPassword("s3cret!")
	require.NoError(t, err)
	_, err = a.db.CreateUser(context.Background(), "Tester", email, hash, role)
	require.NoError(t, err)

	form := url.Values{"username": {email}, "password": {"s3cret!"}}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body["access_token"])
	return body["access_token"]
}

func TestHealth(t *testing.T) {
	a := newTestApp(t)
	router := mustRouter(t, a)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestExportRequiresLogin(t *testing.T) {
	a := newTestApp(t)
	router := mustRouter(t, a)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/export/balances/1", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExportBalancesEndToEnd(t *testing.T) {
	a := newTestApp(t)
	router := mustRouter(t, a)
	_, err := a.db.DB().Exec(`INSERT INTO accounts (account_name, account_type, balance) VALUES ('Cash', 'asset', 1200)`)
	require.NoError(t, err)
	token := login(t, router, a, "viewer@example.com", auth.RoleViewer)

	req := httptest.NewRequest(http.MethodGet, "/export/balances/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="balances-1.pdf"`)
	assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF"))
}

func TestExportEmptyReportsEndToEnd(t *testing.T) {
	a := newTestApp(t)
	router := mustRouter(t, a)
	token := login(t, router, a, "viewer@example.com", auth.RoleViewer)

	for _, path := range []string{"/export/statement/42", "/export/balances/1", "/export/ageing/3"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, "%s: %s", path, w.Body.String())
		assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF"), path)
	}
}

func TestLoginLockoutIgnoresForwardedFor(t *testing.T) {
	a := newTestApp(t)
	router := mustRouter(t, a)
	hash, err := auth.HashPassword("s3cret!")
	require.NoError(t, err)
	_, err = a.db.CreateUser(context.Background(), "Tester", "acc@example.com", hash, auth.RoleAccountant)
	require.NoError(t, err)

	attempt := func(i int) int {
		form := url.Values{"username": {"acc@example.com"}, "password": {"wrong"}}
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusUnauthorized, attempt(i))
	}
	assert.Equal(t, http.StatusTooManyRequests, attempt(5))
}

func TestTrustedProxyForwardedFor(t *testing.T) {
	a := newTestApp(t)
	a.cfg.TrustedProxies = "192.0.2.1"
	router := mustRouter(t, a)
	hash, err := auth.HashPassword("s3cret!")
	require.NoError(t, err)
	_, err = a.db.CreateUser(context.Background(), "Tester", "acc@example.com", hash, auth.RoleAccountant)
	require.NoError(t, err)

	attempt := func(forwarded string) int {
		form := url.Values{"username": {"acc@example.com"}, "password": {"wrong"}}
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", forwarded)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	// httptest のリモートアドレスは 192.0.2.1 なので、転送元ごとに数える
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusUnauthorized, attempt("203.0.113.10"))
	}
	assert.Equal(t, http.StatusTooManyRequests, attempt("203.0.113.10"))
	assert.Equal(t, http.StatusUnauthorized, attempt("203.0.113.11"))
}

func TestUploadRequiresRole(t *testing.T) {
	a := newTestApp(t)
	router := mustRouter(t, a)
	token := login(t, router, a, "viewer@example.com", auth.RoleViewer)

	req := httptest.NewRequest(http.MethodPost, "/upload/logo", strings.NewReader(""))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestJobRoutesDisabledWithoutQueue(t *testing.T) {
	a := newTestApp(t)
	router := mustRouter(t, a)
	token := login(t, router, a, "acc@example.com", auth.RoleAccountant)

	req := httptest.NewRequest(http.MethodPost, "/export/jobs", strings.NewReader(`{"kind":"balances","id":1}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSConfig(t *testing.T) {
	wildcard := corsConfig("*")
	assert.True(t, wildcard.AllowAllOrigins)
	assert.False(t, wildcard.AllowCredentials)

	listed := corsConfig("http://localhost:3000, https://app.example.com")
	assert.False(t, listed.AllowAllOrigins)
	assert.True(t, listed.AllowCredentials)
	assert.Equal(t, []string{"http://localhost:3000", "https://app.example.com"}, listed.AllowOrigins)
}

type stubRecords struct {
	record *jobs.Record
	err    error
}

func (s *stubRecords) GetRecord(ctx context.Context, jobID string) (*jobs.Record, error) {
	return s.record, s.err
}

func asUser(user *store.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user != nil {
			c.Set(auth.ContextUserKey, user)
		}
		c.Next()
	}
}

var (
	alice    = &store.User{ID: 1, Email: "alice@example.com", Role: auth.RoleAccountant}
	mallory  = &store.User{ID: 2, Email: "mallory@example.com", Role: auth.RoleAccountant}
	adminBob = &store.User{ID: 3, Email: "bob@example.com", Role: auth.RoleAdmin}
)

func serveJobStatus(getter jobRecordGetter, user *store.User) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/jobs/:id", asUser(user), jobStatusHandler(getter))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/abc", nil))
	return w
}

func TestJobStatusHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	done := &stubRecords{record: &jobs.Record{
		JobID:       "abc",
		Kind:        export.KindAgeing,
		ID:          7,
		Status:      jobs.StatusSucceeded,
		Progress:    jobs.ProgressInfo{Percent: 100, Stage: export.StageDone},
		DownloadURL: "/jobs/abc/download",
		RequestedBy: alice.Email,
		UpdatedAt:   time.Now(),
	}}
	w := serveJobStatus(done, alice)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "done", body["status"])
	assert.Equal(t, true, body["finished"])
	assert.Equal(t, "/jobs/abc/download", body["downloadUrl"])
	assert.NotContains(t, body, "error")

	w = serveJobStatus(&stubRecords{record: &jobs.Record{JobID: "abc", Status: jobs.StatusRunning, RequestedBy: alice.Email}}, alice)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["finished"])

	w = serveJobStatus(&stubRecords{}, alice)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serveJobStatus(&stubRecords{err: errors.New("redis down")}, alice)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestJobStatusHandlerOwnership(t *testing.T) {
	gin.SetMode(gin.TestMode)
	records := &stubRecords{record: &jobs.Record{JobID: "abc", Status: jobs.StatusQueued, RequestedBy: alice.Email}}

	w := serveJobStatus(records, mallory)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "JOB_NOT_FOUND")

	w = serveJobStatus(records, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serveJobStatus(records, adminBob)
	assert.Equal(t, http.StatusOK, w.Code)

	// 依頼者が記録されていないジョブは管理者のみ
	orphan := &stubRecords{record: &jobs.Record{JobID: "abc", Status: jobs.StatusQueued}}
	assert.Equal(t, http.StatusNotFound, serveJobStatus(orphan, alice).Code)
	assert.Equal(t, http.StatusOK, serveJobStatus(orphan, adminBob).Code)
}

func downloadAs(a *app, user *store.User, jobID string) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/jobs/:id/download", asUser(user), jobDownloadHandler(a.exports))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+jobID+"/download", nil))
	return w
}

func TestJobDownloadHandler(t *testing.T) {
	a := newTestApp(t)
	r := gin.New()
	r.GET("/jobs/:id/download", asUser(alice), jobDownloadHandler(a.exports))

	manifest, err := a.exports.PrepareJob(context.Background(), export.Request{Kind: export.KindBalances, ID: 1}, alice.Email)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+manifest.JobID+"/download", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/not-a-uuid/download", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, err = a.exports.RunJob(context.Background(), manifest.JobID, nil)
	require.NoError(t, err)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+manifest.JobID+"/download", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, manifest.JobID, w.Header().Get("X-Job-Id"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF"))
}

func TestJobDownloadHandlerOwnership(t *testing.T) {
	a := newTestApp(t)
	manifest, err := a.exports.PrepareJob(context.Background(), export.Request{Kind: export.KindBalances, ID: 1}, alice.Email)
	require.NoError(t, err)
	_, err = a.exports.RunJob(context.Background(), manifest.JobID, nil)
	require.NoError(t, err)

	w := downloadAs(a, mallory, manifest.JobID)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "JOB_NOT_FOUND")
	assert.NotContains(t, w.Body.String(), "%PDF")

	assert.Equal(t, http.StatusNotFound, downloadAs(a, nil, manifest.JobID).Code)

	w = downloadAs(a, adminBob, manifest.JobID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF"))
}
