package upload

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/fms-backend/internal/auth"
	"github.com/yourusername/fms-backend/internal/storage"
	"github.com/yourusername/fms-backend/internal/store"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func newUploadRouter(t *testing.T, maxSize int64) (*gin.Engine, string) {
	t.Helper()
	return newUploadRouterAs(t, maxSize, "alice@example.com")
}

func newUploadRouterAs(t *testing.T, maxSize int64, email string) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	local, err := storage.NewLocal(dir)
	require.NoError(t, err)

	h := NewHandler(local, maxSize)
	router := gin.New()
	router.POST("/upload/logo", func(c *gin.Context) {
		c.Set(auth.ContextUserKey, &store.User{ID: 1, Email: email, Role: auth.RoleAdmin})
		c.Next()
	}, h.Logo)
	return router, dir
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func postLogo(router *gin.Engine, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/upload/logo", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLogoUpload(t *testing.T) {
	router, dir := newUploadRouter(t, 1<<20)

	body, ct := multipartBody(t, "file", "logo.png", pngHeader)
	rec := postLogo(router, body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "alice@example.com_logo.png", payload["filename"])
	assert.Equal(t, filepath.Join(dir, "logos", "alice@example.com_logo.png"), payload["path"])

	data, err := os.ReadFile(payload["path"])
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
}

func TestLogoUploadStripsDirectories(t *testing.T) {
	router, dir := newUploadRouter(t, 1<<20)

	body, ct := multipartBody(t, "file", "../../evil dir/lo go.png", pngHeader)
	rec := postLogo(router, body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, err := os.Stat(filepath.Join(dir, "logos", "alice@example.com_lo_go.png"))
	assert.NoError(t, err)
}

func TestLogoUploadSanitizesOwnerEmail(t *testing.T) {
	// サインアップはメールアドレスの形式を検証しない
	router, dir := newUploadRouterAs(t, 1<<20, "../../etc/x y@example.com")

	body, ct := multipartBody(t, "file", "logo.png", pngHeader)
	rec := postLogo(router, body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, ".._.._etc_x_y@example.com_logo.png", payload["filename"])
	assert.Equal(t, filepath.Join(dir, "logos", payload["filename"]), payload["path"])

	key, ok := LogoKey(payload["filename"])
	require.True(t, ok)
	assert.Equal(t, LogoPrefix+payload["filename"], key)
}

func TestLogoUploadRejectsNonImage(t *testing.T) {
	router, _ := newUploadRouter(t, 1<<20)

	body, ct := multipartBody(t, "file", "logo.png", []byte("%PDF-1.7\nnot an image"))
	rec := postLogo(router, body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNSUPPORTED_MEDIA_TYPE")
}

func TestLogoUploadTooLarge(t *testing.T) {
	router, _ := newUploadRouter(t, 16)

	body, ct := multipartBody(t, "file", "logo.png", append(pngHeader, make([]byte, 64)...))
	rec := postLogo(router, body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "LIMIT_EXCEEDED")
}

func TestLogoUploadMissingFile(t *testing.T) {
	router, _ := newUploadRouter(t, 1<<20)

	body, ct := multipartBody(t, "other", "logo.png", pngHeader)
	rec := postLogo(router, body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "logo.png", want: "logo.png", ok: true},
		{in: `C:\Users\me\logo.png`, want: "logo.png", ok: true},
		{in: "/tmp/../etc/passwd", want: "passwd", ok: true},
		{in: "my logo (1).png", want: "my_logo__1_.png", ok: true},
		{in: "..", ok: false},
		{in: "", ok: false},
		{in: "dir/", want: "dir", ok: true},
	}
	for _, tt := range tests {
		got, ok := SanitizeFilename(tt.in)
		assert.Equal(t, tt.ok, ok, "in=%q", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, "in=%q", tt.in)
		}
	}
}

func TestLogoKey(t *testing.T) {
	key, ok := LogoKey("alice@example.com_logo.png")
	assert.True(t, ok)
	assert.Equal(t, "logos/alice@example.com_logo.png", key)

	for _, bad := range []string{"", "..", "../x.png", `a\b.png`} {
		_, ok := LogoKey(bad)
		assert.False(t, ok, "name=%q", bad)
	}
}
