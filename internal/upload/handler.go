// Package upload はロゴ画像のアップロードを扱います。
package upload

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/fms-backend/internal/auth"
	"github.com/yourusername/fms-backend/internal/logger"
	"github.com/yourusername/fms-backend/internal/storage"
)

// LogoPrefix はロゴを保存するキーのプレフィックスです。
const LogoPrefix = "logos/"

// multipart のヘッダー分として許容する余裕
const multipartOverhead = 1 << 20

var allowedLogoTypes = []string{"image/png", "image/jpeg", "image/tiff", "image/webp"}

// Handler はロゴアップロードのハンドラーです。
type Handler struct {
	store   storage.Store
	maxSize int64
}

// NewHandler は Handler を作成します。
func NewHandler(store storage.Store, maxSize int64) *Handler {
	return &Handler{store: store, maxSize: maxSize}
}

// Logo は POST /upload/logo のハンドラーです。
func (h *Handler) Logo(c *gin.Context) {
	user := auth.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "Not authenticated",
		})
		return
	}

	if h.maxSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize+multipartOverhead)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			limitExceeded(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "image must be sent in the multipart field \"file\"",
		})
		return
	}
	if h.maxSize > 0 && fileHeader.Size > h.maxSize {
		limitExceeded(c)
		return
	}

	name, ok := SanitizeFilename(fileHeader.Filename)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "invalid filename",
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondInternal(c, err, "failed to open upload")
		return
	}
	defer file.Close()

	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		respondInternal(c, err, "failed to read upload")
		return
	}
	if !mimetype.EqualsAny(mtype.String(), allowedLogoTypes...) {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "UNSUPPORTED_MEDIA_TYPE",
			"message": "logo must be a PNG, JPEG, TIFF or WebP image",
		})
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		respondInternal(c, err, "failed to read upload")
		return
	}

	// メールアドレスはサインアップ時に形式を検証していないため、キーに入れる前に無害化する
	owner := sanitizeSegment(user.Email)
	if owner == "" {
		owner = "user"
	}
	filename := owner + "_" + name
	location, err := h.store.Save(c.Request.Context(), LogoPrefix+filename, file)
	if err != nil {
		respondInternal(c, err, "failed to store logo")
		return
	}

	logger.FromContext(c.Request.Context()).
		WithField("filename", filename).
		WithField("mime", mtype.String()).
		Info("logo uploaded")

	c.JSON(http.StatusOK, gin.H{
		"filename": filename,
		"path":     location,
	})
}

// SanitizeFilename はクライアントが送ったファイル名からディレクトリ部分と危険な文字を取り除きます。
func SanitizeFilename(name string) (string, bool) {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))

	cleaned := sanitizeSegment(name)
	if cleaned == "" || strings.Trim(cleaned, ".") == "" {
		return "", false
	}
	return cleaned, true
}

// sanitizeSegment はキーの1要素として安全な文字以外を _ に置き換えます。
func sanitizeSegment(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_', r == '@':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// LogoKey はエクスポート時に指定されたロゴ名をストレージのキーに変換します。
func LogoKey(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "/\\") {
		return "", false
	}
	if strings.Trim(name, ".") == "" {
		return "", false
	}
	return LogoPrefix + name, true
}

func limitExceeded(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"code":    "LIMIT_EXCEEDED",
		"message": "uploaded file is too large",
	})
}

func respondInternal(c *gin.Context, err error, message string) {
	logger.FromContext(c.Request.Context()).WithError(err).Error(message)
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "INTERNAL_ERROR",
		"message": message,
	})
}
