package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/fms-backend/internal/auth"
	"github.com/yourusername/fms-backend/internal/logger"
)

// Exporter は帳票を同期生成できるサービスが実装します。
type Exporter interface {
	Export(ctx context.Context, req Request) (*Result, error)
}

// JobService は非同期ジョブの準備と破棄を提供します。
type JobService interface {
	PrepareJob(ctx context.Context, req Request, requestedBy string) (*JobManifest, error)
	DiscardJob(jobID string) error
}

// JobScheduler はジョブを非同期キューに投入するためのインターフェースです。
type JobScheduler interface {
	Schedule(ctx context.Context, manifest *JobManifest) error
}

// Handler は GET /export/<kind>/:id のハンドラーを返します。
// クエリ format（pdf|xlsx）と logo（アップロード済みロゴのファイル名）を受け付けます。
func Handler(svc Exporter, kind Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "id must be a positive integer",
			})
			return
		}

		format, err := ParseFormat(c.Query("format"))
		if err != nil {
			respondWithError(c, err)
			return
		}

		result, err := svc.Export(c.Request.Context(), Request{
			Kind:   kind,
			ID:     id,
			Format: format,
			Logo:   c.Query("logo"),
		})
		if err != nil {
			respondWithError(c, err)
			return
		}

		logger.FromContext(c.Request.Context()).
			WithField("kind", kind).
			WithField("id", id).
			WithField("format", result.Format).
			Info("export generated")

		c.Header("Content-Disposition", attachmentDisposition(result.Filename))
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, result.ContentType, result.Data)
	}
}

// JobHandler は POST /export/jobs のハンドラーを返します。
func JobHandler(svc JobService, scheduler JobScheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "request body must be JSON: {kind, id, format, logo}",
			})
			return
		}

		requestedBy := ""
		if user := auth.CurrentUser(c); user != nil {
			requestedBy = user.Email
		}

		manifest, err := svc.PrepareJob(c.Request.Context(), req, requestedBy)
		if err != nil {
			respondWithError(c, err)
			return
		}

		if err := scheduler.Schedule(c.Request.Context(), manifest); err != nil {
			if cleanupErr := svc.DiscardJob(manifest.JobID); cleanupErr != nil {
				err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
			}
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"jobId": manifest.JobID})
	}
}

// StreamResult は成果物を添付ファイルとして返します。
func StreamResult(c *gin.Context, result *Result, body io.Reader) {
	c.Header("Content-Disposition", attachmentDisposition(result.Filename))
	c.Header("Cache-Control", "no-store")
	if result.JobID != "" {
		c.Header("X-Job-Id", result.JobID)
	}
	c.DataFromReader(http.StatusOK, result.Size, result.ContentType, body, nil)
}

func attachmentDisposition(filename string) string {
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", filename, url.PathEscape(filename))
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		c.JSON(apiErr.HTTPStatus(), gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "request was canceled",
		})
	default:
		logger.FromContext(c.Request.Context()).WithError(err).Error("export failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "internal server error",
		})
	}
}
