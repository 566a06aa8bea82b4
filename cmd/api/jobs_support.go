package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/fms-backend/internal/auth"
	"github.com/yourusername/fms-backend/internal/config"
	"github.com/yourusername/fms-backend/internal/export"
	"github.com/yourusername/fms-backend/internal/jobs"
	"github.com/yourusername/fms-backend/internal/logger"
)

type exportJobScheduler struct {
	manager *jobs.Manager
}

func (s *exportJobScheduler) Schedule(ctx context.Context, manifest *export.JobManifest) error {
	_, err := s.manager.Enqueue(ctx, manifest)
	return err
}

func setupJobs(cfg *config.Config, exports *export.Service) (*jobs.Manager, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opt)
	store := jobs.NewStore(redisClient, time.Duration(cfg.JobExpireMinutes)*time.Minute)
	return jobs.NewManager(cfg, exports, store)
}

// canAccessJob は依頼者本人か管理者の場合に true を返します。
func canAccessJob(c *gin.Context, owner string) bool {
	user := auth.CurrentUser(c)
	if user == nil {
		return false
	}
	return user.Role == auth.RoleAdmin || (owner != "" && user.Email == owner)
}

func jobNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"code":    "JOB_NOT_FOUND",
		"message": "job not found",
	})
}

// jobRecordGetter は状態取得ハンドラーが必要とする jobs.Manager の操作です。
type jobRecordGetter interface {
	GetRecord(ctx context.Context, jobID string) (*jobs.Record, error)
}

func jobStatusHandler(manager jobRecordGetter) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId is required",
			})
			return
		}

		record, err := manager.GetRecord(c.Request.Context(), jobID)
		if err != nil {
			logger.FromContext(c.Request.Context()).WithError(err).Error("failed to load job record")
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "failed to load job status",
			})
			return
		}
		// 他人のジョブは存在を明かさない
		if record == nil || !canAccessJob(c, record.RequestedBy) {
			jobNotFound(c)
			return
		}

		payload := gin.H{
			"jobId":  record.JobID,
			"kind":   record.Kind,
			"id":     record.ID,
			"format": record.Format,
			"status": record.Status,
			"progress": gin.H{
				"percent": record.Progress.Percent,
				"stage":   record.Progress.Stage,
				"message": record.Progress.Message,
			},
			"finished":  record.Finished(),
			"updatedAt": record.UpdatedAt,
			"expiresAt": record.ExpiresAt,
		}
		if record.DownloadURL != "" {
			payload["downloadUrl"] = record.DownloadURL
		}
		if record.Result != nil {
			payload["result"] = record.Result
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}

		c.JSON(http.StatusOK, payload)
	}
}

func jobDownloadHandler(exports *export.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, file, err := exports.OpenResultFile(strings.TrimSpace(c.Param("id")))
		if err != nil {
			var apiErr *export.Error
			switch {
			case errors.As(err, &apiErr):
				c.JSON(apiErr.HTTPStatus(), gin.H{
					"code":    apiErr.Code,
					"message": apiErr.Message,
				})
			case errors.Is(err, fs.ErrNotExist):
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "JOB_RESULT_NOT_FOUND",
					"message": "job result not found",
				})
			default:
				logger.FromContext(c.Request.Context()).WithError(err).Error("failed to open job result")
				c.JSON(http.StatusInternalServerError, gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "failed to open job result",
				})
			}
			return
		}
		defer file.Close()

		if !canAccessJob(c, result.RequestedBy) {
			jobNotFound(c)
			return
		}
		export.StreamResult(c, result, file)
	}
}
