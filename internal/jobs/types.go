// Package jobs は Asynq と Redis を使った非同期エクスポートジョブを管理します。
package jobs

import (
	"time"

	"github.com/yourusername/fms-backend/internal/export"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "done"
	StatusFailed    Status = "error"
)

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	JobID       string         `json:"jobId"`
	Kind        export.Kind    `json:"kind"`
	ID          int64          `json:"id"`
	Format      export.Format  `json:"format"`
	RequestedBy string         `json:"requestedBy,omitempty"`
	Status      Status         `json:"status"`
	Progress    ProgressInfo   `json:"progress"`
	DownloadURL string         `json:"downloadUrl,omitempty"`
	Result      *export.Result `json:"result,omitempty"`
	Error       *ErrorInfo     `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	ExpiresAt   time.Time      `json:"expiresAt"`
}

// Finished はジョブが完了または失敗しているかを返します。
func (r *Record) Finished() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}
