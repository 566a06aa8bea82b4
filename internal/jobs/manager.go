package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/fms-backend/internal/config"
	"github.com/yourusername/fms-backend/internal/export"
	"github.com/yourusername/fms-backend/internal/logger"
)

const (
	taskTypeExport = "export:render"
	queueName      = "exports"
)

// Runner はジョブIDから帳票を生成します。export.Service が実装します。
type Runner interface {
	RunJob(ctx context.Context, jobID string, reporter export.ProgressReporter) (*export.Result, error)
}

type recordStore interface {
	Get(ctx context.Context, jobID string) (*Record, error)
	Upsert(ctx context.Context, record *Record) error
	UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error
	MarkDone(ctx context.Context, jobID string, downloadURL string, result *export.Result) error
	MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	cfg    *config.Config
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	store  recordStore
	runner Runner
	log    *logrus.Entry
}

// TaskPayload はエクスポートジョブのペイロードです。
type TaskPayload struct {
	JobID string      `json:"jobId"`
	Kind  export.Kind `json:"kind"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, runner Runner, store *Store) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	log := logger.Default().WithField("component", "jobs")
	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger: log,
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:    cfg,
		client: client,
		server: server,
		mux:    mux,
		store:  store,
		runner: runner,
		log:    log,
	}
	mux.HandleFunc(taskTypeExport, manager.handleExportTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.log.WithError(err).Error("asynq server stopped")
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// Enqueue はジョブを記録し、キューに投入します。
func (m *Manager) Enqueue(ctx context.Context, manifest *export.JobManifest) (string, error) {
	if manifest == nil {
		return "", fmt.Errorf("manifest is nil")
	}
	if manifest.JobID == "" {
		return "", fmt.Errorf("manifest.JobID is required")
	}

	record := &Record{
		JobID:       manifest.JobID,
		Kind:        manifest.Request.Kind,
		ID:          manifest.Request.ID,
		Format:      manifest.Request.Format,
		RequestedBy: manifest.RequestedBy,
		Status:      StatusQueued,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   export.StageQueued,
		},
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}

	body, err := json.Marshal(TaskPayload{JobID: manifest.JobID, Kind: manifest.Request.Kind})
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(taskTypeExport, body, asynq.Queue(queueName))
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(1), asynq.TaskID(manifest.JobID))
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// GetRecord はジョブ情報を取得します。存在しない場合は nil を返します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

func (m *Manager) handleExportTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.JobID == "" {
		return fmt.Errorf("%w: missing jobId in payload", asynq.SkipRetry)
	}

	log := m.log.WithField("jobId", payload.JobID).WithField("kind", payload.Kind)
	ctx = logger.WithEntry(ctx, log)

	if err := m.setRunning(ctx, payload.JobID); err != nil {
		return err
	}

	result, err := m.runner.RunJob(ctx, payload.JobID, func(stage string, percent int) {
		if err := m.store.UpdateProgress(ctx, payload.JobID, ProgressInfo{
			Stage:   stage,
			Percent: percent,
		}); err != nil {
			log.WithError(err).Warn("failed to update progress")
		}
	})
	if err != nil {
		log.WithError(err).Warn("export job failed")
		return m.failJobWithError(ctx, payload.JobID, err)
	}
	log.WithField("filename", result.Filename).Info("export job finished")
	return m.finishJob(ctx, payload.JobID, result)
}

func (m *Manager) setRunning(ctx context.Context, jobID string) error {
	record, err := m.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if record == nil {
		// 期限切れ等で記録が消えている場合は作り直す
		record = &Record{JobID: jobID}
	}
	record.Status = StatusRunning
	record.Progress = ProgressInfo{Percent: 0, Stage: export.StageLoad}
	return m.store.Upsert(ctx, record)
}

func (m *Manager) finishJob(ctx context.Context, jobID string, result *export.Result) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}
	return m.store.MarkDone(ctx, jobID, m.buildDownloadURL(result), result)
}

func (m *Manager) failJob(ctx context.Context, jobID, code, message string) error {
	return m.store.MarkFailed(ctx, jobID, &ErrorInfo{
		Code:    code,
		Message: message,
	})
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) error {
	var apiErr *export.Error
	if errors.As(err, &apiErr) {
		return m.failJob(ctx, jobID, apiErr.Code, apiErr.Message)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return m.failJob(ctx, jobID, "REQUEST_CANCELED", "export was canceled")
	}
	return m.failJob(ctx, jobID, "INTERNAL_ERROR", "export failed")
}

func (m *Manager) buildDownloadURL(result *export.Result) string {
	base := m.cfg.JobResultBaseURL
	if base == "" {
		return fmt.Sprintf("/jobs/%s/download", result.JobID)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), result.JobID, url.PathEscape(result.Filename))
}
