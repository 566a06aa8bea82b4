package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/fms-backend/internal/config"
	"github.com/yourusername/fms-backend/internal/export"
	"github.com/yourusername/fms-backend/internal/logger"
)

type memoryRecords struct {
	mu       sync.Mutex
	records  map[string]*Record
	progress []ProgressInfo
}

func newMemoryRecords() *memoryRecords {
	return &memoryRecords{records: map[string]*Record{}}
}

func (m *memoryRecords) Get(ctx context.Context, jobID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[jobID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memoryRecords) Upsert(ctx context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.records[record.JobID] = &cp
	return nil
}

func (m *memoryRecords) update(jobID string, mutate func(*Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	mutate(r)
	return nil
}

func (m *memoryRecords) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	m.mu.Lock()
	m.progress = append(m.progress, progress)
	m.mu.Unlock()
	return m.update(jobID, func(r *Record) { r.Progress = progress })
}

func (m *memoryRecords) MarkDone(ctx context.Context, jobID string, downloadURL string, result *export.Result) error {
	return m.update(jobID, func(r *Record) {
		r.Status = StatusSucceeded
		r.Progress = ProgressInfo{Percent: 100, Stage: export.StageDone}
		r.DownloadURL = downloadURL
		r.Result = result
	})
}

func (m *memoryRecords) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return m.update(jobID, func(r *Record) {
		r.Status = StatusFailed
		r.Error = errInfo
	})
}

type stubRunner struct {
	result *export.Result
	err    error
}

func (s *stubRunner) RunJob(ctx context.Context, jobID string, reporter export.ProgressReporter) (*export.Result, error) {
	reporter(export.StageLoad, 10)
	reporter(export.StageRender, 50)
	if s.err != nil {
		return nil, s.err
	}
	res := *s.result
	res.JobID = jobID
	return &res, nil
}

func newTestManager(runner Runner, baseURL string) (*Manager, *memoryRecords) {
	records := newMemoryRecords()
	return &Manager{
		cfg:    &config.Config{JobResultBaseURL: baseURL},
		store:  records,
		runner: runner,
		log:    logger.Default(),
	}, records
}

func exportTask(t *testing.T, payload TaskPayload) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(taskTypeExport, body)
}

const testJobID = "6f1c1f0e-5a43-4c1b-9d8e-2b7f4f3e9a10"

func TestHandleExportTaskSuccess(t *testing.T) {
	runner := &stubRunner{result: &export.Result{
		Kind:        export.KindStatement,
		ID:          7,
		Format:      export.FormatXLSX,
		Filename:    "statement-7.xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Size:        1024,
	}}
	m, records := newTestManager(runner, "")
	require.NoError(t, records.Upsert(context.Background(), &Record{JobID: testJobID, Kind: export.KindStatement, Status: StatusQueued}))

	err := m.handleExportTask(context.Background(), exportTask(t, TaskPayload{JobID: testJobID, Kind: export.KindStatement}))
	require.NoError(t, err)

	record, err := records.Get(context.Background(), testJobID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, record.Status)
	assert.True(t, record.Finished())
	assert.Equal(t, 100, record.Progress.Percent)
	assert.Equal(t, "/jobs/"+testJobID+"/download", record.DownloadURL)
	require.NotNil(t, record.Result)
	assert.Equal(t, "statement-7.xlsx", record.Result.Filename)
	assert.Equal(t, []ProgressInfo{
		{Stage: export.StageLoad, Percent: 10},
		{Stage: export.StageRender, Percent: 50},
	}, records.progress)
}

func TestHandleExportTaskRecreatesMissingRecord(t *testing.T) {
	runner := &stubRunner{result: &export.Result{Filename: "balances-1.pdf"}}
	m, records := newTestManager(runner, "")

	require.NoError(t, m.handleExportTask(context.Background(), exportTask(t, TaskPayload{JobID: testJobID})))

	record, err := records.Get(context.Background(), testJobID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StatusSucceeded, record.Status)
}

func TestHandleExportTaskRecordsFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    string
		message string
	}{
		{
			name:    "api error",
			err:     &export.Error{Code: "NOT_FOUND", Message: "Invoice not found", Status: 404},
			code:    "NOT_FOUND",
			message: "Invoice not found",
		},
		{
			name:    "canceled",
			err:     fmt.Errorf("render: %w", context.Canceled),
			code:    "REQUEST_CANCELED",
			message: "export was canceled",
		},
		{
			name:    "internal",
			err:     errors.New("disk full"),
			code:    "INTERNAL_ERROR",
			message: "export failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, records := newTestManager(&stubRunner{err: tt.err}, "")
			require.NoError(t, records.Upsert(context.Background(), &Record{JobID: testJobID, Status: StatusQueued}))

			require.NoError(t, m.handleExportTask(context.Background(), exportTask(t, TaskPayload{JobID: testJobID})))

			record, err := records.Get(context.Background(), testJobID)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, record.Status)
			require.NotNil(t, record.Error)
			assert.Equal(t, tt.code, record.Error.Code)
			assert.Equal(t, tt.message, record.Error.Message)
		})
	}
}

func TestHandleExportTaskRejectsBadPayload(t *testing.T) {
	m, _ := newTestManager(&stubRunner{}, "")

	err := m.handleExportTask(context.Background(), asynq.NewTask(taskTypeExport, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = m.handleExportTask(context.Background(), exportTask(t, TaskPayload{}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestBuildDownloadURL(t *testing.T) {
	result := &export.Result{JobID: testJobID, Filename: "invoice 1.pdf"}

	m, _ := newTestManager(nil, "")
	assert.Equal(t, "/jobs/"+testJobID+"/download", m.buildDownloadURL(result))

	m, _ = newTestManager(nil, "https://files.example.com/exports/")
	assert.Equal(t, "https://files.example.com/exports/"+testJobID+"/invoice%201.pdf", m.buildDownloadURL(result))
}

func TestNewManagerValidatesArguments(t *testing.T) {
	_, err := NewManager(nil, &stubRunner{}, &Store{})
	assert.Error(t, err)

	_, err = NewManager(&config.Config{QueueRedisURL: "redis://localhost:6379/0"}, nil, &Store{})
	assert.Error(t, err)

	_, err = NewManager(&config.Config{QueueRedisURL: "redis://localhost:6379/0"}, &stubRunner{}, nil)
	assert.Error(t, err)

	_, err = NewManager(&config.Config{QueueRedisURL: "ftp://nowhere"}, &stubRunner{}, &Store{})
	assert.Error(t, err)
}
