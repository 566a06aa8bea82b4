package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/yourusername/fms-backend/internal/logger"
)

// PrepareJob は要求を検証し、ジョブの作業ディレクトリとマニフェストを作成します。
func (s *Service) PrepareJob(ctx context.Context, req Request, requestedBy string) (*JobManifest, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, err
	}

	manifest := &JobManifest{
		JobID:       ws.jobID,
		Request:     req,
		RequestedBy: requestedBy,
		CreatedAt:   s.now().UTC(),
	}
	if err := writeManifest(ws, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}
	return manifest, nil
}

// RunJob はジョブIDに対応する帳票を生成し、成果物を作業ディレクトリに保存します。
// 成果物は jobTTL 経過後に削除されます。
func (s *Service) RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error) {
	if err := validJobID(jobID); err != nil {
		return nil, err
	}
	ws := s.workspaceFor(jobID)

	manifest, err := loadManifest(ws)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}
	reportProgress(reporter, StageLoad, 10)

	result, err := s.export(ctx, manifest.Request, ws.inDir, reporter)
	if err != nil {
		if cleanupErr := removeDir(ws.dir); cleanupErr != nil {
			err = fmt.Errorf("%w (ワークスペースの削除にも失敗しました: %v)", err, cleanupErr)
		}
		return nil, err
	}

	outputPath := filepath.Join(ws.outDir, result.Filename)
	if err := os.WriteFile(outputPath, result.Data, 0o640); err != nil {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("成果物の保存に失敗しました: %w", err)
	}

	manifest.Output = &JobOutput{
		Filename:    result.Filename,
		Format:      result.Format,
		ContentType: result.ContentType,
		Size:        result.Size,
		CompletedAt: s.now().UTC(),
	}
	if err := writeManifest(ws, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	s.scheduleCleanup(ctx, ws)

	result.JobID = jobID
	result.Data = nil
	return result, nil
}

// DiscardJob はジョブの作業ディレクトリを削除します。
func (s *Service) DiscardJob(jobID string) error {
	if err := validJobID(jobID); err != nil {
		return err
	}
	return removeDir(s.workspaceFor(jobID).dir)
}

// OpenResultFile はジョブの成果物を開きます。未完了・期限切れの場合は fs.ErrNotExist を返します。
func (s *Service) OpenResultFile(jobID string) (*Result, *os.File, error) {
	if err := validJobID(jobID); err != nil {
		return nil, nil, err
	}

	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws)
	if err != nil {
		return nil, nil, err
	}
	if manifest.Output == nil {
		return nil, nil, fmt.Errorf("job %s has no output yet: %w", jobID, fs.ErrNotExist)
	}

	file, err := os.Open(filepath.Join(ws.outDir, manifest.Output.Filename))
	if err != nil {
		return nil, nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	return &Result{
		JobID:       jobID,
		Kind:        manifest.Request.Kind,
		ID:          manifest.Request.ID,
		Format:      manifest.Output.Format,
		Filename:    manifest.Output.Filename,
		ContentType: manifest.Output.ContentType,
		Size:        info.Size(),
		RequestedBy: manifest.RequestedBy,
	}, file, nil
}

// PurgeExpiredJobs は作成から jobTTL を過ぎた作業ディレクトリを削除し、削除した数を返します。
// 再起動でタイマーが失われたジョブの掃除に使います。
func (s *Service) PurgeExpiredJobs() (int, error) {
	entries, err := os.ReadDir(s.workDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := s.now().Add(-s.jobTTL)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || validJobID(entry.Name()) != nil {
			continue
		}
		ws := s.workspaceFor(entry.Name())
		created := time.Time{}
		if manifest, err := loadManifest(ws); err == nil {
			created = manifest.CreatedAt
		} else if info, err := entry.Info(); err == nil {
			created = info.ModTime()
		}
		if created.After(cutoff) {
			continue
		}
		if err := removeDir(ws.dir); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *Service) scheduleCleanup(ctx context.Context, ws workspace) {
	if s.jobTTL <= 0 {
		return
	}
	log := logger.FromContext(ctx).WithField("jobId", ws.jobID)
	time.AfterFunc(s.jobTTL, func() {
		if err := removeDir(ws.dir); err != nil {
			log.WithError(err).Warn("failed to remove expired job workspace")
			return
		}
		log.Debug("removed expired job workspace")
	})
}
