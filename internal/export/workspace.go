package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// workspace はジョブごとの作業ディレクトリです。
//
//	<WorkDir>/<jobID>/manifest.json
//	<WorkDir>/<jobID>/in/   取得したロゴ
//	<WorkDir>/<jobID>/out/  成果物
type workspace struct {
	jobID  string
	dir    string
	inDir  string
	outDir string
}

func (w workspace) manifestPath() string {
	return filepath.Join(w.dir, manifestFilename)
}

func (s *Service) workspaceFor(jobID string) workspace {
	dir := filepath.Join(s.workDir, jobID)
	return workspace{
		jobID:  jobID,
		dir:    dir,
		inDir:  filepath.Join(dir, "in"),
		outDir: filepath.Join(dir, "out"),
	}
}

func (s *Service) createWorkspace() (workspace, error) {
	ws := s.workspaceFor(uuid.NewString())
	for _, dir := range []string{ws.inDir, ws.outDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			_ = removeDir(ws.dir)
			return workspace{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
		}
	}
	return ws, nil
}

// validJobID はジョブIDが UUID 形式かを確認します。パス操作に使う前に必ず通します。
func validJobID(jobID string) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return newError("INVALID_INPUT", "jobId must be a UUID", err)
	}
	return nil
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}
