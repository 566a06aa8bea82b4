package export

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const manifestFilename = "manifest.json"

// JobManifest は非同期ジョブの要求内容と成果物を保持します。
type JobManifest struct {
	JobID       string     `json:"jobId"`
	Request     Request    `json:"request"`
	RequestedBy string     `json:"requestedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	Output      *JobOutput `json:"output,omitempty"`
}

// JobOutput はジョブの成果物ファイルの情報です。
type JobOutput struct {
	Filename    string    `json:"filename"`
	Format      Format    `json:"format"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CompletedAt time.Time `json:"completedAt"`
}

func writeManifest(ws workspace, manifest *JobManifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is nil")
	}
	file, err := os.OpenFile(ws.manifestPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(manifest)
}

func loadManifest(ws workspace) (*JobManifest, error) {
	data, err := os.ReadFile(ws.manifestPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest JobManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}
