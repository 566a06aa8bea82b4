// Package storage はアップロードファイルの保存先を抽象化します。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/fms-backend/internal/config"
)

// ErrInvalidKey はベースディレクトリの外を指すキーに対するエラーです。
var ErrInvalidKey = errors.New("storage: invalid key")

// Store はキー単位でファイルを保存・取得します。
// Open は存在しないキーに対して fs.ErrNotExist を返します。
type Store interface {
	Save(ctx context.Context, key string, r io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// New は設定に応じたストレージを返します。
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage {
	case "s3":
		return NewS3(ctx, S3Configuration{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			KeyPrefix: cfg.S3KeyPrefix,
			AccessID:  cfg.S3AccessID,
			AccessKey: cfg.S3AccessKey,
		})
	default:
		return NewLocal(cfg.UploadDir)
	}
}

// Local はローカルファイルシステム上のディレクトリに保存します。
type Local struct {
	baseDir string
}

// NewLocal は baseDir を作成して Local を返します。
func NewLocal(baseDir string) (*Local, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &Local{baseDir: abs}, nil
}

// Save は r の内容を key に書き込み、保存先のパスを返します。
func (l *Local) Save(ctx context.Context, key string, r io.Reader) (string, error) {
	path, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}

	// 途中で失敗したファイルを残さないよう一時ファイル経由で置き換える
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("closing file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("renaming file: %w", err)
	}
	return path, nil
}

// Open は key のファイルを開きます。
func (l *Local) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fs.ErrNotExist
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return f, nil
}

func (l *Local) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || filepath.IsAbs(key) {
		return "", ErrInvalidKey
	}
	path := filepath.Join(l.baseDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.baseDir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return path, nil
}
