package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourusername/fms-backend/internal/config"
	"github.com/yourusername/fms-backend/internal/logger"
	"github.com/yourusername/fms-backend/internal/pdf"
	"github.com/yourusername/fms-backend/internal/sheet"
	"github.com/yourusername/fms-backend/internal/storage"
	"github.com/yourusername/fms-backend/internal/store"
	"github.com/yourusername/fms-backend/internal/upload"
)

// Ledger は帳票に必要な会計データの読み出しを提供します。
type Ledger interface {
	Invoice(ctx context.Context, invoiceID int64) (*store.Invoice, error)
	InvoiceItems(ctx context.Context, invoiceID int64) (*store.Table, error)
	Quote(ctx context.Context, quoteID int64) (*store.Table, error)
	Transactions(ctx context.Context, customerID int64) (*store.Table, error)
	MonthlyTotals(ctx context.Context, customerID int64) (*store.Table, error)
	OpenInvoices(ctx context.Context, customerID int64) (*store.Table, error)
	Accounts(ctx context.Context) (*store.Table, error)
	Payslip(ctx context.Context, payslipID int64) (*store.Table, error)
}

// DocumentRenderer は Document をPDFに変換します。
type DocumentRenderer interface {
	Render(ctx context.Context, doc *pdf.Document) ([]byte, error)
}

// Service は帳票の生成と非同期ジョブの作業領域を管理します。
type Service struct {
	ledger   Ledger
	renderer DocumentRenderer
	sheets   *sheet.Builder
	files    storage.Store
	workDir  string
	jobTTL   time.Duration
	now      func() time.Time
}

// NewService は Service を作成します。
func NewService(cfg *config.Config, ledger Ledger, renderer DocumentRenderer, files storage.Store) (*Service, error) {
	if ledger == nil {
		return nil, errors.New("ledger is nil")
	}
	if renderer == nil {
		return nil, errors.New("renderer is nil")
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}
	return &Service{
		ledger:   ledger,
		renderer: renderer,
		sheets:   sheet.NewBuilder(cfg.TemplateDir),
		files:    files,
		workDir:  cfg.WorkDir,
		jobTTL:   time.Duration(cfg.JobExpireMinutes) * time.Minute,
		now:      time.Now,
	}, nil
}

// Export は帳票を生成して返します。
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	return s.export(ctx, req, "", nil)
}

// export は帳票を生成します。scratchDir が空の場合、ロゴは一時ディレクトリに取得して後で削除します。
func (s *Service) export(ctx context.Context, req Request, scratchDir string, reporter ProgressReporter) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}

	reportProgress(reporter, StageQuery, 20)
	rep, err := s.buildReport(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.Format == FormatXLSX && rep.workbook != nil {
		data, err := rep.workbook()
		switch {
		case err == nil:
			reportProgress(reporter, StageWrite, 80)
			return newResult(req, FormatXLSX, data), nil
		case errors.Is(err, sheet.ErrNoTemplate):
			logger.FromContext(ctx).WithField("kind", req.Kind).Info("no spreadsheet template, falling back to pdf")
		default:
			return nil, fmt.Errorf("xlsxの生成に失敗しました: %w", err)
		}
	}

	reportProgress(reporter, StageRender, 50)
	if req.Logo != "" {
		dir := scratchDir
		if dir == "" {
			tmp, err := os.MkdirTemp(s.workDir, "logo-*")
			if err != nil {
				return nil, fmt.Errorf("一時ディレクトリの作成に失敗しました: %w", err)
			}
			defer removeDir(tmp)
			dir = tmp
		}
		logoPath, err := s.fetchLogo(ctx, dir, req.Logo)
		if err != nil {
			return nil, err
		}
		rep.doc.LogoPath = logoPath
	}

	data, err := s.renderer.Render(ctx, rep.doc)
	if err != nil && rep.doc.LogoPath != "" && ctx.Err() == nil {
		// 読めない画像はロゴなしで出し直す
		logger.FromContext(ctx).WithError(err).Warn("rendering with logo failed, retrying without it")
		rep.doc.LogoPath = ""
		data, err = s.renderer.Render(ctx, rep.doc)
	}
	if err != nil {
		return nil, err
	}
	reportProgress(reporter, StageWrite, 80)
	return newResult(req, FormatPDF, data), nil
}

// fetchLogo はアップロード済みロゴを dir にコピーし、そのパスを返します。
// 名前が不正、または存在しない場合はロゴなしとして空文字を返します。
func (s *Service) fetchLogo(ctx context.Context, dir, name string) (string, error) {
	log := logger.FromContext(ctx).WithField("logo", name)
	if s.files == nil {
		return "", nil
	}
	key, ok := upload.LogoKey(name)
	if !ok {
		log.Warn("ignoring invalid logo name")
		return "", nil
	}

	src, err := s.files.Open(ctx, key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, storage.ErrInvalidKey) {
			log.Info("logo not found, rendering without it")
			return "", nil
		}
		return "", fmt.Errorf("ロゴの取得に失敗しました: %w", err)
	}
	defer src.Close()

	path := filepath.Join(dir, "logo"+strings.ToLower(filepath.Ext(name)))
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("ロゴの保存に失敗しました: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("ロゴの保存に失敗しました: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("ロゴの保存に失敗しました: %w", err)
	}
	return path, nil
}
