package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disableConfigDir sync.Once

// Renderer は Document を pdfcpu で PDF に変換します。
type Renderer struct{}

// NewRenderer は Renderer を作成します。pdfcpu のユーザー設定ディレクトリは使用しません。
func NewRenderer() *Renderer {
	disableConfigDir.Do(pdfapi.DisableConfigDir)
	return &Renderer{}
}

// Render は Document をPDFのバイト列にします。
func (r *Renderer) Render(ctx context.Context, doc *Document) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if doc == nil {
		return nil, fmt.Errorf("document is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(compose(doc))
	if err != nil {
		return nil, fmt.Errorf("レイアウトの生成に失敗しました: %w", err)
	}

	// Configuration は処理中に書き換えられるため呼び出しごとに作る
	conf := model.NewDefaultConfiguration()
	var out bytes.Buffer
	if err := pdfapi.Create(nil, bytes.NewReader(payload), &out, conf); err != nil {
		return nil, fmt.Errorf("PDFの生成に失敗しました: %w", err)
	}
	return out.Bytes(), nil
}
