// Package export は会計データを帳票（PDF/xlsx）として出力します。
package export

import (
	"fmt"
	"strings"

	"github.com/yourusername/fms-backend/internal/sheet"
)

// Kind は帳票の種類です。
type Kind string

const (
	KindInvoice   Kind = "invoice"
	KindQuote     Kind = "quote"
	KindStatement Kind = "statement"
	KindMonthly   Kind = "monthly"
	KindAgeing    Kind = "ageing"
	KindBalances  Kind = "balances"
	KindPayslip   Kind = "payslip"
)

// Kinds は対応している帳票の一覧です。
var Kinds = []Kind{KindInvoice, KindQuote, KindStatement, KindMonthly, KindAgeing, KindBalances, KindPayslip}

// ParseKind は文字列を Kind に変換します。
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", newError("INVALID_KIND", fmt.Sprintf("unknown export kind: %q", s), nil)
}

// Format は出力形式です。
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// ParseFormat は format クエリを解釈します。空の場合は PDF です。
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", newError("INVALID_FORMAT", "format must be pdf or xlsx", nil)
	}
}

// ContentType は形式に対応する Content-Type を返します。
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return sheet.ContentType
	}
	return "application/pdf"
}

// Request は1件の帳票出力要求です。
// ID は帳票によって請求書・見積書・給与明細のID、または顧客IDを表します。
type Request struct {
	Kind   Kind   `json:"kind"`
	ID     int64  `json:"id"`
	Format Format `json:"format"`
	Logo   string `json:"logo,omitempty"`
}

func (r Request) normalize() (Request, error) {
	kind, err := ParseKind(string(r.Kind))
	if err != nil {
		return r, err
	}
	format, err := ParseFormat(string(r.Format))
	if err != nil {
		return r, err
	}
	if r.ID <= 0 {
		return r, newError("INVALID_INPUT", "id must be a positive integer", nil)
	}
	r.Kind = kind
	r.Format = format
	r.Logo = strings.TrimSpace(r.Logo)
	return r, nil
}

// Filename は "<kind>-<id>.<ext>" 形式のファイル名を返します。
func Filename(kind Kind, id int64, format Format) string {
	return fmt.Sprintf("%s-%d.%s", kind, id, format)
}
