// Package sheet は xlsx テンプレートへの差し込みと表形式のワークブック生成を行います。
package sheet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrNoTemplate はテンプレートが見つからないことを表します。
var ErrNoTemplate = errors.New("sheet: template not found")

// ContentType は xlsx の Content-Type です。
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var invoiceTemplatePatterns = []string{
	"*invoice*.xlsx",
	"*Invoice*.xlsx",
	"*service*.xlsx",
	"*trading*.xlsx",
}

const (
	payslipTemplateName = "payslip_template.xlsx"

	// 明細行の開始行（1-based）
	invoiceItemsStartRow = 10
)

// PayslipFields は給与明細テンプレートの B2..B8 に書き込む列の順序です。
var PayslipFields = []string{
	"payslip_id",
	"employee_id",
	"period_start",
	"period_end",
	"gross_salary",
	"total_deductions",
	"net_salary",
}

// InvoiceItemFields は明細行の A..D 列に書き込む列の順序です。
var InvoiceItemFields = []string{"description", "quantity", "unit_price", "total"}

// Invoice はテンプレートに差し込む請求書の内容です。
type Invoice struct {
	ID         string
	CustomerID string
	Date       string
	// Items は InvoiceItemFields の順に並んだ明細行です。
	Items [][]string
}

// Builder はテンプレートディレクトリを基にワークブックを作成します。
type Builder struct {
	templateDir string
}

// NewBuilder は Builder を作成します。
func NewBuilder(templateDir string) *Builder {
	return &Builder{templateDir: templateDir}
}

// InvoiceTemplate は請求書テンプレートのパスを返します。
// パターンの順に探し、最初に見つかったファイルを使います。
func (b *Builder) InvoiceTemplate() (string, error) {
	for _, pattern := range invoiceTemplatePatterns {
		matches, err := filepath.Glob(filepath.Join(b.templateDir, pattern))
		if err != nil {
			return "", fmt.Errorf("searching template: %w", err)
		}
		for _, m := range matches {
			// Excel の一時ファイル（~$xxx.xlsx）は除外
			if strings.HasPrefix(filepath.Base(m), "~$") {
				continue
			}
			return m, nil
		}
	}
	return "", ErrNoTemplate
}

// Invoice は請求書テンプレートの有効シートに値を書き込み、xlsx のバイト列を返します。
func (b *Builder) Invoice(inv Invoice) ([]byte, error) {
	path, err := b.InvoiceTemplate()
	if err != nil {
		return nil, err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening template %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	cells := []struct {
		cell  string
		value string
	}{
		{"B1", inv.ID},
		{"B2", inv.CustomerID},
		{"B3", inv.Date},
	}
	for _, c := range cells {
		if err := f.SetCellValue(sheet, c.cell, cellValue(c.value)); err != nil {
			return nil, fmt.Errorf("writing %s: %w", c.cell, err)
		}
	}

	for i, item := range inv.Items {
		row := invoiceItemsStartRow + i
		for col := 0; col < len(InvoiceItemFields) && col < len(item); col++ {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, cellValue(item[col])); err != nil {
				return nil, fmt.Errorf("writing %s: %w", cell, err)
			}
		}
	}

	return writeBytes(f)
}

// Payslip は給与明細テンプレートの B2..B8 に値を書き込みます。
// values は PayslipFields をキーとするマップです。
func (b *Builder) Payslip(values map[string]string) ([]byte, error) {
	path := filepath.Join(b.templateDir, payslipTemplateName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoTemplate
		}
		return nil, fmt.Errorf("checking template: %w", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening template %s: %w", payslipTemplateName, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	for i, field := range PayslipFields {
		cell := "B" + strconv.Itoa(i+2)
		if err := f.SetCellValue(sheet, cell, cellValue(values[field])); err != nil {
			return nil, fmt.Errorf("writing %s: %w", cell, err)
		}
	}

	return writeBytes(f)
}

// Table は見出し行（太字）とデータ行からなる新しいワークブックを作成します。
func (b *Builder) Table(title string, columns []string, rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(title)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("creating style: %w", err)
	}

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if len(columns) > 0 {
		last, err := excelize.CoordinatesToCellName(len(columns), 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
			return nil, fmt.Errorf("styling header: %w", err)
		}
	}

	for i, row := range rows {
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = cellValue(v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	return writeBytes(f)
}

func writeBytes(f *excelize.File) ([]byte, error) {
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// cellValue は数値として解釈できる値を数値のまま書き込めるよう変換します。
func cellValue(s string) any {
	if s == "" {
		return ""
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "eEnN") {
		return f
	}
	return s
}

// sheetName は Excel のシート名として使える文字列にします（31文字まで、禁止文字は除去）。
func sheetName(title string) string {
	replacer := strings.NewReplacer(":", " ", "\\", " ", "/", " ", "?", " ", "*", " ", "[", " ", "]", " ")
	name := strings.TrimSpace(replacer.Replace(title))
	if name == "" {
		return "Sheet1"
	}
	runes := []rune(name)
	if len(runes) > 31 {
		name = strings.TrimSpace(string(runes[:31]))
	}
	return name
}
