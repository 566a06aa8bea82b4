// Package pdf は帳票をA4のPDFとして組版・出力します。
package pdf

import "strings"

// NoDataLabel は行が無い表の代わりに出力する文言です。
const NoDataLabel = "No data"

// Document は1つのPDF帳票の内容です。
// タイトル、ヘッダー行、任意のロゴ、1つの表から構成されます。
type Document struct {
	Title       string
	HeaderLines []string
	// LogoPath はロゴ画像のローカルパスです。空ならロゴなし。
	LogoPath string
	Columns  []string
	Rows     [][]string
}

// HasData は表に出力する行があるかを返します。
func (d *Document) HasData() bool {
	return d != nil && len(d.Columns) > 0 && len(d.Rows) > 0
}

// normalizedRows は列数に揃えた行を返します。足りないセルは空文字で埋めます。
func (d *Document) normalizedRows() [][]string {
	rows := make([][]string, len(d.Rows))
	for i, row := range d.Rows {
		cells := make([]string, len(d.Columns))
		for j := range cells {
			if j < len(row) {
				cells[j] = strings.TrimSpace(row[j])
			}
		}
		rows[i] = cells
	}
	return rows
}
