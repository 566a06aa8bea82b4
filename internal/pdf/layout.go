package pdf

import (
	"math"
	"sort"
	"strconv"
	"unicode/utf8"
)

// A4縦（pt）
const (
	pageWidth    = 595.0
	pageHeight   = 842.0
	marginLeft   = 30.0
	marginRight  = 30.0
	marginTop    = 30.0
	marginBottom = 18.0

	contentWidth = pageWidth - marginLeft - marginRight

	logoWidth  = 100.0
	logoHeight = 50.0

	titleFontSize = 18
	textFontSize  = 10
	tableFontSize = 9
	rowHeight     = 16

	lineSpacing  = 14.0
	blockSpacing = 12.0

	// 1列あたりの最小幅（%）
	minColumnShare = 5
	// 幅計算で1セルとして数える最大文字数
	maxColumnWeight = 40

	// Helvetica の平均字幅（フォントサイズ比）
	averageGlyphWidth = 0.5

	ellipsis = "..."
)

const (
	regularFont = "Helvetica"
	boldFont    = "Helvetica-Bold"

	headerFillColor = "#808080"
	headerTextColor = "#F5F5F5"
	gridColor       = "#000000"
)

// 以下は pdfcpu の JSON 作成フォーマットに対応する構造体です。

type layoutFile struct {
	Paper  string                 `json:"paper"`
	Origin string                 `json:"origin"`
	Pages  map[string]*layoutPage `json:"pages"`
}

type layoutPage struct {
	Content *layoutContent `json:"content"`
}

type layoutContent struct {
	Text  []*textBox  `json:"text,omitempty"`
	Image []*imageBox `json:"image,omitempty"`
	Table []*tableBox `json:"table,omitempty"`
}

type fontSpec struct {
	Name  string `json:"name"`
	Size  int    `json:"size"`
	Color string `json:"col,omitempty"`
}

type borderSpec struct {
	Width int    `json:"width"`
	Color string `json:"col"`
}

type marginSpec struct {
	Width float64 `json:"width"`
}

type textBox struct {
	Value string     `json:"value"`
	Pos   [2]float64 `json:"pos"`
	Width float64    `json:"width,omitempty"`
	Align string     `json:"align,omitempty"`
	Font  *fontSpec  `json:"font"`
}

type imageBox struct {
	Src    string     `json:"src"`
	Pos    [2]float64 `json:"pos"`
	Width  float64    `json:"width"`
	Height float64    `json:"height"`
}

type tableHeader struct {
	Values  []string  `json:"values"`
	Font    *fontSpec `json:"font"`
	FillCol string    `json:"bgCol"`
}

type tableBox struct {
	Pos        [2]float64   `json:"pos"`
	Width      float64      `json:"width"`
	Rows       int          `json:"rows"`
	Cols       int          `json:"cols"`
	ColWidths  []int        `json:"colWidths,omitempty"`
	LineHeight int          `json:"lheight"`
	Font       *fontSpec    `json:"font"`
	Margin     *marginSpec  `json:"margin,omitempty"`
	Border     *borderSpec  `json:"border,omitempty"`
	Grid       bool         `json:"grid"`
	Header     *tableHeader `json:"header,omitempty"`
	Values     [][]string   `json:"values"`
}

// compose は Document をページ単位のレイアウトに組みます。
// 表は入りきらない分を次ページへ送り、各ページでヘッダー行を繰り返します。
func compose(doc *Document) *layoutFile {
	file := &layoutFile{
		Paper:  "A4P",
		Origin: "UpperLeft",
		Pages:  make(map[string]*layoutPage),
	}

	first := &layoutContent{}
	y := marginTop
	if doc.LogoPath != "" {
		first.Image = append(first.Image, &imageBox{
			Src:    doc.LogoPath,
			Pos:    [2]float64{marginLeft, y},
			Width:  logoWidth,
			Height: logoHeight,
		})
		y += logoHeight + blockSpacing
	}

	first.Text = append(first.Text, &textBox{
		Value: doc.Title,
		Pos:   [2]float64{marginLeft, y},
		Width: contentWidth,
		Align: "center",
		Font:  &fontSpec{Name: boldFont, Size: titleFontSize},
	})
	y += titleFontSize + blockSpacing

	for _, line := range doc.HeaderLines {
		first.Text = append(first.Text, &textBox{
			Value: line,
			Pos:   [2]float64{marginLeft, y},
			Font:  &fontSpec{Name: regularFont, Size: textFontSize},
		})
		y += lineSpacing
	}
	if len(doc.HeaderLines) > 0 {
		y += blockSpacing
	}

	if !doc.HasData() {
		first.Table = append(first.Table, noDataTable(y))
		file.Pages["1"] = &layoutPage{Content: first}
		return file
	}

	widths := columnWidths(doc.Columns, doc.Rows)
	limits := cellLimits(widths)
	header := truncateRow(doc.Columns, limits)
	rows := doc.normalizedRows()

	chunks := paginate(rows, rowsPerPage(y), rowsPerPage(marginTop))
	for i, chunk := range chunks {
		content := first
		top := y
		if i > 0 {
			content = &layoutContent{}
			top = marginTop
		}

		values := make([][]string, len(chunk))
		for j, row := range chunk {
			values[j] = truncateRow(row, limits)
		}
		content.Table = append(content.Table, dataTable(top, widths, header, values))
		file.Pages[strconv.Itoa(i+1)] = &layoutPage{Content: content}
	}

	return file
}

func dataTable(top float64, widths []int, header []string, values [][]string) *tableBox {
	return &tableBox{
		Pos:        [2]float64{marginLeft, top},
		Width:      contentWidth,
		Rows:       len(values),
		Cols:       len(widths),
		ColWidths:  tableColWidths(widths),
		LineHeight: rowHeight,
		Font:       &fontSpec{Name: regularFont, Size: tableFontSize},
		Margin:     &marginSpec{Width: 2},
		Border:     &borderSpec{Width: 1, Color: gridColor},
		Grid:       true,
		Header: &tableHeader{
			Values:  header,
			Font:    &fontSpec{Name: boldFont, Size: tableFontSize, Color: headerTextColor},
			FillCol: headerFillColor,
		},
		Values: values,
	}
}

func noDataTable(top float64) *tableBox {
	return &tableBox{
		Pos:        [2]float64{marginLeft, top},
		Width:      contentWidth,
		Rows:       1,
		Cols:       1,
		LineHeight: rowHeight,
		Font:       &fontSpec{Name: regularFont, Size: tableFontSize},
		Margin:     &marginSpec{Width: 2},
		Border:     &borderSpec{Width: 1, Color: gridColor},
		Grid:       true,
		Values:     [][]string{{NoDataLabel}},
	}
}

// tableColWidths は pdfcpu に渡す列幅を返します。
// pdfcpu の列幅は 0 < w < 100 に限られるため、満たさない場合は指定せず均等割りにします。
func tableColWidths(widths []int) []int {
	if len(widths) < 2 {
		return nil
	}
	for _, w := range widths {
		if w <= 0 || w >= 100 {
			return nil
		}
	}
	return widths
}

// rowsPerPage は top から下余白までに入るデータ行数を返します（ヘッダー行を除く）。
func rowsPerPage(top float64) int {
	n := int(math.Floor((pageHeight-marginBottom-top)/rowHeight)) - 1
	if n < 1 {
		return 1
	}
	return n
}

// paginate は行を1ページ目の容量 first、以降の容量 rest で分割します。
func paginate(rows [][]string, first, rest int) [][][]string {
	if first < 1 {
		first = 1
	}
	if rest < 1 {
		rest = 1
	}
	if len(rows) == 0 {
		return [][][]string{{}}
	}

	var chunks [][][]string
	size := first
	for len(rows) > 0 {
		if size > len(rows) {
			size = len(rows)
		}
		chunks = append(chunks, rows[:size])
		rows = rows[size:]
		size = rest
	}
	return chunks
}

// columnWidths は各列の幅を内容の長さに比例した百分率で返します。
// 合計は必ず 100 になり、列数が許す限り各列は minColumnShare 以上です。
func columnWidths(columns []string, rows [][]string) []int {
	n := len(columns)
	if n == 0 {
		return nil
	}

	if n*minColumnShare > 100 {
		return evenShares(n)
	}

	weights := make([]float64, n)
	var total float64
	for i, col := range columns {
		w := utf8.RuneCountInString(col)
		for _, row := range rows {
			if i < len(row) {
				if l := utf8.RuneCountInString(row[i]); l > w {
					w = l
				}
			}
		}
		if w < 1 {
			w = 1
		}
		if w > maxColumnWeight {
			w = maxColumnWeight
		}
		weights[i] = float64(w)
		total += weights[i]
	}

	spare := float64(100 - n*minColumnShare)
	shares := make([]float64, n)
	for i, w := range weights {
		shares[i] = minColumnShare + spare*w/total
	}
	return roundShares(shares)
}

func evenShares(n int) []int {
	widths := make([]int, n)
	base, rest := 100/n, 100%n
	for i := range widths {
		widths[i] = base
		if i < rest {
			widths[i]++
		}
	}
	return widths
}

// roundShares は最大剰余法で合計 100 の整数に丸めます。
func roundShares(shares []float64) []int {
	widths := make([]int, len(shares))
	sum := 0
	for i, s := range shares {
		widths[i] = int(math.Floor(s))
		sum += widths[i]
	}

	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra := shares[order[a]] - math.Floor(shares[order[a]])
		rb := shares[order[b]] - math.Floor(shares[order[b]])
		return ra > rb
	})
	for i := 0; sum < 100; i = (i + 1) % len(order) {
		widths[order[i]]++
		sum++
	}
	return widths
}

// cellLimits は列幅から各セルに収まるおおよその文字数を返します。
func cellLimits(widths []int) []int {
	limits := make([]int, len(widths))
	glyph := tableFontSize * averageGlyphWidth
	for i, w := range widths {
		pts := contentWidth * float64(w) / 100
		n := int(pts/glyph) - 1
		if n < len(ellipsis)+1 {
			n = len(ellipsis) + 1
		}
		limits[i] = n
	}
	return limits
}

func truncateRow(row []string, limits []int) []string {
	out := make([]string, len(limits))
	for i := range limits {
		if i < len(row) {
			out[i] = truncate(row[i], limits[i])
		}
	}
	return out
}

// truncate は s が max 文字を超える場合に末尾を "..." に置き換えます。
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= len(ellipsis) {
		return ellipsis[:max]
	}
	runes := []rune(s)
	return string(runes[:max-len(ellipsis)]) + ellipsis
}
