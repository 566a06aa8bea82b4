package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Table はクエリ結果を列名付きの文字列セルとして保持します。
type Table struct {
	Columns []string
	Rows    [][]string
}

// Len は行数を返します。
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex は列名の位置を返します。存在しない場合は -1 です。
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value は指定行・列名のセルを返します。
func (t *Table) Value(row int, column string) string {
	idx := t.ColumnIndex(column)
	if idx < 0 || row < 0 || row >= len(t.Rows) {
		return ""
	}
	return t.Rows[row][idx]
}

// Record は1行分を列名→値のマップとして返します。
func (t *Table) Record(row int) map[string]string {
	if row < 0 || row >= len(t.Rows) {
		return nil
	}
	rec := make(map[string]string, len(t.Columns))
	for i, c := range t.Columns {
		rec[c] = t.Rows[row][i]
	}
	return rec
}

// AddColumn は末尾に列を追加し、各行の値を fill で計算します。
func (t *Table) AddColumn(name string, fill func(row int) string) {
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], fill(i))
	}
}

// scanTable は *sql.Rows を列順を保ったまま Table に変換します。
func scanTable(rows *sql.Rows) (*Table, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	table := &Table{Columns: cols}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		cells := make([]string, len(cols))
		for i, v := range raw {
			cells[i] = formatCell(v)
		}
		table.Rows = append(table.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return table, nil
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 {
			return val.Format("2006-01-02")
		}
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
