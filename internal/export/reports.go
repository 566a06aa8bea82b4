package export

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourusername/fms-backend/internal/pdf"
	"github.com/yourusername/fms-backend/internal/sheet"
	"github.com/yourusername/fms-backend/internal/store"
)

// PDF上で小数2桁に揃える金額列
var moneyColumns = map[string]bool{
	"unit_price":       true,
	"total":            true,
	"balance_due":      true,
	"amount":           true,
	"balance":          true,
	"gross_salary":     true,
	"total_deductions": true,
	"net_salary":       true,
}

// report は帳票1件分のPDF内容と、xlsx を作る関数の組です。
type report struct {
	doc *pdf.Document
	// workbook が nil の帳票は xlsx に対応しません。
	workbook func() ([]byte, error)
}

func (s *Service) buildReport(ctx context.Context, req Request) (*report, error) {
	switch req.Kind {
	case KindInvoice:
		return s.invoiceReport(ctx, req.ID)
	case KindQuote:
		return s.quoteReport(ctx, req.ID)
	case KindStatement:
		table, err := s.ledger.Transactions(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return s.tableReport(fmt.Sprintf("Statement for Customer %d", req.ID), nil, table), nil
	case KindMonthly:
		table, err := s.ledger.MonthlyTotals(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return s.tableReport(fmt.Sprintf("Monthly summary for %d", req.ID), nil, table), nil
	case KindAgeing:
		table, err := s.ledger.OpenInvoices(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		addAgeing(table, s.now())
		return s.tableReport(fmt.Sprintf("Ageing for %d", req.ID), nil, table), nil
	case KindBalances:
		table, err := s.ledger.Accounts(ctx)
		if err != nil {
			return nil, err
		}
		return s.tableReport("Balances", nil, table), nil
	case KindPayslip:
		return s.payslipReport(ctx, req.ID)
	default:
		return nil, newError("INVALID_KIND", fmt.Sprintf("unknown export kind: %q", req.Kind), nil)
	}
}

func (s *Service) invoiceReport(ctx context.Context, id int64) (*report, error) {
	inv, err := s.ledger.Invoice(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("Invoice not found", err)
		}
		return nil, err
	}
	items, err := s.ledger.InvoiceItems(ctx, id)
	if err != nil {
		return nil, err
	}

	header := []string{
		"Date: " + inv.Date,
		fmt.Sprintf("Customer ID: %d", inv.CustomerID),
	}
	if inv.CustomerName != "" {
		header = append(header, "Customer: "+inv.CustomerName)
	}
	header = append(header,
		"Total: "+formatMoney(inv.Total),
		"Balance due: "+formatMoney(inv.BalanceDue),
	)

	rep := s.tableReport(fmt.Sprintf("Invoice #%d", inv.ID), header, items)
	rep.workbook = func() ([]byte, error) {
		return s.sheets.Invoice(sheet.Invoice{
			ID:         strconv.FormatInt(inv.ID, 10),
			CustomerID: strconv.FormatInt(inv.CustomerID, 10),
			Date:       inv.Date,
			Items:      selectColumns(items, sheet.InvoiceItemFields),
		})
	}
	return rep, nil
}

func (s *Service) quoteReport(ctx context.Context, id int64) (*report, error) {
	table, err := s.ledger.Quote(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("Quote not found", err)
		}
		return nil, err
	}
	return s.tableReport(fmt.Sprintf("Quote #%d", id), nil, table), nil
}

func (s *Service) payslipReport(ctx context.Context, id int64) (*report, error) {
	table, err := s.ledger.Payslip(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("Payslip not found", err)
		}
		return nil, err
	}

	record := table.Record(0)
	rep := s.tableReport(fmt.Sprintf("Payslip #%d", id), nil, table)
	rep.workbook = func() ([]byte, error) {
		return s.sheets.Payslip(record)
	}
	return rep, nil
}

// tableReport は汎用の表形式帳票を作ります。xlsx は見出し付きの新規ワークブックです。
func (s *Service) tableReport(title string, header []string, table *store.Table) *report {
	doc := &pdf.Document{
		Title:       title,
		HeaderLines: header,
		Columns:     table.Columns,
		Rows:        formatMoneyColumns(table),
	}
	return &report{
		doc: doc,
		workbook: func() ([]byte, error) {
			return s.sheets.Table(title, table.Columns, table.Rows)
		},
	}
}

// formatMoneyColumns は金額列を小数2桁に揃えた行のコピーを返します。
func formatMoneyColumns(table *store.Table) [][]string {
	rows := make([][]string, len(table.Rows))
	for i, row := range table.Rows {
		cells := make([]string, len(row))
		copy(cells, row)
		for j, col := range table.Columns {
			if j < len(cells) && moneyColumns[col] {
				cells[j] = formatMoney(cells[j])
			}
		}
		rows[i] = cells
	}
	return rows
}

// formatMoney は数値を小数2桁の文字列にします。数値でなければそのまま返します。
func formatMoney(s string) string {
	if s == "" {
		return s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.StringFixed(2)
}

func selectColumns(table *store.Table, columns []string) [][]string {
	rows := make([][]string, table.Len())
	for i := range rows {
		cells := make([]string, len(columns))
		for j, col := range columns {
			cells[j] = table.Value(i, col)
		}
		rows[i] = cells
	}
	return rows
}

// addAgeing は請求日からの経過日数と区分の列を追加します。
func addAgeing(table *store.Table, now time.Time) {
	days := make([]int, table.Len())
	known := make([]bool, table.Len())
	for i := range days {
		days[i], known[i] = daysOutstanding(table.Value(i, "date"), now)
	}

	table.AddColumn("days_outstanding", func(row int) string {
		if !known[row] {
			return ""
		}
		return strconv.Itoa(days[row])
	})
	table.AddColumn("bucket", func(row int) string {
		if !known[row] {
			return ""
		}
		return ageingBucket(days[row])
	})
}

func daysOutstanding(date string, now time.Time) (int, bool) {
	if len(date) < len("2006-01-02") {
		return 0, false
	}
	issued, err := time.Parse("2006-01-02", date[:10])
	if err != nil {
		return 0, false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := int(today.Sub(issued).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days, true
}

func ageingBucket(days int) string {
	switch {
	case days <= 30:
		return "0-30"
	case days <= 60:
		return "31-60"
	case days <= 90:
		return "61-90"
	default:
		return "90+"
	}
}
