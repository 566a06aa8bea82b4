package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Invoice は請求書ヘッダーです。金額は精度を保つため文字列で保持します。
type Invoice struct {
	ID           int64
	CustomerID   int64
	CustomerName string
	Date         string
	Total        string
	BalanceDue   string
}

// Invoice は請求書ヘッダーを取得します。
func (s *Store) Invoice(ctx context.Context, invoiceID int64) (*Invoice, error) {
	var (
		inv  Invoice
		name sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT i.invoice_id, i.customer_id, c.name, i.date, i.total, i.balance_due
		FROM invoices i
		LEFT JOIN customers c ON c.customer_id = i.customer_id
		WHERE i.invoice_id = $1`,
		invoiceID,
	).Scan(&inv.ID, &inv.CustomerID, &name, &inv.Date, &inv.Total, &inv.BalanceDue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying invoice: %w", err)
	}
	inv.CustomerName = name.String
	return &inv, nil
}

// InvoiceItems は請求書の明細行を取得します。
func (s *Store) InvoiceItems(ctx context.Context, invoiceID int64) (*Table, error) {
	return s.queryTable(ctx, `
		SELECT description, quantity, unit_price, total
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY item_id`,
		invoiceID,
	)
}

// Quote は見積書1件を取得します。
func (s *Store) Quote(ctx context.Context, quoteID int64) (*Table, error) {
	return s.querySingle(ctx, `
		SELECT quote_id, customer_id, date, valid_until, total, status
		FROM quotes
		WHERE quote_id = $1`,
		quoteID,
	)
}

// Transactions は顧客の取引一覧を日付順に取得します。
func (s *Store) Transactions(ctx context.Context, customerID int64) (*Table, error) {
	return s.queryTable(ctx, `
		SELECT transaction_id, date, description, amount
		FROM transactions
		WHERE customer_id = $1
		ORDER BY date, transaction_id`,
		customerID,
	)
}

// MonthlyTotals は顧客の取引金額を月（YYYY-MM）単位で集計します。
func (s *Store) MonthlyTotals(ctx context.Context, customerID int64) (*Table, error) {
	return s.queryTable(ctx, `
		SELECT substr(date, 1, 7) AS month, SUM(amount) AS total
		FROM transactions
		WHERE customer_id = $1
		GROUP BY substr(date, 1, 7)
		ORDER BY month`,
		customerID,
	)
}

// OpenInvoices は未回収残高のある請求書を取得します。
func (s *Store) OpenInvoices(ctx context.Context, customerID int64) (*Table, error) {
	return s.queryTable(ctx, `
		SELECT invoice_id, date, balance_due
		FROM invoices
		WHERE customer_id = $1 AND balance_due > 0
		ORDER BY date, invoice_id`,
		customerID,
	)
}

// Accounts は勘定科目の一覧を取得します。
func (s *Store) Accounts(ctx context.Context) (*Table, error) {
	return s.queryTable(ctx, `
		SELECT account_name, account_type, balance
		FROM accounts
		ORDER BY account_type, account_name`,
	)
}

// Payslip は給与明細1件を取得します。
func (s *Store) Payslip(ctx context.Context, payslipID int64) (*Table, error) {
	return s.querySingle(ctx, `
		SELECT payslip_id, employee_id, period_start, period_end, gross_salary, total_deductions, net_salary
		FROM payslips
		WHERE payslip_id = $1`,
		payslipID,
	)
}

func (s *Store) queryTable(ctx context.Context, query string, args ...any) (*Table, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying table: %w", err)
	}
	return scanTable(rows)
}

func (s *Store) querySingle(ctx context.Context, query string, args ...any) (*Table, error) {
	table, err := s.queryTable(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if table.Len() == 0 {
		return nil, ErrNotFound
	}
	return table, nil
}
