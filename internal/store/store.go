// Package store はユーザーと会計データを保持するリレーショナルストアへのアクセスを提供します。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/yourusername/fms-backend/internal/logger"
)

var (
	// ErrNotFound は対象のレコードが存在しないことを表します。
	ErrNotFound = errors.New("record not found")
	// ErrUserExists は同じメールアドレスのユーザーが既に存在することを表します。
	ErrUserExists = errors.New("user already exists")
)

// Driver はデータベースドライバーの種別です。
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Store は database/sql の上に構築したデータアクセス層です。
type Store struct {
	db     *sql.DB
	driver Driver
}

// Open はドライバーと接続先を受け取り、スキーマを作成した Store を返します。
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d := Driver(driver)
	switch d {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if d == DriverSQLite {
		// SQLite は単一ライターのため接続を1本に絞る
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	s := &Store{db: db, driver: d}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.FromContext(ctx).WithField("driver", d).Info("database ready")
	return s, nil
}

// DB は内部の *sql.DB を返します（テストやCLIからの投入用）。
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close はデータベース接続を閉じます。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping は接続確認を行います。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) createSchema(ctx context.Context) error {
	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	user_id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL DEFAULT 'User',
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'accountant'
);

CREATE TABLE IF NOT EXISTS customers (
	customer_id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT,
	address TEXT
);

CREATE TABLE IF NOT EXISTS invoices (
	invoice_id INTEGER PRIMARY KEY AUTOINCREMENT,
	customer_id INTEGER NOT NULL,
	date TEXT NOT NULL,
	total REAL NOT NULL DEFAULT 0,
	balance_due REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_invoices_customer ON invoices(customer_id);

CREATE TABLE IF NOT EXISTS invoice_items (
	item_id INTEGER PRIMARY KEY AUTOINCREMENT,
	invoice_id INTEGER NOT NULL REFERENCES invoices(invoice_id) ON DELETE CASCADE,
	description TEXT NOT NULL,
	quantity REAL NOT NULL DEFAULT 1,
	unit_price REAL NOT NULL DEFAULT 0,
	total REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice ON invoice_items(invoice_id);

CREATE TABLE IF NOT EXISTS quotes (
	quote_id INTEGER PRIMARY KEY AUTOINCREMENT,
	customer_id INTEGER NOT NULL,
	date TEXT NOT NULL,
	valid_until TEXT,
	total REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'draft'
);

CREATE TABLE IF NOT EXISTS transactions (
	transaction_id INTEGER PRIMARY KEY AUTOINCREMENT,
	customer_id INTEGER NOT NULL,
	date TEXT NOT NULL,
	description TEXT,
	amount REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id);

CREATE TABLE IF NOT EXISTS accounts (
	account_id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_name TEXT NOT NULL,
	account_type TEXT NOT NULL,
	balance REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS payslips (
	payslip_id INTEGER PRIMARY KEY AUTOINCREMENT,
	employee_id INTEGER NOT NULL,
	period_start TEXT NOT NULL,
	period_end TEXT NOT NULL,
	gross_salary REAL NOT NULL DEFAULT 0,
	total_deductions REAL NOT NULL DEFAULT 0,
	net_salary REAL NOT NULL DEFAULT 0
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	user_id SERIAL PRIMARY KEY,
	name TEXT NOT NULL DEFAULT 'User',
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'accountant'
);

CREATE TABLE IF NOT EXISTS customers (
	customer_id SERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT,
	address TEXT
);

CREATE TABLE IF NOT EXISTS invoices (
	invoice_id SERIAL PRIMARY KEY,
	customer_id INTEGER NOT NULL,
	date TEXT NOT NULL,
	total NUMERIC(14,2) NOT NULL DEFAULT 0,
	balance_due NUMERIC(14,2) NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_invoices_customer ON invoices(customer_id);

CREATE TABLE IF NOT EXISTS invoice_items (
	item_id SERIAL PRIMARY KEY,
	invoice_id INTEGER NOT NULL REFERENCES invoices(invoice_id) ON DELETE CASCADE,
	description TEXT NOT NULL,
	quantity NUMERIC(14,2) NOT NULL DEFAULT 1,
	unit_price NUMERIC(14,2) NOT NULL DEFAULT 0,
	total NUMERIC(14,2) NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice ON invoice_items(invoice_id);

CREATE TABLE IF NOT EXISTS quotes (
	quote_id SERIAL PRIMARY KEY,
	customer_id INTEGER NOT NULL,
	date TEXT NOT NULL,
	valid_until TEXT,
	total NUMERIC(14,2) NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'draft'
);

CREATE TABLE IF NOT EXISTS transactions (
	transaction_id SERIAL PRIMARY KEY,
	customer_id INTEGER NOT NULL,
	date TEXT NOT NULL,
	description TEXT,
	amount NUMERIC(14,2) NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id);

CREATE TABLE IF NOT EXISTS accounts (
	account_id SERIAL PRIMARY KEY,
	account_name TEXT NOT NULL,
	account_type TEXT NOT NULL,
	balance NUMERIC(14,2) NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS payslips (
	payslip_id SERIAL PRIMARY KEY,
	employee_id INTEGER NOT NULL,
	period_start TEXT NOT NULL,
	period_end TEXT NOT NULL,
	gross_salary NUMERIC(14,2) NOT NULL DEFAULT 0,
	total_deductions NUMERIC(14,2) NOT NULL DEFAULT 0,
	net_salary NUMERIC(14,2) NOT NULL DEFAULT 0
);
`
