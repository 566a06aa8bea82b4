package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// User は users テーブルの1行です。
type User struct {
	ID           int64  `json:"user_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
}

// GetUserByEmail はメールアドレスでユーザーを取得します。
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, name, email, password_hash, role FROM users WHERE email = $1`,
		email,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// CreateUser はユーザーを登録し、保存された行を返します。
func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash, role string) (*User, error) {
	if _, err := s.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	u := User{Name: name, Email: email, PasswordHash: passwordHash, Role: role}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (name, email, password_hash, role) VALUES ($1, $2, $3, $4) RETURNING user_id`,
		name, email, passwordHash, role,
	).Scan(&u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// modernc.org/sqlite はエラー文字列に制約名を含める
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
