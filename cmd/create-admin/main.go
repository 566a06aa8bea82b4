// Package main は管理者ユーザーを作成するコマンドです。
//
//	go run ./cmd/create-admin -email admin@example.com -password '...'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/yourusername/fms-backend/internal/auth"
	"github.com/yourusername/fms-backend/internal/config"
	"github.com/yourusername/fms-backend/internal/store"
)

type options struct {
	email    string
	password string
	name     string
	role     string
}

func main() {
	var opts options
	flag.StringVar(&opts.email, "email", "", "admin email (required)")
	flag.StringVar(&opts.password, "password", "", "admin password (required)")
	flag.StringVar(&opts.name, "name", "Admin", "display name")
	flag.StringVar(&opts.role, "role", auth.RoleAdmin, "role: admin, accountant or viewer")
	flag.Parse()

	if err := run(opts); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if err := opts.validate(); err != nil {
		flag.Usage()
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	user, err := createUser(ctx, db, opts)
	if err != nil {
		return err
	}

	color.Green("created %s user %s (id=%d)", user.Role, user.Email, user.ID)
	return nil
}

func (o *options) validate() error {
	o.email = strings.TrimSpace(o.email)
	o.role = strings.ToLower(strings.TrimSpace(o.role))
	if o.email == "" || o.password == "" {
		return errors.New("-email and -password are required")
	}
	if !auth.IsKnownRole(o.role) {
		return fmt.Errorf("unknown role %q", o.role)
	}
	return nil
}

func createUser(ctx context.Context, users auth.UserStore, opts options) (*store.User, error) {
	existing, err := users.GetUserByEmail(ctx, opts.email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("user %s already exists", opts.email)
	}

	hash, err := auth.HashPassword(opts.password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	return users.CreateUser(ctx, opts.name, opts.email, hash, opts.role)
}
