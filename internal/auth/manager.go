// Package auth はユーザー登録・ログイン・トークン検証とロールによる認可を提供します。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/yourusername/fms-backend/internal/config"
	"github.com/yourusername/fms-backend/internal/store"
)

const (
	SessionCookieName = "fms_session"
	sessionKeyToken   = "access_token"
	sessionKeyCSRF    = "csrf_token"

	csrfHeader = "X-CSRF-Token"

	// ContextUserKey は、ハンドラー間でログイン済みユーザーを共有するためのキーです。
	ContextUserKey   = "auth.user"
	contextViaCookie = "auth.via_cookie"
)

// ロール
const (
	RoleAdmin      = "admin"
	RoleAccountant = "accountant"
	RoleViewer     = "viewer"
)

var knownRoles = map[string]bool{
	RoleAdmin:      true,
	RoleAccountant: true,
	RoleViewer:     true,
}

var (
	loginWindow      = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

// UserStore はユーザーの永続化を担います。
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	CreateUser(ctx context.Context, name, email, passwordHash, role string) (*store.User, error)
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	users    UserStore
	tokens   *TokenIssuer
	hash     func(string) (string, error)
	lock     sync.Mutex
	attempts map[string]*attemptState
	now      func() time.Time
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config, users UserStore) *Manager {
	ttl := time.Duration(cfg.TokenExpireMinutes) * time.Minute
	return &Manager{
		users:    users,
		tokens:   NewTokenIssuer([]byte(cfg.SecretKey), ttl),
		hash:     HashPassword,
		attempts: make(map[string]*attemptState),
		now:      time.Now,
	}
}

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds(cfg *config.Config) int {
	return cfg.TokenExpireMinutes * 60
}

func (m *Manager) checkLock(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := m.now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

func (m *Manager) recordFailure(ip string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	state, ok := m.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxLoginAttempts
	}

	remaining := maxLoginAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// IsKnownRole は登録可能なロールかを返します。
func IsKnownRole(role string) bool {
	return knownRoles[role]
}
