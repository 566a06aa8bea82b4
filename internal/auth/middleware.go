package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/fms-backend/internal/logger"
	"github.com/yourusername/fms-backend/internal/store"
)

// RequireLogin はアクセストークンを検証し、ユーザーをコンテキストに設定するミドルウェアを返します。
// トークンは Authorization ヘッダーを優先し、無ければセッションCookieから取り出します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, viaCookie := m.extractToken(c)
		if token == "" {
			unauthorized(c, "UNAUTHORIZED", "Not authenticated")
			return
		}

		claims, err := m.tokens.Parse(token)
		if err != nil {
			if errors.Is(err, ErrMissingClaim) {
				unauthorized(c, "INVALID_TOKEN", "Invalid token payload")
				return
			}
			unauthorized(c, "INVALID_TOKEN", "Invalid authentication credentials")
			return
		}

		user, err := m.users.GetUserByEmail(c.Request.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				unauthorized(c, "USER_NOT_FOUND", "User not found")
				return
			}
			logger.FromContext(c.Request.Context()).WithError(err).Error("user lookup failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "failed to look up user",
			})
			return
		}

		c.Request = c.Request.WithContext(logger.ContextWithIdentity(c.Request.Context(), user.Email))
		c.Set(ContextUserKey, user)
		c.Set(contextViaCookie, viaCookie)
		c.Next()
	}
}

// RequireRole は許可されたロール以外を 403 で拒否するミドルウェアを返します。
// RequireLogin の後に登録してください。
func (m *Manager) RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			unauthorized(c, "UNAUTHORIZED", "Not authenticated")
			return
		}
		if !allowed[user.Role] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "FORBIDDEN",
				"message": "Insufficient permissions",
			})
			return
		}
		c.Next()
	}
}

// VerifyCSRF は Cookie で認証された状態変更リクエストの X-CSRF-Token ヘッダーを検証します。
// Authorization ヘッダーで認証されたリクエストは対象外です。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) || !c.GetBool(contextViaCookie) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "CSRF token is not set",
			})
			return
		}

		received := c.GetHeader(csrfHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": "CSRF token mismatch",
			})
			return
		}

		c.Next()
	}
}

// CurrentUser は RequireLogin が設定したユーザーを返します。
func CurrentUser(c *gin.Context) *store.User {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*store.User)
	return user
}

func (m *Manager) extractToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token), false
		}
		return "", false
	}

	session := sessions.Default(c)
	token, _ := session.Get(sessionKeyToken).(string)
	return token, token != ""
}

func unauthorized(c *gin.Context, code, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    code,
		"message": message,
	})
}
