package auth

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/fms-backend/internal/logger"
	"github.com/yourusername/fms-backend/internal/store"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// loginRequest は OAuth2 パスワードフロー（フォーム）と JSON の両方を受け付けます。
type loginRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

// Signup は POST /signup のハンドラーです。
func (m *Manager) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "request body must be JSON",
		})
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "email and password required",
		})
		return
	}
	if req.Name == "" {
		req.Name = "User"
	}
	if req.Role == "" {
		req.Role = RoleAccountant
	}
	if !IsKnownRole(req.Role) {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_ROLE",
			"message": "role must be one of admin, accountant, viewer",
		})
		return
	}

	hash, err := m.hash(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "failed to hash password",
		})
		return
	}

	user, err := m.users.CreateUser(c.Request.Context(), req.Name, req.Email, hash, req.Role)
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "USER_EXISTS",
				"message": "user already exists",
			})
			return
		}
		logger.FromContext(c.Request.Context()).WithError(err).Error("signup failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "failed to create user",
		})
		return
	}

	logger.FromContext(c.Request.Context()).WithField("email", user.Email).Info("user signed up")
	c.JSON(http.StatusCreated, user)
}

// Login は POST /token のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "username and password required",
		})
		return
	}

	ip := c.ClientIP()
	if retryAfter := m.checkLock(ip); retryAfter > 0 {
		// Retry-After は秒数で返す。切り捨てると解除前に再試行させてしまう
		c.Header("Retry-After", strconv.FormatInt(int64(math.Ceil(retryAfter.Seconds())), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "too many failed attempts, try again later",
		})
		return
	}

	user, err := m.users.GetUserByEmail(c.Request.Context(), req.Username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.FromContext(c.Request.Context()).WithError(err).Error("user lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "failed to look up user",
		})
		return
	}
	if user == nil || !VerifyPassword(user.PasswordHash, req.Password) {
		remaining := m.recordFailure(ip)
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           "Incorrect username or password",
			"remainingAttempts": remaining,
		})
		return
	}

	m.resetAttempts(ip)

	token, err := m.tokens.Issue(user.Email, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "failed to issue access token",
		})
		return
	}

	csrf, err := generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "failed to generate CSRF token",
		})
		return
	}

	// ブラウザのダウンロードリンク用にトークンをセッションCookieにも保存する
	session := sessions.Default(c)
	session.Set(sessionKeyToken, token)
	session.Set(sessionKeyCSRF, csrf)
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "failed to save session",
		})
		return
	}

	c.Header(csrfHeader, csrf)
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
	})
}

// Logout は POST /logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "failed to clear session",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// Me は GET /me のハンドラーです。
func (m *Manager) Me(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "Not authenticated",
		})
		return
	}
	c.JSON(http.StatusOK, user)
}
