// Package logger はリクエスト単位のロガーを context 経由で受け渡す仕組みを提供します。
package logger

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKeyRequestLoggerType struct{}

var contextKeyRequestLogger = &contextKeyRequestLoggerType{}

const (
	requestIDLoggerKey = "requestID"
	identityLoggerKey  = "identity"

	// RequestIDHeader はレスポンスに付与するリクエストIDのヘッダー名です。
	RequestIDHeader = "X-Request-Id"
)

// Init はログのフォーマットとレベルを設定します。
func Init(level string) {
	formatter := new(logrus.TextFormatter)
	formatter.TimestampFormat = "2006-01-02 15:04:05"
	formatter.FullTimestamp = true
	logrus.SetFormatter(formatter)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// Default はリクエストIDを持たないロガーを返します。
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithLogger は context にロガーがなければ新しいリクエストID付きのロガーを追加します。
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else if rlog := loggerFromContext(ctx); rlog != nil {
		return ctx, rlog
	}
	rlog := logrus.WithField(requestIDLoggerKey, uuid.NewString())
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

// ContextWithIdentity は認証済みユーザーをロガーのフィールドに追加します。
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	ctx, rlog := ContextWithLogger(ctx)
	return context.WithValue(ctx, contextKeyRequestLogger, rlog.WithField(identityLoggerKey, identity))
}

// WithEntry は指定したロガーを context に格納します。ワーカーなど HTTP 以外の処理で使います。
func WithEntry(ctx context.Context, entry *logrus.Entry) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKeyRequestLogger, entry)
}

// FromContext は context に格納されたロガーを返します。存在しない場合は既定のロガーを返します。
func FromContext(ctx context.Context) *logrus.Entry {
	if rlog := loggerFromContext(ctx); rlog != nil {
		return rlog
	}
	return Default()
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	rlog, ok := ctx.Value(contextKeyRequestLogger).(*logrus.Entry)
	if !ok {
		return nil
	}
	return rlog
}

// Middleware はリクエストごとにロガーを割り当て、完了時にアクセスログを出力します。
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, rlog := ContextWithLogger(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		if id, ok := rlog.Data[requestIDLoggerKey].(string); ok {
			c.Header(RequestIDHeader, id)
		}

		c.Next()

		entry := FromContext(c.Request.Context()).WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.String())
			return
		}
		entry.Info("request completed")
	}
}
