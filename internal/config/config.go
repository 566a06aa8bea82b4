// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// DefaultSecretKey は開発用の署名鍵です。release モードでは使用できません。
const DefaultSecretKey = "replace-this-with-a-secure-key"

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string `env:"PORT,default=8080"`     // APIサーバーのポート番号
	GinMode string `env:"GIN_MODE,default=debug"` // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=*"` // CORS許可オリジン（カンマ区切り）

	// X-Forwarded-For を信頼するプロキシのIP/CIDR（カンマ区切り、空なら信頼しない）
	TrustedProxies string `env:"TRUSTED_PROXIES"`

	// 認証設定
	SecretKey          string `env:"FMS_SECRET_KEY,default=replace-this-with-a-secure-key"` // JWT署名用の秘密鍵
	TokenExpireMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES,default=1440"`              // アクセストークンの有効期限（分）
	SessionSecret      string `env:"SESSION_SECRET"`                                        // セッションCookie署名用の秘密鍵

	// データベース設定
	DatabaseDriver string `env:"DATABASE_DRIVER,default=sqlite"` // sqlite または postgres
	DatabaseURL    string `env:"DATABASE_URL,default=fms.db"`    // SQLiteのファイルパスまたはPostgreSQLの接続URL

	// ファイル設定
	TemplateDir   string `env:"TEMPLATE_DIR,default=templates"`         // xlsxテンプレートの配置先
	UploadDir     string `env:"UPLOAD_DIR,default=uploads"`             // ローカルストレージの保存先
	MaxUploadSize int64  `env:"MAX_UPLOAD_SIZE,default=10485760"`       // アップロード上限（バイト）
	WorkDir       string `env:"WORK_DIR"`                               // 非同期エクスポートの作業ディレクトリ
	LogLevel      string `env:"LOG_LEVEL,default=info"`                 // logrus のログレベル
	Storage       string `env:"STORAGE_BACKEND,default=local"`          // local または s3
	S3Bucket      string `env:"S3_BUCKET"`                              // S3バケット名
	S3Region      string `env:"S3_REGION,default=ap-northeast-1"`       // S3リージョン
	S3KeyPrefix   string `env:"S3_KEY_PREFIX"`                          // S3キーのプレフィックス
	S3AccessID    string `env:"S3_ACCESS_ID"`                           // 静的クレデンシャル（任意）
	S3AccessKey   string `env:"S3_ACCESS_KEY"`                          // 静的クレデンシャル（任意）

	// ジョブ/キュー設定
	QueueRedisURL    string `env:"QUEUE_REDIS_URL"`                 // Asynq用Redis接続URL（空なら非同期エクスポート無効）
	JobExpireMinutes int    `env:"JOB_EXPIRE_MINUTES,default=10"`   // ジョブの有効期限（分）
	JobResultBaseURL string `env:"JOB_RESULT_BASE_URL"`             // 結果ファイル取得用のベースURL
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{}
	if err := envdecode.Decode(config); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// applyDefaults は envdecode のタグで表現できない既定値を補います。
func (c *Config) applyDefaults() {
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(os.TempDir(), "fms-exports")
	}
	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	if c.TokenExpireMinutes <= 0 {
		c.TokenExpireMinutes = 60 * 24
	}
	if c.JobExpireMinutes <= 0 {
		c.JobExpireMinutes = 10
	}
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres (got %q)", c.DatabaseDriver)
	}

	switch c.Storage {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be local or s3 (got %q)", c.Storage)
	}

	for _, p := range c.TrustedProxyList() {
		if net.ParseIP(p) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(p); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES must contain IPs or CIDRs (got %q)", p)
		}
	}

	if c.SecretKey == "" {
		return fmt.Errorf("FMS_SECRET_KEY must not be empty")
	}

	// 本番環境では開発用の鍵を拒否する
	if c.GinMode == "release" {
		if c.SecretKey == DefaultSecretKey {
			return fmt.Errorf("FMS_SECRET_KEY must be changed in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
	}

	return nil
}

// AsyncExportsEnabled は非同期エクスポート用のキューが設定されているかを返します。
func (c *Config) AsyncExportsEnabled() bool {
	return strings.TrimSpace(c.QueueRedisURL) != ""
}

// TrustedProxyList は TrustedProxies を分割して返します。空の場合は nil です。
func (c *Config) TrustedProxyList() []string {
	var proxies []string
	for _, p := range strings.Split(c.TrustedProxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			proxies = append(proxies, p)
		}
	}
	return proxies
}

// SessionKey はセッションCookieの署名鍵を返します。未設定の場合はJWTの鍵を流用します。
func (c *Config) SessionKey() []byte {
	if c.SessionSecret != "" {
		return []byte(c.SessionSecret)
	}
	return []byte(c.SecretKey)
}
