// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/fms-backend/internal/auth"
	"github.com/yourusername/fms-backend/internal/config"
	"github.com/yourusername/fms-backend/internal/export"
	"github.com/yourusername/fms-backend/internal/jobs"
	"github.com/yourusername/fms-backend/internal/logger"
	"github.com/yourusername/fms-backend/internal/pdf"
	"github.com/yourusername/fms-backend/internal/storage"
	"github.com/yourusername/fms-backend/internal/store"
	"github.com/yourusername/fms-backend/internal/upload"
)

const shutdownTimeout = 10 * time.Second

// app はルーティングに必要な依存関係をまとめます。
type app struct {
	cfg     *config.Config
	db      *store.Store
	files   storage.Store
	auth    *auth.Manager
	exports *export.Service
	// jobs は非同期エクスポートが無効な場合 nil です。
	jobs *jobs.Manager
}

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	logger.Init(cfg.LogLevel)
	log := logger.Default()

	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	files, err := storage.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise storage")
	}

	exports, err := export.NewService(cfg, db, pdf.NewRenderer(), files)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise export service")
	}
	// 再起動で失われた削除タイマーの分を掃除する
	if removed, err := exports.PurgeExpiredJobs(); err != nil {
		log.WithError(err).Warn("failed to purge expired job workspaces")
	} else if removed > 0 {
		log.WithField("removed", removed).Info("purged expired job workspaces")
	}

	a := &app{
		cfg:     cfg,
		db:      db,
		files:   files,
		auth:    auth.NewManager(cfg, db),
		exports: exports,
	}

	if cfg.AsyncExportsEnabled() {
		manager, err := setupJobs(cfg, exports)
		if err != nil {
			log.WithError(err).Fatal("failed to initialise job queue")
		}
		manager.StartWorkers()
		defer manager.Shutdown(context.Background())
		a.jobs = manager
	}

	router, err := newRouter(a)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise router")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":  srv.Addr,
			"mode":  cfg.GinMode,
			"async": a.jobs != nil,
		}).Info("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}

// newRouter はミドルウェアとルートを登録した gin.Engine を返します。
func newRouter(a *app) (*gin.Engine, error) {
	router := gin.New()
	// ログイン試行の制限はクライアントIP単位なので、未設定なら転送ヘッダーを信用しない
	if err := router.SetTrustedProxies(a.cfg.TrustedProxyList()); err != nil {
		return nil, err
	}
	router.Use(logger.Middleware(), gin.Recovery())

	// セッションストアの設定（ブラウザからのダウンロード用）
	sessionStore := cookie.NewStore(a.cfg.SessionKey())
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(a.cfg),
		HttpOnly: true,
		Secure:   a.cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, sessionStore))
	router.Use(cors.New(corsConfig(a.cfg.CORSAllowedOrigins)))

	setupRoutes(router, a)
	return router, nil
}

func corsConfig(allowed string) cors.Config {
	corsCfg := cors.DefaultConfig()
	var origins []string
	for _, o := range strings.Split(allowed, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// ワイルドカードとクレデンシャルは併用できない
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
		corsCfg.AllowCredentials = true
	}
	corsCfg.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token",
	}
	// フロントエンドがダウンロード名と CSRF トークンを読めるように公開
	corsCfg.ExposeHeaders = []string{"X-CSRF-Token", "Content-Disposition", logger.RequestIDHeader}
	return corsCfg
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(db *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(c.Request.Context()); err != nil {
			logger.FromContext(c.Request.Context()).WithError(err).Error("database ping failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func setupRoutes(router *gin.Engine, a *app) {
	router.GET("/health", handleHealth(a.db))

	// ログイン前の操作は CSRF 検証不要
	router.POST("/signup", a.auth.Signup)
	router.POST("/token", a.auth.Login)

	protected := router.Group("")
	protected.Use(a.auth.RequireLogin(), a.auth.VerifyCSRF())
	{
		protected.POST("/logout", a.auth.Logout)
		protected.GET("/me", a.auth.Me)

		uploads := upload.NewHandler(a.files, a.cfg.MaxUploadSize)
		protected.POST("/upload/logo",
			a.auth.RequireRole(auth.RoleAdmin, auth.RoleAccountant),
			uploads.Logo,
		)

		exports := protected.Group("/export")
		for _, kind := range export.Kinds {
			exports.GET("/"+string(kind)+"/:id", export.Handler(a.exports, kind))
		}

		if a.jobs != nil {
			exports.POST("/jobs", export.JobHandler(a.exports, &exportJobScheduler{manager: a.jobs}))
			protected.GET("/jobs/:id", jobStatusHandler(a.jobs))
			protected.GET("/jobs/:id/download", jobDownloadHandler(a.exports))
		}
	}
}
