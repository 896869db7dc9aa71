// Package app は設定の読み込みと依存関係のワイヤリングを行い、各起動モードを実行する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/timelog/internal/aggregate"
	"github.com/hitoshi/timelog/internal/config"
	"github.com/hitoshi/timelog/internal/database"
	"github.com/hitoshi/timelog/internal/handler"
	"github.com/hitoshi/timelog/internal/logger"
	"github.com/hitoshi/timelog/internal/metrics"
	"github.com/hitoshi/timelog/internal/middleware"
	"github.com/hitoshi/timelog/internal/notify"
	"github.com/hitoshi/timelog/internal/repository"
	"github.com/hitoshi/timelog/internal/security"
	"github.com/hitoshi/timelog/internal/tag"
	"github.com/hitoshi/timelog/internal/timelog"
	"github.com/hitoshi/timelog/internal/worker/cleanup"
)

const (
	shutdownTimeout  = 30 * time.Second
	webhookQueueSize = 256
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数を読み込み、LOG_LEVELに合わせてログを再設定する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// openDatabase はDB接続を開いて疎通を確認する。
// SQLiteは単一ノード構成のため、起動時にマイグレーションも適用する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, database.Driver, error) {
	driver, err := database.DriverFromURL(cfg.DatabaseURL)
	if err != nil {
		return nil, "", err
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}
	if driver == database.DriverSQLite {
		if err := database.MigrateSQLite(db); err != nil {
			db.Close()
			return nil, "", err
		}
	}

	slog.Info("データベースに接続しました", slog.String("driver", string(driver)))
	return db, driver, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, driver, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. 集計の既定値（Config.Loadで検証済み）
	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return fmt.Errorf("invalid default timezone: %w", err)
	}
	weekStart, err := aggregate.ParseWeekday(cfg.DefaultWeekStart)
	if err != nil {
		return fmt.Errorf("invalid default week start: %w", err)
	}

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 4. リポジトリと配信
	stores := repository.NewStores(db, driver)
	log := slog.Default()

	hub := notify.NewHub(cfg.NotifyBufferSize, log, collector)
	publisher := notify.Fanout{hub}
	if cfg.WebhookURL != "" {
		guard := security.NewWebhookGuard()
		if err := guard.ValidateURL(cfg.WebhookURL); err != nil {
			return fmt.Errorf("invalid WEBHOOK_URL: %w", err)
		}
		dispatcher := notify.NewWebhookDispatcher(cfg.WebhookURL, guard.NewClient(cfg.WebhookTimeout), webhookQueueSize, log, collector)
		go dispatcher.Run(ctx)
		publisher = append(publisher, dispatcher)
	}

	// 5. ドメインサービス
	entryService := timelog.NewService(stores.Entries, publisher, collector, log)
	queryService := timelog.NewQueryService(stores.Entries, loc, weekStart)
	tagService := tag.NewService(stores.Entries, stores.LegacyTags)

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitWrite))
	defer rateLimiter.Stop()
	events := handler.NewEventsHandler(hub, cfg.CORSAllowedOrigin, cfg.NotifyKeepAliveInterval, log)

	router := handler.NewRouter(&handler.RouterDeps{
		SessionFinder:     stores.Sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger:         log,
		Metrics:        collector,
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),
		EntryService:   entryService,
		QueryService:   queryService,
		Events:         events,
		TagService:     tagService,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("APIサーバーを起動します", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("APIサーバーを停止しています")
	// ハイジャック済みのWebSocket接続はShutdownの対象外
	events.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("APIサーバーを停止しました")
	return nil
}

// runWorker はワーカーモードで起動する。
// レガシータグのクリーンアップをCLEANUP_INTERVALごとに実行し、ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, driver, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	stores := repository.NewStores(db, driver)
	job := cleanup.NewCleanupJob(stores.LegacyTags, slog.Default())
	job.RetentionDays = cfg.LegacyTagRetentionDays

	slog.Info("ワーカーを起動します",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", cfg.LegacyTagRetentionDays),
	)

	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("ワーカーを停止しました")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("マイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("マイグレーションが完了しました")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	return u.Redacted()
}
