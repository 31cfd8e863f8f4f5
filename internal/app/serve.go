package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/schedpost/internal/config"
	"github.com/hitoshi/schedpost/internal/database"
	"github.com/hitoshi/schedpost/internal/handler"
	"github.com/hitoshi/schedpost/internal/metrics"
	"github.com/hitoshi/schedpost/internal/middleware"
	"github.com/hitoshi/schedpost/internal/repository"
	"github.com/hitoshi/schedpost/internal/scheduledpost"
	"github.com/hitoshi/schedpost/internal/security"
)

// shutdownTimeout はシグナル受信後にHTTPサーバーと公開ポーラーの停止を待つ時間。
const shutdownTimeout = 30 * time.Second

func logStartup(l *slog.Logger, cmd Command, port string) {
	l.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", port),
	)
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newAPIHandler はAPIサーバーの全依存関係をワイヤリングしてルーターを返す。
// 返される関数はレートリミッターのクリーンアップを停止する。
func newAPIHandler(cfg *config.Config, db *sql.DB, collector *metrics.Collector, l *slog.Logger) (http.Handler, func()) {
	// 1. リポジトリの初期化
	scheduledPostRepo := repository.NewPostgresScheduledPostRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)
	postRepo := repository.NewPostgresPostRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 2. セキュリティサービスの初期化
	mediaGuard := security.NewMediaGuard(cfg.MediaProbeTimeout)
	sanitizer := security.NewDescriptionSanitizer()

	// 3. ドメインサービスの初期化
	service := scheduledpost.NewService(scheduledPostRepo, userRepo, postRepo, sanitizer, mediaGuard)

	// 4. ルーターの構築（レート制限はreq/min単位の設定から生成する）
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitSchedule),
	)

	deps := &handler.RouterDeps{
		Logger:            l,
		HealthChecker:     db,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		ScheduledPostService: handler.NewScheduledPostServiceAdapter(service),
	}
	if collector != nil {
		deps.StatusRecorder = collector
	}

	return handler.NewRouter(deps), rateLimiter.Stop
}

// newMetricsServer は /metrics と /health を提供するHTTPサーバーを生成する。
func newMetricsServer(port string, gatherer prometheus.Gatherer, checker handler.HealthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(gatherer))
	mux.Handle("/health", handler.NewHealthHandler(checker))
	return &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// signalContext はSIGINTまたはSIGTERMで終了するコンテキストを返す。
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// listen はサーバーをバックグラウンドで起動する。
// 起動に失敗した場合はerrChにエラーを送る。
func listen(server *http.Server, name string, l *slog.Logger, errCh chan<- error) {
	go func() {
		l.Info(name+" starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("%s listen error: %w", name, err)
		}
	}()
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	l.Info("database connection established")

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	router, stopRateLimiter := newAPIHandler(cfg, db, collector, l)
	defer stopRateLimiter()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsServer := newMetricsServer(cfg.MetricsPort, registry, db)

	errCh := make(chan error, 2)
	listen(server, "API server", l, errCh)
	listen(metricsServer, "metrics server", l, errCh)

	var runErr error
	select {
	case <-ctx.Done():
		l.Info("shutting down API server...")
	case runErr = <-errCh:
		l.Error("server stopped unexpectedly", slog.String("error", runErr.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		l.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if runErr != nil {
		return runErr
	}
	l.Info("API server stopped gracefully")
	return nil
}
