package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/schedpost/internal/config"
	"github.com/hitoshi/schedpost/internal/metrics"
	"github.com/hitoshi/schedpost/internal/repository"
	"github.com/hitoshi/schedpost/internal/security"
	"github.com/hitoshi/schedpost/internal/worker/cleanup"
	"github.com/hitoshi/schedpost/internal/worker/publish"
)

// newRedisClient はREDIS_ADDRが設定されている場合にRedisクライアントを生成し、疎通を確認する。
// 未設定の場合は nil を返す。
func newRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// newTickLocker はRedisクライアントがあればRedisのリース、なければリースなしのTickLockerを返す。
func newTickLocker(client *redis.Client, cfg *config.Config, l *slog.Logger) publish.TickLocker {
	if client == nil {
		return publish.NewNoopTickLocker()
	}
	return publish.NewRedisTickLocker(client, publish.DefaultTickLockKey, cfg.TickLeaseTTL, l)
}

// newPoller は公開ポーラーとその依存関係をワイヤリングする。
func newPoller(cfg *config.Config, db *sql.DB, locker publish.TickLocker, collector metrics.MetricsCollector, l *slog.Logger) *publish.Poller {
	scheduledPostRepo := repository.NewPostgresScheduledPostRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)

	// 投稿の作成は予約投稿の行ロックを保持しているトランザクション上で行う
	targetFactory := func(tx repository.DBTX) publish.PublishTarget {
		return repository.NewPostgresPostRepo(tx)
	}

	var prober publish.MediaProber
	if cfg.MediaProbeEnabled {
		prober = security.NewMediaGuard(cfg.MediaProbeTimeout)
	}

	publisher := publish.NewPublisher(
		scheduledPostRepo, userRepo, targetFactory, prober, collector, l,
		publish.PublisherConfig{
			MaxConcurrency: cfg.PublishMaxConcurrent,
			Timeout:        cfg.PublishTimeout,
		},
	)

	return publish.NewPoller(
		publish.NewScanner(scheduledPostRepo), publisher, locker, collector, l, cfg.PollInterval,
	)
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、公開ポーラーとセッションのクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信すると、実行中のティックの完了を待って停止する。
func runWorker(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	// 1. DB接続
	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	l.Info("database connection established (worker)")

	// 2. ティックのリース
	redisClient, err := newRedisClient(ctx, cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		l.Info("redis tick lease enabled",
			slog.String("redis_addr", cfg.RedisAddr),
			slog.Duration("lease_ttl", cfg.TickLeaseTTL),
		)
	}
	locker := newTickLocker(redisClient, cfg, l)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	metricsServer := newMetricsServer(cfg.MetricsPort, registry, db)
	errCh := make(chan error, 1)
	listen(metricsServer, "metrics server", l, errCh)

	// 4. セッションのクリーンアップジョブ
	cleanupJob := cleanup.NewSessionCleanupJob(db, l)
	housekeeping, err := cleanupJob.Start(ctx, cfg.SessionCleanupSchedule)
	if err != nil {
		return err
	}

	// 5. 公開ポーラーの起動
	poller := newPoller(cfg, db, locker, collector, l)

	l.Info("worker starting",
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Int("max_concurrent", cfg.PublishMaxConcurrent),
		slog.Bool("media_probe_enabled", cfg.MediaProbeEnabled),
	)

	// 起動直後に1回実行し、停止中に期限を迎えた予約投稿を拾う
	if err := poller.RunOnce(context.WithoutCancel(ctx)); err != nil {
		l.Error("initial publish tick failed", slog.String("error", err.Error()))
	}
	if err := poller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}

	var runErr error
	select {
	case <-ctx.Done():
		l.Info("shutting down worker...")
	case runErr = <-errCh:
		l.Error("metrics server stopped unexpectedly", slog.String("error", runErr.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := poller.Stop(shutdownCtx); err != nil {
		l.Error("poller did not stop in time", slog.String("error", err.Error()))
	}
	select {
	case <-housekeeping.Stop().Done():
	case <-shutdownCtx.Done():
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		l.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if runErr != nil {
		return runErr
	}
	l.Info("worker stopped gracefully")
	return nil
}
