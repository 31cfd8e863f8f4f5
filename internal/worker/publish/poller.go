package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	applog "github.com/hitoshi/schedpost/internal/logger"
	"github.com/hitoshi/schedpost/internal/metrics"
)

// DefaultPollInterval はポーリング間隔のデフォルト値。
const DefaultPollInterval = time.Minute

// Poller は一定間隔で公開対象の検出と公開を駆動する。
//
// タイマーはPollerが所有する1つのcronインスタンスだけで、
// Start/Stop はプロセスのエントリポイントから明示的に呼び出す。
// 公開対象はストアから毎回導出するため、Pollerは再起動をまたぐ状態を持たない。
type Poller struct {
	scanner   *Scanner
	publisher *Publisher
	locker    TickLocker
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewPoller はPollerの新しいインスタンスを生成する。
// interval が0以下の場合は DefaultPollInterval、locker がnilの場合はリースなしで動作する。
func NewPoller(
	scanner *Scanner,
	publisher *Publisher,
	locker TickLocker,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	interval time.Duration,
) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if locker == nil {
		locker = NewNoopTickLocker()
	}
	return &Poller{
		scanner:   scanner,
		publisher: publisher,
		locker:    locker,
		metrics:   collector,
		logger:    logger,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start はポーリングを開始する。
// 既に実行中の場合は実行中のティックの完了を待って停止し、タイマーを作り直す。
// ctx はティックに渡すコンテキストの親として値のみ引き継ぎ、キャンセルは伝播しない。
// 停止は Stop で行う。
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		p.logger.Info("公開ポーラーを再起動します")
		<-p.cron.Stop().Done()
		p.cron = nil
	}

	base := context.WithoutCancel(ctx)

	logger := applog.CronLogger{Logger: p.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(cron.Every(p.interval), cron.FuncJob(func() { p.tick(base) }))
	c.Start()
	p.cron = c

	p.logger.Info("公開ポーラーを開始しました",
		slog.Duration("interval", p.interval),
	)
	return nil
}

// Stop は新しいティックのスケジュールを止め、実行中のティックの完了を待つ。
// 実行中の公開処理は中断しない。ctx が先に終了した場合は待たずに戻る。
// 停止済みの場合は何もしない。
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		p.logger.Info("公開ポーラーを停止しました")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("実行中のティックの完了待ちを打ち切りました: %w", ctx.Err())
	}
}

// Running はポーリングが実行中かどうかを返す。
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cron != nil
}

// scheduledTicks は登録されているタイマーの数を返す。
func (p *Poller) scheduledTicks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron == nil {
		return 0
	}
	return len(p.cron.Entries())
}

func (p *Poller) tick(ctx context.Context) {
	if err := p.RunOnce(ctx); err != nil {
		p.logger.Error("公開ティックの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は公開対象を1回検出し、並列に公開する。
// 検出に失敗した場合はティックを中止してエラーを返す（次回のティックで再実行される）。
func (p *Poller) RunOnce(ctx context.Context) error {
	start := time.Now()

	release, acquired, err := p.locker.Acquire(ctx)
	if err != nil {
		// リースは重複作業を減らすためだけのものなので、取得できなくても処理を続ける
		p.logger.Warn("ティックのリースを確認できないためリースなしで実行します",
			slog.String("error", err.Error()),
		)
	} else if !acquired {
		p.logger.Debug("他のプロセスがティックを実行中のためスキップします")
		return nil
	} else {
		defer release()
	}

	due, err := p.scanner.FindDue(ctx, p.now())
	if err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.SetDueEntries(len(due))
	}

	if len(due) == 0 {
		p.logger.Debug("公開対象の予約投稿はありません")
		p.recordTick(start)
		return nil
	}

	summary := p.publisher.PublishAll(ctx, due)

	p.logger.Info("公開ティックが完了しました",
		slog.Int("due_count", len(due)),
		slog.Int("published", summary.Published),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("errors", summary.Errors),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	p.recordTick(start)
	return nil
}

func (p *Poller) recordTick(start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordTickDuration(time.Since(start))
	}
}
