package cleanup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	applog "github.com/hitoshi/schedpost/internal/logger"
)

// Start はジョブをcron式のスケジュールで定期実行するcronを起動して返す。
// 停止は返されたcronの Stop で行う。ジョブに渡すコンテキストは ctx の値のみ引き継ぐ。
func (j *SessionCleanupJob) Start(ctx context.Context, schedule string) (*cron.Cron, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("クリーンアップのスケジュールが不正です %q: %w", schedule, err)
	}

	base := context.WithoutCancel(ctx)
	logger := applog.CronLogger{Logger: j.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		// エラーは Run 内でログ出力済み
		_ = j.Run(base)
	}))
	c.Start()

	j.logger.Info("セッションクリーンアップジョブをスケジュールしました",
		slog.String("schedule", schedule),
	)
	return c, nil
}
