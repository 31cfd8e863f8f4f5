package logger

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// CronLogger はrobfig/cronのログをslogに流すアダプタ。
// cronの情報ログはノイズが多いためDebugレベルで出力する。
type CronLogger struct {
	Logger *slog.Logger
}

var _ cron.Logger = CronLogger{}

// Info はcronの情報ログをDebugレベルで出力する。
func (l CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Debug("cron: "+msg, keysAndValues...)
}

// Error はcronのエラーログを出力する。ジョブのpanicもここに流れる。
func (l CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]any{slog.String("error", err.Error())}, keysAndValues...)
	l.Logger.Error("cron: "+msg, args...)
}
