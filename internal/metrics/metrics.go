// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 公開失敗の理由ラベル
const (
	FailureReasonAccount = "account"
	FailureReasonMedia   = "media"
	FailureReasonWrite   = "write"
	FailureReasonCommit  = "commit"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 公開ワーカーとHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordPublishSuccess(scheduledPostID string)
	RecordPublishFailure(scheduledPostID string, reason string)
	RecordPublishSkipped(scheduledPostID string)
	RecordPublishLatency(duration time.Duration)
	SetDueEntries(count int)
	RecordTickDuration(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	publishSuccess prometheus.Counter
	publishFail    *prometheus.CounterVec
	publishSkipped prometheus.Counter
	publishLatency prometheus.Histogram
	dueEntries     prometheus.Gauge
	tickDuration   prometheus.Histogram
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		publishSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedpost_publish_success_total",
			Help: "予約投稿の公開成功の合計数",
		}),
		publishFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedpost_publish_fail_total",
			Help: "予約投稿の公開失敗の合計数（理由別）",
		}, []string{"reason"}),
		publishSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedpost_publish_skipped_total",
			Help: "他の処理に先を越されて公開をスキップした予約投稿の合計数",
		}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "schedpost_publish_latency_seconds",
			Help:    "予約投稿1件の公開処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		dueEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "schedpost_due_entries",
			Help: "直近のティックで検出された公開対象の予約投稿数",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "schedpost_tick_duration_seconds",
			Help:    "ポーラー1ティックの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedpost_http_responses_total",
			Help: "APIのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.publishSuccess,
		c.publishFail,
		c.publishSkipped,
		c.publishLatency,
		c.dueEntries,
		c.tickDuration,
		c.httpStatus,
	)

	return c
}

// RecordPublishSuccess は公開成功を記録する。
func (c *Collector) RecordPublishSuccess(scheduledPostID string) {
	c.publishSuccess.Inc()
}

// RecordPublishFailure は公開失敗を記録する。
func (c *Collector) RecordPublishFailure(scheduledPostID string, reason string) {
	c.publishFail.WithLabelValues(reason).Inc()
}

// RecordPublishSkipped は公開のスキップを記録する。
func (c *Collector) RecordPublishSkipped(scheduledPostID string) {
	c.publishSkipped.Inc()
}

// RecordPublishLatency は公開処理のレイテンシを記録する。
func (c *Collector) RecordPublishLatency(duration time.Duration) {
	c.publishLatency.Observe(duration.Seconds())
}

// SetDueEntries は公開対象の件数を記録する。
func (c *Collector) SetDueEntries(count int) {
	c.dueEntries.Set(float64(count))
}

// RecordTickDuration はティックの所要時間を記録する。
func (c *Collector) RecordTickDuration(duration time.Duration) {
	c.tickDuration.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
