// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、通知ハブ、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordEntryStarted()
	RecordEntryStopped()
	RecordAutoStop()
	RecordConflictRetry()
	RecordEventPublished()
	RecordEventDropped()
	SetSubscribers(n int)
	RecordWebhookFailure()
	RecordHTTPStatus(statusCode int)
	RecordOperationLatency(operation string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	entriesStarted   prometheus.Counter
	entriesStopped   prometheus.Counter
	autoStops        prometheus.Counter
	conflictRetries  prometheus.Counter
	eventsPublished  prometheus.Counter
	eventsDropped    prometheus.Counter
	subscribers      prometheus.Gauge
	webhookFailures  prometheus.Counter
	httpStatus       *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		entriesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelog_entries_started_total",
			Help: "開始されたエントリの合計数（continueを含む）",
		}),
		entriesStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelog_entries_stopped_total",
			Help: "明示的に停止されたエントリの合計数",
		}),
		autoStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelog_auto_stops_total",
			Help: "開始時に自動停止されたエントリの合計数",
		}),
		conflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelog_active_conflict_retries_total",
			Help: "計測中エントリの一意制約違反による再試行の合計数",
		}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelog_events_published_total",
			Help: "配信した変更イベントの合計数",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelog_events_dropped_total",
			Help: "購読者の遅延により破棄した変更イベントの合計数",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timelog_subscribers",
			Help: "接続中の変更フィード購読者数",
		}),
		webhookFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelog_webhook_failures_total",
			Help: "Webhook送信失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timelog_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timelog_operation_duration_seconds",
			Help:    "ライフサイクル操作の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.entriesStarted,
		c.entriesStopped,
		c.autoStops,
		c.conflictRetries,
		c.eventsPublished,
		c.eventsDropped,
		c.subscribers,
		c.webhookFailures,
		c.httpStatus,
		c.operationLatency,
	)

	return c
}

// RecordEntryStarted はエントリの開始を記録する。
func (c *Collector) RecordEntryStarted() {
	c.entriesStarted.Inc()
}

// RecordEntryStopped はエントリの停止を記録する。
func (c *Collector) RecordEntryStopped() {
	c.entriesStopped.Inc()
}

// RecordAutoStop は開始時の自動停止を記録する。
func (c *Collector) RecordAutoStop() {
	c.autoStops.Inc()
}

// RecordConflictRetry は一意制約違反による再試行を記録する。
func (c *Collector) RecordConflictRetry() {
	c.conflictRetries.Inc()
}

// RecordEventPublished はイベントの配信を記録する。
func (c *Collector) RecordEventPublished() {
	c.eventsPublished.Inc()
}

// RecordEventDropped はイベントの破棄を記録する。
func (c *Collector) RecordEventDropped() {
	c.eventsDropped.Inc()
}

// SetSubscribers は接続中の購読者数を設定する。
func (c *Collector) SetSubscribers(n int) {
	c.subscribers.Set(float64(n))
}

// RecordWebhookFailure はWebhook送信失敗を記録する。
func (c *Collector) RecordWebhookFailure() {
	c.webhookFailures.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordOperationLatency は操作の所要時間を記録する。
func (c *Collector) RecordOperationLatency(operation string, duration time.Duration) {
	c.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordEntryStarted()                           {}
func (Nop) RecordEntryStopped()                           {}
func (Nop) RecordAutoStop()                               {}
func (Nop) RecordConflictRetry()                          {}
func (Nop) RecordEventPublished()                         {}
func (Nop) RecordEventDropped()                           {}
func (Nop) SetSubscribers(int)                            {}
func (Nop) RecordWebhookFailure()                         {}
func (Nop) RecordHTTPStatus(int)                          {}
func (Nop) RecordOperationLatency(string, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
