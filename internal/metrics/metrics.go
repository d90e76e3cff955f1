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
// 認証ゲート、利用制限、アラート、HTTP層から利用する。
type MetricsCollector interface {
	RecordAuthOutcome(outcome string)
	RecordRateLimitCheck(action string, allowed bool)
	RecordRateLimitBreach(action, window string)
	RecordUsage(action string)
	RecordAlertDelivered(notifier string)
	RecordAlertFailed(notifier string)
	RecordAlertDropped()
	RecordHTTPStatus(statusCode int)
	RecordScanLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authOutcomes   *prometheus.CounterVec
	rateChecks     *prometheus.CounterVec
	rateBreaches   *prometheus.CounterVec
	usageRecorded  *prometheus.CounterVec
	alertDelivered *prometheus.CounterVec
	alertFailed    *prometheus.CounterVec
	alertDropped   prometheus.Counter
	httpStatus     *prometheus.CounterVec
	scanLatency    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keihi_auth_outcomes_total",
			Help: "認証ゲートの判定結果別の件数",
		}, []string{"outcome"}),
		rateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keihi_rate_limit_checks_total",
			Help: "利用制限チェックの件数（アクション・結果別）",
		}, []string{"action", "result"}),
		rateBreaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keihi_rate_limit_breaches_total",
			Help: "利用上限超過の件数（アクション・ウィンドウ別）",
		}, []string{"action", "window"}),
		usageRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keihi_usage_events_recorded_total",
			Help: "記録された利用イベントの件数",
		}, []string{"action"}),
		alertDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keihi_alerts_delivered_total",
			Help: "通知に成功したアラートの件数（通知先別）",
		}, []string{"notifier"}),
		alertFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keihi_alerts_failed_total",
			Help: "通知に失敗したアラートの件数（通知先別）",
		}, []string{"notifier"}),
		alertDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keihi_alerts_dropped_total",
			Help: "キュー満杯により破棄されたアラートの件数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keihi_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		scanLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keihi_receipt_scan_latency_seconds",
			Help:    "レシート読み取りサービスのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.authOutcomes,
		c.rateChecks,
		c.rateBreaches,
		c.usageRecorded,
		c.alertDelivered,
		c.alertFailed,
		c.alertDropped,
		c.httpStatus,
		c.scanLatency,
	)

	return c
}

// RecordAuthOutcome は認証ゲートの判定結果を記録する。
func (c *Collector) RecordAuthOutcome(outcome string) {
	c.authOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRateLimitCheck は利用制限チェックの結果を記録する。
func (c *Collector) RecordRateLimitCheck(action string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	c.rateChecks.WithLabelValues(action, result).Inc()
}

// RecordRateLimitBreach は上限を超過したウィンドウを記録する。
func (c *Collector) RecordRateLimitBreach(action, window string) {
	c.rateBreaches.WithLabelValues(action, window).Inc()
}

// RecordUsage は利用イベントの記録を数える。
func (c *Collector) RecordUsage(action string) {
	c.usageRecorded.WithLabelValues(action).Inc()
}

// RecordAlertDelivered はアラート通知の成功を記録する。
func (c *Collector) RecordAlertDelivered(notifier string) {
	c.alertDelivered.WithLabelValues(notifier).Inc()
}

// RecordAlertFailed はアラート通知の失敗を記録する。
func (c *Collector) RecordAlertFailed(notifier string) {
	c.alertFailed.WithLabelValues(notifier).Inc()
}

// RecordAlertDropped はキュー満杯で破棄されたアラートを記録する。
func (c *Collector) RecordAlertDropped() {
	c.alertDropped.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordScanLatency はレシート読み取りのレイテンシを記録する。
func (c *Collector) RecordScanLatency(duration time.Duration) {
	c.scanLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordAuthOutcome(string) {}
func (Nop) RecordRateLimitCheck(string, bool) {}
func (Nop) RecordRateLimitBreach(string, string) {}
func (Nop) RecordUsage(string) {}
func (Nop) RecordAlertDelivered(string) {}
func (Nop) RecordAlertFailed(string) {}
func (Nop) RecordAlertDropped() {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordScanLatency(time.Duration) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
