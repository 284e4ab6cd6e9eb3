// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// コールバック処理結果のラベル値。
const (
	CallbackApplied          = "applied"
	CallbackAlreadyFinal     = "already_final"
	CallbackUnmatched        = "unmatched"
	CallbackInvalidSignature = "invalid_signature"
	CallbackInvalidRequest   = "invalid_request"
	CallbackError            = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 決済サービスとHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordPaymentCreated()
	RecordTransition(status string)
	RecordCallback(result string)
	RecordSignatureFailure()
	RecordCallbackLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	paymentsCreated   prometheus.Counter
	transitions       *prometheus.CounterVec
	callbacks         *prometheus.CounterVec
	signatureFailures prometheus.Counter
	callbackLatency   prometheus.Histogram
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		paymentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "children_server_payments_created_total",
			Help: "作成された決済セッションの合計数",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "children_server_payment_transitions_total",
			Help: "終端状態への遷移数（遷移先の状態別）",
		}, []string{"status"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "children_server_payment_callbacks_total",
			Help: "ゲートウェイ通知の処理結果別の件数",
		}, []string{"result"}),
		signatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "children_server_callback_signature_failures_total",
			Help: "署名検証に失敗したゲートウェイ通知の合計数",
		}),
		callbackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "children_server_callback_duration_seconds",
			Help:    "ゲートウェイ通知の処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "children_server_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.paymentsCreated,
		c.transitions,
		c.callbacks,
		c.signatureFailures,
		c.callbackLatency,
		c.httpStatus,
	)

	return c
}

// RecordPaymentCreated は決済セッションの作成を記録する。
func (c *Collector) RecordPaymentCreated() {
	c.paymentsCreated.Inc()
}

// RecordTransition は状態遷移を記録する。
func (c *Collector) RecordTransition(status string) {
	c.transitions.WithLabelValues(status).Inc()
}

// RecordCallback はゲートウェイ通知の処理結果を記録する。
func (c *Collector) RecordCallback(result string) {
	c.callbacks.WithLabelValues(result).Inc()
}

// RecordSignatureFailure は署名検証の失敗を記録する。
func (c *Collector) RecordSignatureFailure() {
	c.signatureFailures.Inc()
}

// RecordCallbackLatency は通知処理のレイテンシを記録する。
func (c *Collector) RecordCallbackLatency(duration time.Duration) {
	c.callbackLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。テストや未設定時に使う。
type NopCollector struct{}

func (NopCollector) RecordPaymentCreated() {}
func (NopCollector) RecordTransition(string) {}
func (NopCollector) RecordCallback(string) {}
func (NopCollector) RecordSignatureFailure() {}
func (NopCollector) RecordCallbackLatency(time.Duration) {}
func (NopCollector) RecordHTTPStatus(int) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
