// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・ガード・ミドルウェアから利用する。
type MetricsCollector interface {
	RecordRegistration(outcome string)
	RecordLogin(outcome string)
	RecordResetRequest()
	RecordResetResult(outcome string)
	RecordSessionVerifyFailure(reason string)
	RecordGuardDecision(decision string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations  *prometheus.CounterVec
	logins         *prometheus.CounterVec
	resetRequests  prometheus.Counter
	resetResults   *prometheus.CounterVec
	verifyFailures *prometheus.CounterVec
	guardDecisions *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_registrations_total",
			Help: "結果別のユーザー登録数",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		resetRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_password_reset_requests_total",
			Help: "パスワードリセット申請の合計数",
		}),
		resetResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_password_reset_results_total",
			Help: "結果別のパスワードリセット実行数",
		}, []string{"outcome"}),
		verifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_session_verify_failures_total",
			Help: "理由別のセッショントークン検証失敗数",
		}, []string{"reason"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_guard_decisions_total",
			Help: "判定別のセッションガード評価数",
		}, []string{"decision"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authgate_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.registrations,
		c.logins,
		c.resetRequests,
		c.resetResults,
		c.verifyFailures,
		c.guardDecisions,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordRegistration はユーザー登録の結果を記録する。
func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordResetRequest はパスワードリセット申請を記録する。
// ユーザーの存在有無は区別しない。
func (c *Collector) RecordResetRequest() {
	c.resetRequests.Inc()
}

// RecordResetResult はパスワードリセット実行の結果を記録する。
func (c *Collector) RecordResetResult(outcome string) {
	c.resetResults.WithLabelValues(outcome).Inc()
}

// RecordSessionVerifyFailure はセッショントークン検証失敗を理由別に記録する。
func (c *Collector) RecordSessionVerifyFailure(reason string) {
	c.verifyFailures.WithLabelValues(reason).Inc()
}

// RecordGuardDecision はセッションガードの判定を記録する。
func (c *Collector) RecordGuardDecision(decision string) {
	c.guardDecisions.WithLabelValues(decision).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordRegistration(string) {}
func (Nop) RecordLogin(string) {}
func (Nop) RecordResetRequest() {}
func (Nop) RecordResetResult(string) {}
func (Nop) RecordSessionVerifyFailure(string) {}
func (Nop) RecordGuardDecision(string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(time.Duration) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
