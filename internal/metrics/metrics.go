// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値。
const (
	LoginSuccess         = "success"
	LoginUnknownUser     = "unknown_user"
	LoginInvalidPassword = "invalid_password"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・ミドルウェア・ワーカーから利用する。
type MetricsCollector interface {
	RecordRegistration()
	RecordLogin(result string)
	RecordAuthFailure(reason string)
	RecordJoinCodeIssued()
	RecordMailFailure()
	RecordJoinCodesPurged(count int64)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations  prometheus.Counter
	logins         *prometheus.CounterVec
	authFailures   *prometheus.CounterVec
	joinCodes      prometheus.Counter
	mailFailures   prometheus.Counter
	joinCodePurged prometheus.Counter
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "joinauth_registrations_total",
			Help: "ユーザー登録成功の合計数",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "joinauth_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "joinauth_auth_failures_total",
			Help: "理由別のアクセス制御拒否数",
		}, []string{"reason"}),
		joinCodes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "joinauth_join_codes_issued_total",
			Help: "発行された招待コードの合計数",
		}),
		mailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "joinauth_mail_failures_total",
			Help: "メール送信失敗の合計数",
		}),
		joinCodePurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "joinauth_join_codes_purged_total",
			Help: "期限切れで削除された招待コードの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "joinauth_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "joinauth_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.registrations,
		c.logins,
		c.authFailures,
		c.joinCodes,
		c.mailFailures,
		c.joinCodePurged,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordRegistration はユーザー登録の成功を記録する。
func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordAuthFailure はアクセス制御での拒否を理由付きで記録する。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordJoinCodeIssued は招待コードの発行を記録する。
func (c *Collector) RecordJoinCodeIssued() {
	c.joinCodes.Inc()
}

// RecordMailFailure はメール送信失敗を記録する。
func (c *Collector) RecordMailFailure() {
	c.mailFailures.Inc()
}

// RecordJoinCodesPurged は削除された招待コード数を記録する。
func (c *Collector) RecordJoinCodesPurged(count int64) {
	c.joinCodePurged.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordRegistration()                {}
func (NopCollector) RecordLogin(string)                 {}
func (NopCollector) RecordAuthFailure(string)           {}
func (NopCollector) RecordJoinCodeIssued()              {}
func (NopCollector) RecordMailFailure()                 {}
func (NopCollector) RecordJoinCodesPurged(int64)        {}
func (NopCollector) RecordHTTPStatus(int)               {}
func (NopCollector) RecordRequestLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
