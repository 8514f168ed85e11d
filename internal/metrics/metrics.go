// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// プッシュ配信結果のラベル値。
const (
	PushDelivered    = "delivered"
	PushNoSubscriber = "no_subscriber"
	PushPeerGone     = "peer_gone"
	PushSuperseded   = "superseded"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やワーカーから利用する。
type MetricsCollector interface {
	RecordSessionCreated(kind string)
	RecordTokenIssued()
	RecordPushDelivery(outcome string)
	RecordTicketSubmitted()
	RecordDecision(action, outcome string)
	RecordProvisioningFailure()
	RecordHTTPStatus(statusCode int)
	RecordUpstreamLatency(service string, duration time.Duration)
	RecordTaskResult(task string, ok bool)
	SetQueueDepth(depth int)
	SetTasksInFlight(n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsCreated   *prometheus.CounterVec
	tokensIssued      prometheus.Counter
	pushDeliveries    *prometheus.CounterVec
	ticketsSubmitted  prometheus.Counter
	decisions         *prometheus.CounterVec
	provisionFailures prometheus.Counter
	httpStatus        *prometheus.CounterVec
	upstreamLatency   *prometheus.HistogramVec
	taskResults       *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	tasksInFlight     prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domainbroker_login_sessions_created_total",
			Help: "作成されたログインセッションの合計数",
		}, []string{"kind"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "domainbroker_tokens_issued_total",
			Help: "発行されたアクセストークンの合計数",
		}),
		pushDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domainbroker_push_deliveries_total",
			Help: "WebSocketプッシュ配信の結果別件数",
		}, []string{"outcome"}),
		ticketsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "domainbroker_tickets_submitted_total",
			Help: "受け付けたドメイン申請の合計数",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domainbroker_ticket_decisions_total",
			Help: "モデレーター判断の処理結果別件数",
		}, []string{"action", "outcome"}),
		provisionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "domainbroker_provisioning_failures_total",
			Help: "承認後のDNSレコード作成失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domainbroker_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "domainbroker_upstream_latency_seconds",
			Help:    "外部サービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
		taskResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domainbroker_background_tasks_total",
			Help: "バックグラウンドタスクの結果別件数",
		}, []string{"task", "result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "domainbroker_queue_depth",
			Help: "キューで待機中のバックグラウンドタスク数",
		}),
		tasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "domainbroker_tasks_in_flight",
			Help: "実行中のバックグラウンドタスク数",
		}),
	}

	reg.MustRegister(
		c.sessionsCreated,
		c.tokensIssued,
		c.pushDeliveries,
		c.ticketsSubmitted,
		c.decisions,
		c.provisionFailures,
		c.httpStatus,
		c.upstreamLatency,
		c.taskResults,
		c.queueDepth,
		c.tasksInFlight,
	)

	return c
}

// RecordSessionCreated はログインセッション作成を記録する。
func (c *Collector) RecordSessionCreated(kind string) {
	c.sessionsCreated.WithLabelValues(kind).Inc()
}

// RecordTokenIssued はトークン発行を記録する。
func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

// RecordPushDelivery はプッシュ配信結果を記録する。
func (c *Collector) RecordPushDelivery(outcome string) {
	c.pushDeliveries.WithLabelValues(outcome).Inc()
}

// RecordTicketSubmitted はドメイン申請の受付を記録する。
func (c *Collector) RecordTicketSubmitted() {
	c.ticketsSubmitted.Inc()
}

// RecordDecision はモデレーター判断の結果を記録する。
func (c *Collector) RecordDecision(action, outcome string) {
	c.decisions.WithLabelValues(action, outcome).Inc()
}

// RecordProvisioningFailure はDNSレコード作成失敗を記録する。
func (c *Collector) RecordProvisioningFailure() {
	c.provisionFailures.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordUpstreamLatency は外部サービス呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(service string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordTaskResult はバックグラウンドタスクの結果を記録する。
func (c *Collector) RecordTaskResult(task string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.taskResults.WithLabelValues(task, result).Inc()
}

// SetQueueDepth はキューの待機数を設定する。
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// SetTasksInFlight は実行中タスク数を設定する。
func (c *Collector) SetTasksInFlight(n int) {
	c.tasksInFlight.Set(float64(n))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordSessionCreated(string) {}
func (Nop) RecordTokenIssued() {}
func (Nop) RecordPushDelivery(string) {}
func (Nop) RecordTicketSubmitted() {}
func (Nop) RecordDecision(string, string) {}
func (Nop) RecordProvisioningFailure() {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordUpstreamLatency(string, time.Duration) {}
func (Nop) RecordTaskResult(string, bool) {}
func (Nop) SetQueueDepth(int) {}
func (Nop) SetTasksInFlight(int) {}

// OrNop はcがnilの場合にNopを返す。
func OrNop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return Nop{}
	}
	return c
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
