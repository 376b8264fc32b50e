package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 安全引擎业务指标
type Metrics struct {
	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 偏航检测指标
	deviationEvaluations *prometheus.CounterVec

	// 警报生命周期指标
	alertsOpened    *prometheus.CounterVec
	alertsResolved  *prometheus.CounterVec
	alertsEscalated *prometheus.CounterVec

	// 通知级联指标
	notificationsTotal *prometheus.CounterVec
}

// NewMetrics 创建指标管理器
func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		deviationEvaluations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deviation_evaluations_total",
				Help: "Deviation detector evaluations by resulting action",
			},
			[]string{"action"},
		),
		alertsOpened: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerts_opened_total",
				Help: "Safety alerts opened by kind and severity",
			},
			[]string{"kind", "severity"},
		),
		alertsResolved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerts_resolved_total",
				Help: "Safety alerts closed by terminal state",
			},
			[]string{"state"},
		),
		alertsEscalated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerts_escalated_total",
				Help: "Safety alerts escalated by reason",
			},
			[]string{"reason"},
		),
		notificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_total",
				Help: "Contact cascade channel attempts by channel and outcome",
			},
			[]string{"channel", "status"},
		),
	}
}

// RecordDeviationEvaluation 记录一次偏航评估
func (m *Metrics) RecordDeviationEvaluation(action string) {
	m.deviationEvaluations.WithLabelValues(action).Inc()
}

// RecordAlertOpened 记录警报创建
func (m *Metrics) RecordAlertOpened(kind, severity string) {
	m.alertsOpened.WithLabelValues(kind, severity).Inc()
}

// RecordAlertResolved 记录警报进入终态
func (m *Metrics) RecordAlertResolved(state string) {
	m.alertsResolved.WithLabelValues(state).Inc()
}

// RecordAlertEscalated 记录警报升级
func (m *Metrics) RecordAlertEscalated(reason string) {
	m.alertsEscalated.WithLabelValues(reason).Inc()
}

// RecordNotification 记录通知通道结果
func (m *Metrics) RecordNotification(channel string, ok bool) {
	status := "sent"
	if !ok {
		status = "failed"
	}
	m.notificationsTotal.WithLabelValues(channel, status).Inc()
}

// GinMiddleware HTTP 指标中间件
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.httpRequestDuration.WithLabelValues(
			c.Request.Method, path,
		).Observe(time.Since(start).Seconds())
	}
}

// Handler 暴露 /metrics
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
