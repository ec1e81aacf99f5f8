package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 邮件子系统监控指标
type Metrics struct {
	// 外发队列指标
	QueueEnqueued    prometheus.Counter
	QueueDelivered   prometheus.Counter
	QueueRetried     prometheus.Counter
	QueueExhausted   prometheus.Counter
	QueueRejected    *prometheus.CounterVec
	SigningFailures  prometheus.Counter
	DeliveryDuration prometheus.Histogram

	// 入站指标
	InboundAccepted prometheus.Counter
	InboundRejected *prometheus.CounterVec

	// 提交中继指标
	SubmissionAccepted prometheus.Counter
	SubmissionRejected *prometheus.CounterVec
	AuthFailures       prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		QueueEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailserver_queue_enqueued_total",
			Help: "Total number of messages accepted into the outbound queue",
		}),
		QueueDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailserver_queue_delivered_total",
			Help: "Total number of messages delivered successfully",
		}),
		QueueRetried: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailserver_queue_retried_total",
			Help: "Total number of delivery attempts scheduled for retry",
		}),
		QueueExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailserver_queue_exhausted_total",
			Help: "Total number of messages that exhausted all delivery attempts",
		}),
		QueueRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailserver_queue_rejected_total",
				Help: "Total number of enqueue calls rejected",
			},
			[]string{"reason"},
		),
		SigningFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailserver_dkim_signing_failures_total",
			Help: "Total number of messages sent unsigned because DKIM signing failed",
		}),
		DeliveryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailserver_delivery_duration_seconds",
			Help:    "Time spent delivering a single message",
			Buckets: prometheus.DefBuckets,
		}),
		InboundAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailserver_inbound_accepted_total",
			Help: "Total number of inbound messages persisted",
		}),
		InboundRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailserver_inbound_rejected_total",
				Help: "Total number of inbound messages rejected at the protocol boundary",
			},
			[]string{"reason"},
		),
		SubmissionAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailserver_submission_accepted_total",
			Help: "Total number of submitted messages republished into the queue",
		}),
		SubmissionRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailserver_submission_rejected_total",
				Help: "Total number of submissions rejected at the protocol boundary",
			},
			[]string{"reason"},
		),
		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailserver_submission_auth_failures_total",
			Help: "Total number of failed AUTH exchanges on the submission port",
		}),
	}
}

// HTTPHandler 返回 Prometheus 指标端点处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
