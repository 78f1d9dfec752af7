package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	UDPDatagrams     prometheus.Counter
	UDPBytesReceived prometheus.Counter
	UDPDropped       prometheus.Counter     // 被限流丢弃的报文
	FrameTotal       *prometheus.CounterVec // labels: result=ok|short|duplicate|unknown_cmd
	CommandTotal     *prometheus.CounterVec // labels: cmd
	ReplyTotal       *prometheus.CounterVec // labels: status
	BusErrorTotal    *prometheus.CounterVec // labels: op=read|write
	RingWrapTotal    prometheus.Counter     // 环形缓冲回卷次数
	QueueDepth       prometheus.Gauge       // 描述符队列当前深度
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		UDPDatagrams: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udp_datagrams_total",
			Help: "Total datagrams received over UDP.",
		}),
		UDPBytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udp_bytes_received_total",
			Help: "Total bytes received over UDP.",
		}),
		UDPDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udp_dropped_total",
			Help: "Datagrams dropped by the intake rate limiter.",
		}),
		FrameTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wireg_frame_total",
			Help: "Inbound frame dispositions.",
		}, []string{"result"}),
		CommandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wireg_command_total",
			Help: "Accepted frames by command.",
		}, []string{"cmd"}),
		ReplyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wireg_reply_total",
			Help: "Replies sent by status code.",
		}, []string{"status"}),
		BusErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_error_total",
			Help: "Bus transfer failures by operation.",
		}, []string{"op"}),
		RingWrapTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ring_wrap_total",
			Help: "Times the ingestion ring wrapped to offset zero.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ring_queue_depth",
			Help: "Current depth of the descriptor queue.",
		}),
	}
	reg.MustRegister(
		m.UDPDatagrams, m.UDPBytesReceived, m.UDPDropped,
		m.FrameTotal, m.CommandTotal, m.ReplyTotal,
		m.BusErrorTotal, m.RingWrapTotal, m.QueueDepth,
	)
	return m
}
