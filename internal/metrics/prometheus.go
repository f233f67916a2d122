package metrics

import "github.com/prometheus/client_golang/prometheus"

// PrometheusExporter mirrors a Collector's counters onto a Prometheus
// registry for the control plane's /metrics route. It holds no state of
// its own — every Collect call re-reads the Collector's atomics.
type PrometheusExporter struct {
	collector *Collector

	tcpOpened   *prometheus.Desc
	tcpClosed   *prometheus.Desc
	tcpActive   *prometheus.Desc
	udpOpened   *prometheus.Desc
	udpClosed   *prometheus.Desc
	udpActive   *prometheus.Desc
	bytesSent   *prometheus.Desc
	bytesRecv   *prometheus.Desc
	rlAllowed   *prometheus.Desc
	rlDenied    *prometheus.Desc
	breakerOpn  *prometheus.Desc
	breakerHalf *prometheus.Desc
	latency     *prometheus.Desc
}

// NewPrometheusExporter builds a prometheus.Collector wrapping c. Register it on a *prometheus.Registry with Register.
func NewPrometheusExporter(c *Collector) *PrometheusExporter {
	return &PrometheusExporter{
		collector:   c,
		tcpOpened:   prometheus.NewDesc("proxy_tcp_connections_opened_total", "TCP connections opened", nil, nil),
		tcpClosed:   prometheus.NewDesc("proxy_tcp_connections_closed_total", "TCP connections closed", nil, nil),
		tcpActive:   prometheus.NewDesc("proxy_tcp_connections_active", "TCP connections currently active", nil, nil),
		udpOpened:   prometheus.NewDesc("proxy_udp_sessions_opened_total", "UDP sessions opened", nil, nil),
		udpClosed:   prometheus.NewDesc("proxy_udp_sessions_closed_total", "UDP sessions closed", nil, nil),
		udpActive:   prometheus.NewDesc("proxy_udp_sessions_active", "UDP sessions currently active", nil, nil),
		bytesSent:   prometheus.NewDesc("proxy_bytes_sent_total", "Bytes sent to clients", nil, nil),
		bytesRecv:   prometheus.NewDesc("proxy_bytes_received_total", "Bytes received from clients", nil, nil),
		rlAllowed:   prometheus.NewDesc("proxy_rate_limit_allowed_total", "Requests admitted by the rate limiter", nil, nil),
		rlDenied:    prometheus.NewDesc("proxy_rate_limit_denied_total", "Requests rejected by the rate limiter", nil, nil),
		breakerOpn:  prometheus.NewDesc("proxy_circuit_breaker_opened_total", "Circuit breaker open transitions", nil, nil),
		breakerHalf: prometheus.NewDesc("proxy_circuit_breaker_half_opened_total", "Circuit breaker half-open transitions", nil, nil),
		latency:     prometheus.NewDesc("proxy_backend_latency_ms", "Backend connect latency percentiles", []string{"quantile"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.tcpOpened
	ch <- e.tcpClosed
	ch <- e.tcpActive
	ch <- e.udpOpened
	ch <- e.udpClosed
	ch <- e.udpActive
	ch <- e.bytesSent
	ch <- e.bytesRecv
	ch <- e.rlAllowed
	ch <- e.rlDenied
	ch <- e.breakerOpn
	ch <- e.breakerHalf
	ch <- e.latency
}

// Collect implements prometheus.Collector.
func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	c := e.collector
	ch <- prometheus.MustNewConstMetric(e.tcpOpened, prometheus.CounterValue, float64(c.TCPConnectionsOpened.Load()))
	ch <- prometheus.MustNewConstMetric(e.tcpClosed, prometheus.CounterValue, float64(c.TCPConnectionsClosed.Load()))
	ch <- prometheus.MustNewConstMetric(e.tcpActive, prometheus.GaugeValue, float64(c.TCPConnectionsActive.Load()))
	ch <- prometheus.MustNewConstMetric(e.udpOpened, prometheus.CounterValue, float64(c.UDPSessionsOpened.Load()))
	ch <- prometheus.MustNewConstMetric(e.udpClosed, prometheus.CounterValue, float64(c.UDPSessionsClosed.Load()))
	ch <- prometheus.MustNewConstMetric(e.udpActive, prometheus.GaugeValue, float64(c.UDPSessionsActive.Load()))
	ch <- prometheus.MustNewConstMetric(e.bytesSent, prometheus.CounterValue, float64(c.BytesSent.Load()))
	ch <- prometheus.MustNewConstMetric(e.bytesRecv, prometheus.CounterValue, float64(c.BytesReceived.Load()))
	ch <- prometheus.MustNewConstMetric(e.rlAllowed, prometheus.CounterValue, float64(c.RateLimitAllowed.Load()))
	ch <- prometheus.MustNewConstMetric(e.rlDenied, prometheus.CounterValue, float64(c.RateLimitDenied.Load()))
	ch <- prometheus.MustNewConstMetric(e.breakerOpn, prometheus.CounterValue, float64(c.BreakerOpened.Load()))
	ch <- prometheus.MustNewConstMetric(e.breakerHalf, prometheus.CounterValue, float64(c.BreakerHalfOpened.Load()))

	lat := c.LatencyStats()
	ch <- prometheus.MustNewConstMetric(e.latency, prometheus.GaugeValue, lat.P50, "p50")
	ch <- prometheus.MustNewConstMetric(e.latency, prometheus.GaugeValue, lat.P90, "p90")
	ch <- prometheus.MustNewConstMetric(e.latency, prometheus.GaugeValue, lat.P99, "p99")
}
