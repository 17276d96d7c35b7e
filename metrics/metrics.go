package metrics

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives one call per observable event in the gateway. The core
// only calls into it; storage and export are up to the implementation.
type Recorder interface {
	MarkNewConnection(appID string)
	MarkDisconnection(appID string)
	MarkWsMessageSent(appID string, data []byte)
	MarkWsMessageReceived(appID string, data []byte)
	MarkAPIMessage(appID string, request, response any)
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)
}

var httpBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Prometheus implements Recorder with Prometheus collectors
type Prometheus struct {
	connectedSockets    *prometheus.GaugeVec
	newConnections      *prometheus.CounterVec
	disconnections      *prometheus.CounterVec
	wsMessagesSent      *prometheus.CounterVec
	wsBytesSent         *prometheus.CounterVec
	wsMessagesReceived  *prometheus.CounterVec
	wsBytesReceived     *prometheus.CounterVec
	apiCallsReceived    *prometheus.CounterVec
	apiBytesReceived    *prometheus.CounterVec
	apiBytesTransmitted *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpLatency         *prometheus.HistogramVec
}

// NewPrometheus creates the collectors and registers them on reg
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	appLabel := []string{"app_id"}
	p := &Prometheus{
		connectedSockets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gopusher_connected",
			Help: "Number of currently connected sockets",
		}, appLabel),
		newConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopusher_new_connections_total",
			Help: "Total number of new connections",
		}, appLabel),
		disconnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopusher_new_disconnections_total",
			Help: "Total number of disconnections",
		}, appLabel),
		wsMessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopusher_socket_messages_sent_total",
			Help: "Total number of messages written to sockets",
		}, appLabel),
		wsBytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopusher_socket_transmitted_bytes_total",
			Help: "Total bytes written to sockets",
		}, appLabel),
		wsMessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopusher_socket_messages_received_total",
			Help: "Total number of messages received from sockets",
		}, appLabel),
		wsBytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopusher_socket_received_bytes_total",
			Help: "Total bytes received from sockets",
		}, appLabel),
		apiCallsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopusher_http_calls_received_total",
			Help: "Total number of HTTP API calls",
		}, appLabel),
		apiBytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopusher_http_received_bytes_total",
			Help: "Total bytes received by the HTTP API",
		}, appLabel),
		apiBytesTransmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopusher_http_transmitted_bytes_total",
			Help: "Total bytes sent by the HTTP API",
		}, appLabel),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopusher_http_requests_total",
			Help: "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gopusher_http_request_duration_seconds",
			Help:    "Latency distribution of HTTP handlers",
			Buckets: httpBuckets,
		}, []string{"method", "route", "status"}),
	}

	collectors := []prometheus.Collector{
		p.connectedSockets, p.newConnections, p.disconnections,
		p.wsMessagesSent, p.wsBytesSent, p.wsMessagesReceived, p.wsBytesReceived,
		p.apiCallsReceived, p.apiBytesReceived, p.apiBytesTransmitted,
		p.httpRequests, p.httpLatency,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) MarkNewConnection(appID string) {
	p.connectedSockets.WithLabelValues(appID).Inc()
	p.newConnections.WithLabelValues(appID).Inc()
}

func (p *Prometheus) MarkDisconnection(appID string) {
	p.connectedSockets.WithLabelValues(appID).Dec()
	p.disconnections.WithLabelValues(appID).Inc()
}

func (p *Prometheus) MarkWsMessageSent(appID string, data []byte) {
	p.wsMessagesSent.WithLabelValues(appID).Inc()
	p.wsBytesSent.WithLabelValues(appID).Add(float64(len(data)))
}

func (p *Prometheus) MarkWsMessageReceived(appID string, data []byte) {
	p.wsMessagesReceived.WithLabelValues(appID).Inc()
	p.wsBytesReceived.WithLabelValues(appID).Add(float64(len(data)))
}

func (p *Prometheus) MarkAPIMessage(appID string, request, response any) {
	p.apiCallsReceived.WithLabelValues(appID).Inc()
	p.apiBytesReceived.WithLabelValues(appID).Add(float64(encodedSize(request)))
	p.apiBytesTransmitted.WithLabelValues(appID).Add(float64(encodedSize(response)))
}

func (p *Prometheus) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	p.httpRequests.With(labels).Inc()
	p.httpLatency.With(labels).Observe(duration.Seconds())
}

func encodedSize(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case []byte:
		return len(t)
	case string:
		return len(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}

// Handler returns the Prometheus HTTP handler for the given gatherer
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Nop discards every event
type Nop struct{}

func (Nop) MarkNewConnection(string)                              {}
func (Nop) MarkDisconnection(string)                              {}
func (Nop) MarkWsMessageSent(string, []byte)                      {}
func (Nop) MarkWsMessageReceived(string, []byte)                  {}
func (Nop) MarkAPIMessage(string, any, any)                       {}
func (Nop) ObserveHTTPRequest(string, string, int, time.Duration) {}

var (
	_ Recorder = (*Prometheus)(nil)
	_ Recorder = Nop{}
)
