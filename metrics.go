package wsmqtt

import (
	"context"
	"log"
	"net/http"

	"github.com/golang-io/requests"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// stats is the per-Client counterpart to golang-io/mqtt's package-global
// Stat (stat.go): five series, registered against a private
// *prometheus.Registry instead of the default global one, since an
// engine library may be instantiated more than once per process
// (SPEC_FULL.md §A "Metrics").
type stats struct {
	registry          *prometheus.Registry
	ActiveConnections prometheus.Gauge
	PacketReceived    prometheus.Counter
	ByteReceived      prometheus.Counter
	PacketSent        prometheus.Counter
	ByteSent          prometheus.Counter
}

func newStats(clientID string) *stats {
	s := &stats{
		registry: prometheus.NewRegistry(),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mqtt_active_client_count",
			Help:        "Whether this client currently holds an established connection (0 or 1)",
			ConstLabels: prometheus.Labels{"client_id": clientID},
		}),
		PacketReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_received_packets", Help: "Total MQTT control packets received",
			ConstLabels: prometheus.Labels{"client_id": clientID},
		}),
		ByteReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_received_bytes", Help: "Total MQTT bytes received",
			ConstLabels: prometheus.Labels{"client_id": clientID},
		}),
		PacketSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_sent_packets", Help: "Total MQTT control packets sent",
			ConstLabels: prometheus.Labels{"client_id": clientID},
		}),
		ByteSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_sent_bytes", Help: "Total MQTT bytes sent",
			ConstLabels: prometheus.Labels{"client_id": clientID},
		}),
	}
	s.registry.MustRegister(s.ActiveConnections, s.PacketReceived, s.ByteReceived, s.PacketSent, s.ByteSent)
	return s
}

// ServeMetrics exposes this client's registry on addr, following stat.go's
// Httpd almost line for line: golang-io/requests builds the mux/server,
// promhttp.Handler renders the registry.
func (c *Client) ServeMetrics(ctx context.Context, addr string) error {
	mux := requests.NewServeMux(requests.URL(addr))
	mux.Route("/metrics", promhttp.HandlerFor(c.stats.registry, promhttp.HandlerOpts{}))
	mux.Pprof()
	s := requests.NewServer(ctx, mux, requests.OnStart(func(srv *http.Server) {
		log.Printf("wsmqtt: metrics server listening on %s", srv.Addr)
	}))
	return s.ListenAndServe()
}
