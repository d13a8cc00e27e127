package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"time"

	prometheus2 "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

const defaultEndpoint = "/metrics"

// Metrics holds the metrics information and exposes it
type Metrics struct {
	Meter    api.Meter
	provider *metric.MeterProvider
	Endpoint string
	handler  http.Handler

	*http.Server
}

// NewServer initializes and returns a new Metrics instance listening on addr (host:port).
// Each instance gathers from its own registry.
func NewServer(addr string, endpoint string) (*Metrics, error) {
	registry := prometheus2.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	pkg := reflect.TypeOf(defaultEndpoint).PkgPath()
	meter := provider.Meter(pkg)

	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	router := http.NewServeMux()
	router.Handle(endpoint, handler)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Metrics{
		Meter:    meter,
		provider: provider,
		Endpoint: endpoint,
		handler:  handler,
		Server:   server,
	}, nil
}

// Handler returns the exposition handler without the HTTP server
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Serve listens on the configured address until Shutdown is called
func (m *Metrics) Serve() error {
	ln, err := net.Listen("tcp", m.Addr)
	if err != nil {
		return fmt.Errorf("listen metrics on %s: %w", m.Addr, err)
	}
	log.Infof("running metrics server: %s%s", ln.Addr(), m.Endpoint)
	if err := m.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the metrics server
func (m *Metrics) Shutdown(ctx context.Context) error {
	if err := m.Server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("meter provider: %w", err)
	}

	return nil
}
