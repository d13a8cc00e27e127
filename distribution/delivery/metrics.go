package delivery

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type handlerMetrics struct {
	requests metric.Int64Counter
	bytes    metric.Int64Counter
	reloads  metric.Int64Counter
}

func newHandlerMetrics(meter metric.Meter) (*handlerMetrics, error) {
	requests, err := meter.Int64Counter("otaguard_delivery_requests",
		metric.WithDescription("Requests served by the delivery endpoint"))
	if err != nil {
		return nil, err
	}
	sent, err := meter.Int64Counter("otaguard_delivery_sent_bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Response body bytes written by the delivery endpoint"))
	if err != nil {
		return nil, err
	}
	reloads, err := meter.Int64Counter("otaguard_delivery_reloads",
		metric.WithDescription("Artifact reload attempts"))
	if err != nil {
		return nil, err
	}
	return &handlerMetrics{requests: requests, bytes: sent, reloads: reloads}, nil
}

func (m *handlerMetrics) served(ctx context.Context, endpoint, method string, status int, written int64) {
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("method", method),
		attribute.String("code", strconv.Itoa(status)),
	)
	m.requests.Add(ctx, 1, attrs)
	m.bytes.Add(ctx, written, attrs)
}

func (m *handlerMetrics) reloaded(ok bool) {
	m.reloads.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("success", ok)))
}
