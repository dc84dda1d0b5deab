package tracing

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName: имя инструментирующей библиотеки для спанов сервиса.
const TracerName = "github.com/vladislavdragonenkov/storefront"

// Provider: инициализированный TracerProvider и функция его остановки.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Tracer возвращает tracer сервиса из глобального провайдера.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// InitTracerProvider регистрирует глобальный TracerProvider с экспортом в Jaeger.
// Пустой endpoint оставляет no-op провайдер: спаны создаются, но никуда не уходят.
func InitTracerProvider(serviceName, jaegerEndpoint string, logger *log.Entry) (*Provider, error) {
	if logger == nil {
		logger = log.New().WithField("component", "tracing")
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if strings.TrimSpace(jaegerEndpoint) == "" {
		logger.Info("tracing exporter disabled")
		return &Provider{}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)

	logger.WithFields(log.Fields{
		"service":  serviceName,
		"endpoint": jaegerEndpoint,
	}).Info("tracing initialized")
	return &Provider{tp: tp}, nil
}

// Shutdown сбрасывает накопленные спаны и останавливает экспорт.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
