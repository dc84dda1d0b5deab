package tracing

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// HTTPClient выполняет исходящие запросы к провайдерам внутри client-спанов
// и передаёт trace context в заголовках.
type HTTPClient struct {
	tracer trace.Tracer
	client *http.Client
}

// NewHTTPClient создаёт клиент; timeout ограничивает весь запрос, включая чтение тела.
func NewHTTPClient(tracer trace.Tracer, timeout time.Duration) *HTTPClient {
	if tracer == nil {
		tracer = Tracer()
	}
	return &HTTPClient{
		tracer: tracer,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// WithHTTPClient подменяет транспорт (в тестах, клиент httptest.Server).
func (c *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	if client != nil {
		c.client = client
	}
	return c
}

// Do отправляет запрос, подставляя User-Agent сервиса, если он не задан. Ответы 5xx помечают спан ошибкой, но возвращаются вызывающему.
func (c *HTTPClient) Do(spanName string, req *http.Request) (*http.Response, error) {
	ctx, span := c.tracer.Start(req.Context(), spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req = req.WithContext(ctx)
	span.SetAttributes(
		attribute.String("http.url", req.URL.Scheme+"://"+req.URL.Host+req.URL.Path),
		attribute.String("http.method", req.Method),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		err := fmt.Errorf("%s returned status %s", req.URL.Host, resp.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, nil
}
