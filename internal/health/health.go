// Package health собирает проверки зависимостей витрины и отдаёт их
// как liveness/readiness проверки и JSON-отчёт.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const DefaultCheckTimeout = 2 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// gaugeValue переводит статус в значение метрики dependency_up.
func (s Status) gaugeValue() float64 {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 0.5
	default:
		return 0
	}
}

var dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "storefront_dependency_up",
	Help: "Last health check result per dependency: 1 healthy, 0.5 degraded, 0 unhealthy.",
}, []string{"dependency"})

// Check: результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response: сводный отчёт /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

type Checker interface {
	Check(ctx context.Context) Check
}

// Handler хранит зарегистрированные проверки.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	timeout   time.Duration
	startedAt time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		timeout:   DefaultCheckTimeout,
		startedAt: time.Now(),
	}
}

// RegisterChecker добавляет или заменяет проверку name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()
}

func (h *Handler) snapshot() map[string]Checker {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]Checker, len(h.checkers))
	for name, checker := range h.checkers {
		out[name] = checker
	}
	return out
}

// Run выполняет все проверки параллельно, каждую с таймаутом, и сводит общий статус:
// unhealthy, если упала обязательная проверка, degraded, если необязательная.
func (h *Handler) Run(ctx context.Context) Response {
	checkers := h.snapshot()

	type result struct {
		name  string
		check Check
	}
	results := make(chan result, len(checkers))
	var wg sync.WaitGroup
	for name, checker := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			results <- result{name: name, check: checker.Check(checkCtx)}
		}()
	}
	wg.Wait()
	close(results)

	response := Response{
		Status:        StatusHealthy,
		Timestamp:     time.Now(),
		Checks:        make(map[string]Check, len(checkers)),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	for r := range results {
		response.Checks[r.name] = r.check
		dependencyUp.WithLabelValues(r.name).Set(r.check.Status.gaugeValue())
		response.Status = worse(response.Status, r.check.Status)
	}
	return response
}

func worse(a, b Status) Status {
	if a == StatusUnhealthy || b == StatusUnhealthy {
		return StatusUnhealthy
	}
	if a == StatusDegraded || b == StatusDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// ServeHTTP отдаёт полный отчёт; 503 только для unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Run(r.Context())
	writeJSON(w, httpCode(response.Status), response)
}

// LegacyHandler отвечает в формате старой витрины: {"status":"OK","timestamp":...}.
func (h *Handler) LegacyHandler(w http.ResponseWriter, r *http.Request) {
	response := h.Run(r.Context())
	status := "OK"
	if response.Status == StatusUnhealthy {
		status = "ERROR"
	}
	writeJSON(w, httpCode(response.Status), map[string]string{
		"status":    status,
		"timestamp": response.Timestamp.UTC().Format(time.RFC3339),
	})
}

// LivenessHandler отвечает 200, пока процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.Run(r.Context()).Status == StatusUnhealthy {
		writeText(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeText(w, http.StatusOK, "ready")
}

func httpCode(status Status) int {
	if status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// SimpleChecker оборачивает функцию проверки.
type SimpleChecker struct {
	name     string
	optional bool
	checkFn  func(ctx context.Context) error
}

// NewSimpleChecker создаёт обязательную проверку: её сбой делает сервис unhealthy.
func NewSimpleChecker(name string, checkFn func(ctx context.Context) error) *SimpleChecker {
	return &SimpleChecker{name: name, checkFn: checkFn}
}

// NewOptionalChecker создаёт проверку необязательной зависимости: сбой даёт degraded.
func NewOptionalChecker(name string, checkFn func(ctx context.Context) error) *SimpleChecker {
	return &SimpleChecker{name: name, optional: true, checkFn: checkFn}
}

func (c *SimpleChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.checkFn(ctx)
	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err == nil {
		return check
	}

	check.Status = StatusUnhealthy
	if c.optional {
		check.Status = StatusDegraded
	}
	check.Message = err.Error()
	return check
}
