package main

import (
	"maps"
	"math"
	"slices"
	"sync"
	"time"
)

const (
	codeOK         = "OK"
	scenarioSeries = "scenario"
)

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

// series накапливает результаты одного метода.
type series struct {
	ok      int64
	failed  int64
	codes   map[string]int64
	samples []time.Duration
}

func (s *series) report() methodReport {
	calls := s.ok + s.failed
	return methodReport{
		Calls:     calls,
		Success:   s.ok,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, calls),
		Codes:     maps.Clone(s.codes),
		LatencyMs: summarize(s.samples),
	}
}

type collector struct {
	mu     sync.Mutex
	series map[string]*series
}

func newCollector() *collector {
	return &collector{series: make(map[string]*series)}
}

// record учитывает вызов; успехом считается только код "OK".
func (c *collector) record(name string, took time.Duration, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.series[name]
	if s == nil {
		s = &series{codes: make(map[string]int64)}
		c.series[name] = s
	}
	if code == codeOK {
		s.ok++
	} else {
		s.failed++
	}
	s.codes[code]++
	s.samples = append(s.samples, took)
}

// timed выполняет fn и записывает её длительность под кодом, который она вернула.
func (c *collector) timed(name string, fn func() string) string {
	start := time.Now()
	code := fn()
	c.record(name, time.Since(start), code)
	return code
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.series[name]
	if !ok {
		return methodReport{}, false
	}
	return s.report(), true
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Methods:         make(map[string]methodReport, len(c.series)),
	}
	for name, s := range c.series {
		result.Methods[name] = s.report()
	}

	if scenarios, ok := result.Methods[scenarioSeries]; ok {
		result.TotalScenarios = scenarios.Calls
		result.SuccessScenarios = scenarios.Success
		result.FailedScenarios = scenarios.Failed
		result.ErrorRate = scenarios.ErrorRate
		result.ScenarioLatencyMs = scenarios.LatencyMs
	}
	if elapsed > 0 {
		result.RPS = float64(result.TotalScenarios) / elapsed.Seconds()
	}
	return result
}

func summarize(samples []time.Duration) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}

	ms := make([]float64, len(samples))
	var sum float64
	for i, d := range samples {
		ms[i] = float64(d.Microseconds()) / 1000
		sum += ms[i]
	}
	slices.Sort(ms)

	return latencySummary{
		Min: ms[0],
		Max: ms[len(ms)-1],
		Avg: sum / float64(len(ms)),
		P50: quantile(ms, 0.50),
		P95: quantile(ms, 0.95),
		P99: quantile(ms, 0.99),
	}
}

// quantile линейно интерполирует между соседними элементами отсортированной выборки.
func quantile(sorted []float64, q float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	pos := q * float64(len(sorted)-1)
	lo, frac := math.Modf(pos)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (sorted[i+1]-sorted[i])*frac
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
