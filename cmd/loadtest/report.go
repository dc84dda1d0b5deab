package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

func printReport(w io.Writer, result report, cfg config) {
	latency := result.ScenarioLatencyMs
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "target=%s mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.baseURL, cfg.mode, cfg.describeRun(),
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		latency.Min, latency.Avg, latency.P50, latency.P95, latency.P99, latency.Max)

	for _, name := range slices.Sorted(maps.Keys(result.Methods)) {
		if name == scenarioSeries {
			continue
		}
		m := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms codes=%s\n",
			name, m.Calls, m.Success, m.Failed, m.ErrorRate, m.LatencyMs.P95, formatCodes(m.Codes))
	}
}

// formatCodes печатает распределение кодов в стабильном порядке.
func formatCodes(codes map[string]int64) string {
	parts := make([]string, 0, len(codes))
	for _, code := range slices.Sorted(maps.Keys(codes)) {
		parts = append(parts, fmt.Sprintf("%s:%d", code, codes[code]))
	}
	return strings.Join(parts, ",")
}

// writeJSONReport пишет отчёт в файл внутри текущего каталога.
func writeJSONReport(path string, result report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(clean, append(data, '\n'), 0o644)
}
