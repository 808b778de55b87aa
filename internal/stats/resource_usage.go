// Package stats computes the resource-usage statistics object the
// Coordination API's GET .../resource_usage endpoint returns (spec
// §6). No file in the example pack computes a confidence interval, so
// this package reaches for gonum.org/v1/gonum — a real dependency
// named in the retrieved pack's other_examples manifests — rather than
// hand-rolling a t-distribution quantile function.
package stats

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ihmeuw-scicomp/jobmon/internal/store"
)

// Interval is a two-element [low, high] confidence interval about a
// mean. A nil Interval marshals to JSON null (spec: "null when n < 2").
type Interval struct {
	Low  float64
	High float64
}

// Summary is the wire shape of the resource-usage response (spec §6).
// Pointer fields so "null" is distinguishable from zero.
type Summary struct {
	NumTasks int `json:"num_tasks"`

	MinMem    *float64 `json:"min_mem"`
	MaxMem    *float64 `json:"max_mem"`
	MeanMem   *float64 `json:"mean_mem"`
	MedianMem *float64 `json:"median_mem"`
	CIMem     *[2]float64 `json:"ci_mem"`

	MinRuntime    *float64    `json:"min_runtime"`
	MaxRuntime    *float64    `json:"max_runtime"`
	MeanRuntime   *float64    `json:"mean_runtime"`
	MedianRuntime *float64    `json:"median_runtime"`
	CIRuntime     *[2]float64 `json:"ci_runtime"`

	MinRuntimeHuman  string `json:"min_runtime_human,omitempty"`
	MaxRuntimeHuman  string `json:"max_runtime_human,omitempty"`
	MeanRuntimeHuman string `json:"mean_runtime_human,omitempty"`
}

// ResourceUsage computes Summary from raw samples. confidence arrives
// as a string (e.g. "0.95"); it is parsed permissively — a default of
// 0.95 is used when the string is empty or unparsable, matching spec
// §6's "parse with a permissive decoder" instruction rather than
// rejecting the request over a malformed parameter.
func ResourceUsage(samples []store.ResourceSample, confidence string) (*Summary, error) {
	n := len(samples)
	summary := &Summary{NumTasks: n}
	if n == 0 {
		return summary, nil
	}

	conf, err := strconv.ParseFloat(confidence, 64)
	if err != nil || conf <= 0 || conf >= 1 {
		conf = 0.95
	}

	mem := make([]float64, n)
	runtime := make([]float64, n)
	for i, s := range samples {
		mem[i] = float64(s.MaxrssBytes)
		runtime[i] = s.RuntimeSeconds
	}

	summary.MinMem, summary.MaxMem, summary.MeanMem, summary.MedianMem, summary.CIMem = summarize(mem, conf)
	summary.MinRuntime, summary.MaxRuntime, summary.MeanRuntime, summary.MedianRuntime, summary.CIRuntime = summarize(runtime, conf)

	if summary.MinRuntime != nil {
		summary.MinRuntimeHuman = formatDuration(*summary.MinRuntime)
	}
	if summary.MaxRuntime != nil {
		summary.MaxRuntimeHuman = formatDuration(*summary.MaxRuntime)
	}
	if summary.MeanRuntime != nil {
		summary.MeanRuntimeHuman = formatDuration(*summary.MeanRuntime)
	}

	return summary, nil
}

func summarize(values []float64, confidence float64) (min, max, mean, median *float64, ci *[2]float64) {
	n := len(values)
	if n == 0 {
		return nil, nil, nil, nil, nil
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	minV, maxV := sorted[0], sorted[n-1]
	meanV, stdV := stat.MeanStdDev(values, nil)
	medianV := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	min, max, mean, median = &minV, &maxV, &meanV, &medianV

	if n < 2 {
		return min, max, mean, median, nil
	}

	// Student's t critical value for df = n-1 (spec §9's open-question
	// resolution for the CI computation). Zero sample variance
	// collapses the interval to [mean, mean], also per §9.
	if stdV == 0 {
		ci = &[2]float64{meanV, meanV}
		return min, max, mean, median, ci
	}

	df := float64(n - 1)
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	tCrit := t.Quantile(1 - (1-confidence)/2)
	margin := tCrit * stdV / math.Sqrt(float64(n))
	ci = &[2]float64{meanV - margin, meanV + margin}
	return min, max, mean, median, ci
}

func formatDuration(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%.1fm", minutes)
	}
	return fmt.Sprintf("%.1fh", minutes/60)
}
