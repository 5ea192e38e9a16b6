package metrics

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const hitRatioName = "tts_cache_hit_ratio"

// Snapshot is the JSON view served on /metrics/json.
type Snapshot struct {
	Counters   map[string]float64           `json:"counters"`
	Histograms map[string]HistogramSnapshot `json:"histograms"`
}

// HistogramSnapshot fields are nil while the window is empty.
type HistogramSnapshot struct {
	Count int      `json:"count"`
	Avg   *float64 `json:"avg"`
	P99   *float64 `json:"p99"`
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Counters:   make(map[string]float64, len(c.counters)),
		Histograms: make(map[string]HistogramSnapshot, len(c.histograms)),
	}
	for name, v := range c.counters {
		snap.Counters[name] = v
	}
	for name, samples := range c.histograms {
		h := HistogramSnapshot{Count: len(samples)}
		if avg, ok := average(samples); ok {
			h.Avg = &avg
		}
		if p99, ok := percentile(slices.Clone(samples), 99); ok {
			h.P99 = &p99
		}
		snap.Histograms[name] = h
	}
	return snap
}

// WriteText renders the current state in the Prometheus text exposition
// format. Counters come first, followed by the derived gauges.
func (c *Collector) WriteText(w io.Writer) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(exporter{c: c}); err != nil {
		return fmt.Errorf("registering exporter: %w", err)
	}
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range orderFamilies(families) {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encoding %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// counters before gauges, each group by name
func orderFamilies(families []*dto.MetricFamily) []*dto.MetricFamily {
	slices.SortStableFunc(families, func(a, b *dto.MetricFamily) int {
		if a.GetType() != b.GetType() {
			if a.GetType() == dto.MetricType_COUNTER {
				return -1
			}
			if b.GetType() == dto.MetricType_COUNTER {
				return 1
			}
		}
		return strings.Compare(a.GetName(), b.GetName())
	})
	return families
}

// exporter adapts a Collector to prometheus.Collector. It is unchecked: the
// descriptor set is derived from the closed name set on every scrape.
type exporter struct {
	c *Collector
}

func (e exporter) Describe(ch chan<- *prometheus.Desc) {
	for name, help := range counterHelp {
		ch <- prometheus.NewDesc(name, help, nil, nil)
	}
	ch <- prometheus.NewDesc(hitRatioName, "Cache hits over cache lookups", nil, nil)
	for name, help := range histogramHelp {
		ch <- prometheus.NewDesc(gaugeName(name, "avg"), "Average "+strings.ToLower(help[:1])+help[1:], nil, nil)
		ch <- prometheus.NewDesc(gaugeName(name, "p99"), "99th percentile "+strings.ToLower(help[:1])+help[1:], nil, nil)
	}
}

func (e exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.c.Snapshot()

	for name, v := range snap.Counters {
		ch <- prometheus.MustNewConstMetric(prometheus.NewDesc(name, counterHelp[name], nil, nil), prometheus.CounterValue, v)
	}

	var ratio float64
	if lookups := snap.Counters[CacheHits] + snap.Counters[CacheMisses]; lookups > 0 {
		ratio = snap.Counters[CacheHits] / lookups
	}
	ch <- prometheus.MustNewConstMetric(prometheus.NewDesc(hitRatioName, "Cache hits over cache lookups", nil, nil), prometheus.GaugeValue, ratio)

	for name, h := range snap.Histograms {
		help := strings.ToLower(histogramHelp[name][:1]) + histogramHelp[name][1:]
		ch <- prometheus.MustNewConstMetric(prometheus.NewDesc(gaugeName(name, "avg"), "Average "+help, nil, nil), prometheus.GaugeValue, deref(h.Avg))
		ch <- prometheus.MustNewConstMetric(prometheus.NewDesc(gaugeName(name, "p99"), "99th percentile "+help, nil, nil), prometheus.GaugeValue, deref(h.P99))
	}
}

// tts_total_latency_ms -> tts_total_latency_avg_ms
func gaugeName(histogram, stat string) string {
	base := strings.TrimSuffix(histogram, "_ms")
	return base + "_" + stat + "_ms"
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
