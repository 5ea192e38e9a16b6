// Package metrics holds the pipeline's counters and latency windows and
// renders them as Prometheus text or a JSON snapshot.
package metrics

import (
	"log/slog"
	"math"
	"slices"
	"sync"
)

const DefaultHistogramCapacity = 1000

// Counter names. The set is closed: increments of any other name are dropped.
const (
	Requests          = "tts_requests_total"
	CacheHits         = "tts_cache_hits_total"
	CacheMisses       = "tts_cache_misses_total"
	Synthesis         = "tts_synthesis_total"
	SynthesisErrors   = "tts_synthesis_errors_total"
	Uploads           = "tts_uploads_total"
	UploadErrors      = "tts_upload_errors_total"
	Playbacks         = "tts_playbacks_total"
	PlaybackErrors    = "tts_playback_errors_total"
	StreamSessions    = "tts_stream_sessions_total"
	StreamChunks      = "tts_stream_chunks_total"
	StreamChunkErrors = "tts_stream_chunk_errors_total"
	Retries           = "tts_retries_total"
	Errors            = "tts_errors_total"
)

// Histogram names, all in milliseconds.
const (
	TotalLatency     = "tts_total_latency_ms"
	CacheLatency     = "tts_cache_latency_ms"
	SynthesisLatency = "tts_synthesis_latency_ms"
	UploadLatency    = "tts_upload_latency_ms"
	PlaybackLatency  = "tts_playback_latency_ms"
)

var counterHelp = map[string]string{
	Requests:          "Synthesis requests accepted by the pipeline",
	CacheHits:         "Requests served from a cached audio URL",
	CacheMisses:       "Requests that required synthesis",
	Synthesis:         "Successful synthesis calls",
	SynthesisErrors:   "Synthesis calls that failed after retries",
	Uploads:           "Successful audio uploads",
	UploadErrors:      "Audio uploads that failed after retries",
	Playbacks:         "Playbacks started on a call",
	PlaybackErrors:    "Playbacks the telephony provider rejected",
	StreamSessions:    "Streaming sessions started",
	StreamChunks:      "Audio chunks forwarded to calls",
	StreamChunkErrors: "Audio chunks that failed to forward",
	Retries:           "Retried dependency calls",
	Errors:            "Requests that ended in a pipeline failure",
}

var histogramHelp = map[string]string{
	TotalLatency:     "End-to-end request latency",
	CacheLatency:     "Cache lookup latency",
	SynthesisLatency: "Synthesis latency including retries",
	UploadLatency:    "Upload latency including retries",
	PlaybackLatency:  "Playback start latency",
}

// Collector is the metric state of one pipeline. It is safe for concurrent
// use and is passed explicitly to whoever records into it.
type Collector struct {
	mu         sync.Mutex
	capacity   int
	counters   map[string]float64
	histograms map[string][]float64
}

func NewCollector(histogramCapacity int) *Collector {
	if histogramCapacity < 1 {
		histogramCapacity = DefaultHistogramCapacity
	}
	c := &Collector{capacity: histogramCapacity}
	c.reset()
	return c
}

func (c *Collector) reset() {
	c.counters = make(map[string]float64, len(counterHelp))
	for name := range counterHelp {
		c.counters[name] = 0
	}
	c.histograms = make(map[string][]float64, len(histogramHelp))
	for name := range histogramHelp {
		c.histograms[name] = make([]float64, 0, c.capacity)
	}
}

func (c *Collector) Inc(name string) { c.Add(name, 1) }

// Add increases a counter. Unknown names and negative amounts are ignored.
func (c *Collector) Add(name string, amount float64) {
	if amount < 0 {
		slog.Warn("ignoring negative counter increment", "counter", name, "amount", amount)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.counters[name]; !ok {
		slog.Warn("unknown counter", "counter", name)
		return
	}
	c.counters[name] += amount
}

func (c *Collector) Counter(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

// Observe appends a sample, evicting the oldest once the window is full.
func (c *Collector) Observe(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.histograms[name]
	if !ok {
		slog.Warn("unknown histogram", "histogram", name)
		return
	}
	if len(h) >= c.capacity {
		h = append(h[:0], h[len(h)-c.capacity+1:]...)
	}
	c.histograms[name] = append(h, value)
}

// Percentile uses nearest rank over the current window. ok is false when
// the window is empty.
func (c *Collector) Percentile(name string, p float64) (value float64, ok bool) {
	c.mu.Lock()
	samples := slices.Clone(c.histograms[name])
	c.mu.Unlock()
	return percentile(samples, p)
}

func (c *Collector) Average(name string) (value float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return average(c.histograms[name])
}

func (c *Collector) Count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.histograms[name])
}

// Reset zeroes every counter and empties every window. It exists for tests
// and operator tooling only.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func percentile(samples []float64, p float64) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	slices.Sort(samples)
	p = math.Max(0, math.Min(100, p))
	rank := int(math.Ceil(p * float64(len(samples)) / 100))
	if rank < 1 {
		rank = 1
	}
	return samples[rank-1], true
}

func average(samples []float64) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples)), true
}
