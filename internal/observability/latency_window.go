package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// LatencyStats summarizes the recent samples of one operation.
type LatencyStats struct {
	Operation   string  `json:"operation"`
	Samples     int     `json:"samples"`
	Failures    int     `json:"failures"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Operations  []LatencyStats `json:"operations"`
}

// latencyWindow keeps the last maxSamples durations of every operation in a
// ring buffer.
type latencyWindow struct {
	mu         sync.RWMutex
	maxSamples int
	ops        map[string]*latencyBuffer
}

type latencyBuffer struct {
	values   []float64
	next     int
	filled   bool
	last     float64
	failures int
}

func newLatencyWindow(maxSamples int) *latencyWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &latencyWindow{
		maxSamples: maxSamples,
		ops:        make(map[string]*latencyBuffer),
	}
}

func (w *latencyWindow) observe(op string, d time.Duration, failed bool) {
	op = strings.TrimSpace(op)
	if op == "" || d < 0 {
		return
	}
	ms := float64(d.Microseconds()) / 1000

	w.mu.Lock()
	defer w.mu.Unlock()
	buf, ok := w.ops[op]
	if !ok {
		buf = &latencyBuffer{values: make([]float64, w.maxSamples)}
		w.ops[op] = buf
	}
	buf.values[buf.next] = ms
	buf.last = ms
	if failed {
		buf.failures++
	}
	buf.next++
	if buf.next >= len(buf.values) {
		buf.next = 0
		buf.filled = true
	}
}

func (w *latencyWindow) snapshot() LatencySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.ops))
	for op := range w.ops {
		keys = append(keys, op)
	}
	sort.Strings(keys)

	stats := make([]LatencyStats, 0, len(keys))
	for _, op := range keys {
		buf := w.ops[op]
		n := buf.next
		if buf.filled {
			n = len(buf.values)
		}
		if n == 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, buf.values[:n])
		sort.Float64s(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		stats = append(stats, LatencyStats{
			Operation:   op,
			Samples:     n,
			Failures:    buf.failures,
			LastMS:      round2(buf.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			P99MS:       round2(quantile(samples, 0.99)),
			TargetP95MS: targetP95MS(op),
		})
	}

	return LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Operations:  stats,
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func targetP95MS(op string) float64 {
	switch {
	case op == "chat_turn":
		return 8000
	case strings.HasPrefix(op, "llm."):
		return 6000
	case strings.HasPrefix(op, "store."):
		return 250
	default:
		return 0
	}
}
