package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Chat turn stages tracked by the rolling window.
const (
	StageFirstThinking = "request_to_first_" + ChannelThinking
	StageFirstReply    = "request_to_first_" + ChannelReply
	StageTurnTotal     = "turn_total"
)

// Indicator names counted next to the stage latencies.
const (
	IndicatorFallbackReply        = "fallback_reply"
	IndicatorUnterminatedThinking = "unterminated_thinking"
)

// DefaultStageTargets are the p95 latency targets reported with each stage.
var DefaultStageTargets = map[string]float64{
	StageFirstThinking: 2000,
	StageFirstReply:    8000,
	StageTurnTotal:     30000,
}

type TurnStageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type TurnIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type TurnStageSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Stages      []TurnStageStats `json:"stages"`
	Indicators  []TurnIndicator  `json:"indicators,omitempty"`
}

// TurnStageWindow keeps the last N latencies of every chat turn stage and
// a counter per indicator. Safe for concurrent use; a nil window ignores
// observations.
type TurnStageWindow struct {
	mu         sync.Mutex
	size       int
	targets    map[string]float64
	rings      map[string]*latencyRing
	indicators map[string]int
}

func NewTurnStageWindow(size int) *TurnStageWindow {
	if size <= 0 {
		size = 256
	}
	return &TurnStageWindow{
		size:       size,
		targets:    DefaultStageTargets,
		rings:      make(map[string]*latencyRing),
		indicators: make(map[string]int),
	}
}

// SetTarget overrides the p95 target reported for stage. Zero clears it.
func (w *TurnStageWindow) SetTarget(stage string, ms float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	targets := make(map[string]float64, len(w.targets)+1)
	for k, v := range w.targets {
		targets[k] = v
	}
	if ms <= 0 {
		delete(targets, stage)
	} else {
		targets[stage] = ms
	}
	w.targets = targets
}

func (w *TurnStageWindow) Observe(stage string, ms float64) {
	if w == nil || stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[stage]
	if !ok {
		r = newLatencyRing(w.size)
		w.rings[stage] = r
	}
	r.push(ms)
}

func (w *TurnStageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if w == nil || name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *TurnStageWindow) Snapshot() TurnStageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := TurnStageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]TurnStageStats, 0, len(w.rings)),
	}
	for _, stage := range sortedKeys(w.rings) {
		r := w.rings[stage]
		if r.len() == 0 {
			continue
		}
		stats := summarize(r.sorted())
		stats.Stage = stage
		stats.LastMS = round2(r.last)
		stats.TargetP95MS = w.targets[stage]
		snap.Stages = append(snap.Stages, stats)
	}
	for _, name := range sortedKeys(w.indicators) {
		if n := w.indicators[name]; n > 0 {
			snap.Indicators = append(snap.Indicators, TurnIndicator{Name: name, Count: n})
		}
	}
	return snap
}

func (w *TurnStageWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.rings)
	clear(w.indicators)
}

// latencyRing is a fixed-capacity ring of samples.
type latencyRing struct {
	buf  []float64
	head int
	full bool
	last float64
}

func newLatencyRing(size int) *latencyRing {
	return &latencyRing{buf: make([]float64, size)}
}

func (r *latencyRing) push(v float64) {
	r.buf[r.head] = v
	r.last = v
	r.head = (r.head + 1) % len(r.buf)
	if r.head == 0 {
		r.full = true
	}
}

func (r *latencyRing) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.head
}

func (r *latencyRing) sorted() []float64 {
	out := slices.Clone(r.buf[:r.len()])
	slices.Sort(out)
	return out
}

// summarize fills the distribution fields from ascending samples.
func summarize(samples []float64) TurnStageStats {
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return TurnStageStats{
		Samples: len(samples),
		AvgMS:   round2(sum / float64(len(samples))),
		P50MS:   round2(percentile(samples, 50)),
		P95MS:   round2(percentile(samples, 95)),
		P99MS:   round2(percentile(samples, 99)),
	}
}

// percentile uses the nearest-rank method on ascending samples.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	rank = min(max(rank, 1), len(sorted))
	return sorted[rank-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
