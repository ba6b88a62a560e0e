package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// defaultBuckets covers fast HTTP handlers up to slow language model calls.
var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// family is one named metric with a fixed label set, rendered in the
// Prometheus text exposition format.
type family interface {
	write(b *strings.Builder)
}

// registry keeps families in registration order so the output is stable.
type registry struct {
	mu       sync.Mutex
	families []family
}

var defaultRegistry = &registry{}

func (r *registry) register(f family) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families = append(r.families, f)
}

func (r *registry) render() string {
	r.mu.Lock()
	families := append([]family(nil), r.families...)
	r.mu.Unlock()

	var b strings.Builder
	b.Grow(4096)
	for _, f := range families {
		f.write(&b)
	}
	return b.String()
}

type meta struct {
	name   string
	help   string
	labels []string
}

func (m meta) header(b *strings.Builder, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", m.name, m.help, m.name, kind)
}

// labelPairs renders `k1="v1",k2="v2"` for the given values.
func (m meta) labelPairs(values []string) string {
	pairs := make([]string, len(m.labels))
	for i, label := range m.labels {
		pairs[i] = fmt.Sprintf("%s=\"%s\"", label, escape(values[i]))
	}
	return strings.Join(pairs, ",")
}

const keySep = "\xff"

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// counterVec is a monotonically increasing counter per label combination.
type counterVec struct {
	meta
	mu     sync.Mutex
	values map[string]uint64
}

func newCounterVec(name, help string, labels ...string) *counterVec {
	c := &counterVec{meta: meta{name: name, help: help, labels: labels}, values: make(map[string]uint64)}
	defaultRegistry.register(c)
	return c
}

func (c *counterVec) inc(values ...string) {
	key := strings.Join(values, keySep)
	c.mu.Lock()
	c.values[key]++
	c.mu.Unlock()
}

func (c *counterVec) write(b *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.header(b, "counter")
	for _, key := range sortedKeys(c.values) {
		fmt.Fprintf(b, "%s{%s} %d\n", c.name, c.labelPairs(strings.Split(key, keySep)), c.values[key])
	}
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram() *histogram {
	return &histogram{buckets: defaultBuckets, counts: make([]uint64, len(defaultBuckets))}
}

// observe keeps cumulative bucket counts; values above the last bound only
// show up in the +Inf bucket through count.
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	idx := sort.SearchFloat64s(h.buckets, value)
	for i := idx; i < len(h.counts); i++ {
		h.counts[i]++
	}
}

// histogramVec keeps one histogram per label combination.
type histogramVec struct {
	meta
	mu     sync.Mutex
	values map[string]*histogram
}

func newHistogramVec(name, help string, labels ...string) *histogramVec {
	h := &histogramVec{meta: meta{name: name, help: help, labels: labels}, values: make(map[string]*histogram)}
	defaultRegistry.register(h)
	return h
}

func (h *histogramVec) observe(seconds float64, values ...string) {
	key := strings.Join(values, keySep)
	h.mu.Lock()
	defer h.mu.Unlock()
	hist := h.values[key]
	if hist == nil {
		hist = newHistogram()
		h.values[key] = hist
	}
	hist.observe(seconds)
}

func (h *histogramVec) write(b *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.header(b, "histogram")
	for _, key := range sortedKeys(h.values) {
		labels := h.labelPairs(strings.Split(key, keySep))
		hist := h.values[key]
		for i, bound := range hist.buckets {
			fmt.Fprintf(b, "%s_bucket{%s,le=\"%s\"} %d\n", h.name, labels, formatFloat(bound), hist.counts[i])
		}
		fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", h.name, labels, hist.count)
		fmt.Fprintf(b, "%s_sum{%s} %s\n", h.name, labels, formatFloat(hist.sum))
		fmt.Fprintf(b, "%s_count{%s} %d\n", h.name, labels, hist.count)
	}
}

func escape(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `"`, `\"`)
	return strings.ReplaceAll(value, "\n", `\n`)
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
