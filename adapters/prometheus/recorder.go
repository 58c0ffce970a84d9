package prometheus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-donations/core"
	"github.com/prometheus/client_golang/prometheus"
)

// LabelNames is the fixed label set for every donation metric. Tags outside
// this set are dropped and missing ones are reported as "".
var LabelNames = []string{"operation", "status", "step", "key_mode"}

var DefaultDurationBuckets = prometheus.ExponentialBuckets(5, 2, 12)

type Option func(*Recorder)

func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		r.namespace = sanitize(namespace)
	}
}

func WithBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// Recorder implements core.MetricsRecorder on top of prometheus collectors.
// Collectors are created on first use and registered with the registerer.
type Recorder struct {
	registerer prometheus.Registerer
	namespace  string
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	errs       []error
}

func NewRecorder(registerer prometheus.Registerer, opts ...Option) *Recorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		registerer: registerer,
		buckets:    DefaultDurationBuckets,
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if value < 0 {
		return
	}
	counter := r.counter(name)
	if counter == nil {
		return
	}
	counter.WithLabelValues(labelValues(tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	histogram := r.histogram(name)
	if histogram == nil {
		return
	}
	histogram.WithLabelValues(labelValues(tags)...).Observe(value)
}

// Errors returns registration failures collected so far.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *Recorder) counter(name string) *prometheus.CounterVec {
	metric := sanitize(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[metric]; ok {
		return existing
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      "Donation counter " + name,
	}, LabelNames)
	registered, err := r.register(vec)
	if err != nil {
		r.errs = append(r.errs, err)
		return nil
	}
	vec, ok := registered.(*prometheus.CounterVec)
	if !ok {
		r.errs = append(r.errs, fmt.Errorf("prometheus: %s is registered with another type", metric))
		return nil
	}
	r.counters[metric] = vec
	return vec
}

func (r *Recorder) histogram(name string) *prometheus.HistogramVec {
	metric := sanitize(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[metric]; ok {
		return existing
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      "Donation histogram " + name,
		Buckets:   r.buckets,
	}, LabelNames)
	registered, err := r.register(vec)
	if err != nil {
		r.errs = append(r.errs, err)
		return nil
	}
	vec, ok := registered.(*prometheus.HistogramVec)
	if !ok {
		r.errs = append(r.errs, fmt.Errorf("prometheus: %s is registered with another type", metric))
		return nil
	}
	r.histograms[metric] = vec
	return vec
}

func (r *Recorder) register(collector prometheus.Collector) (prometheus.Collector, error) {
	if err := r.registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector, nil
		}
		return nil, err
	}
	return collector, nil
}

func labelValues(tags map[string]string) []string {
	values := make([]string, len(LabelNames))
	for i, label := range LabelNames {
		values[i] = strings.TrimSpace(tags[label])
	}
	return values
}

// sanitize maps dotted metric names ("donations.start_donation.total") to the
// prometheus charset.
func sanitize(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)
