package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/wikindex/internal/progress"
)

// PrometheusSink turns progress events into run, wave and fetch metrics.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	waves        *prometheus.CounterVec
	waveSize     *prometheus.HistogramVec
	admitted     prometheus.Counter
	fetches      *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wikindex_runs_started_total",
			Help: "Runs started, by phase.",
		}, []string{"phase"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wikindex_runs_completed_total",
			Help: "Runs completed, by phase and result.",
		}, []string{"phase", "result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wikindex_runs_active",
			Help: "Runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wikindex_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{0.1, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"phase", "result"}),
		waves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wikindex_waves_total",
			Help: "Crawl waves and map windows completed.",
		}, []string{"phase"}),
		waveSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wikindex_wave_size",
			Help:    "URLs processed per wave or window.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}, []string{"phase"}),
		admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wikindex_admitted_urls_total",
			Help: "URLs admitted to a crawl's visited set.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wikindex_fetches_total",
			Help: "Fetch tasks completed, by phase, site and outcome.",
		}, []string{"phase", "site", "outcome"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wikindex_fetch_duration_seconds",
			Help:    "Fetch task latency, by phase.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"phase"}),
		tracker: newRunTracker(),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsActive, s.runDuration,
		s.waves, s.waveSize, s.admitted, s.fetches, s.fetchLatency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		phase := string(evt.Phase)
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.WithLabelValues(phase).Inc()
			if s.tracker.start(evt.RunID, evt.Phase) {
				s.runsActive.Inc()
			}
		case progress.StageRunDone, progress.StageRunError:
			result := "success"
			if evt.Stage == progress.StageRunError {
				result = "error"
			}
			s.runsCompleted.WithLabelValues(phase, result).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(phase, result).Observe(evt.Dur.Seconds())
			}
			if s.tracker.complete(evt.RunID, evt.Phase) {
				s.runsActive.Dec()
			}
		case progress.StageWaveDone:
			s.waves.WithLabelValues(phase).Inc()
			s.waveSize.WithLabelValues(phase).Observe(float64(evt.Items))
			if evt.Admitted > 0 {
				s.admitted.Add(float64(evt.Admitted))
			}
		case progress.StageFetchDone:
			site := evt.Site
			if site == "" {
				site = "unknown"
			}
			s.fetches.WithLabelValues(phase, site, string(evt.Outcome)).Inc()
			if evt.Dur > 0 {
				s.fetchLatency.WithLabelValues(phase).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runKey struct {
	id    [16]byte
	phase progress.Phase
}

type runTracker struct {
	mu      sync.Mutex
	running map[runKey]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[runKey]struct{})}
}

func (t *runTracker) start(id [16]byte, phase progress.Phase) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := runKey{id, phase}
	if _, ok := t.running[k]; ok {
		return false
	}
	t.running[k] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte, phase progress.Phase) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := runKey{id, phase}
	if _, ok := t.running[k]; !ok {
		return false
	}
	delete(t.running, k)
	return true
}
