// Package metrics holds the Prometheus collectors shared by the worker and
// the web service.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"thirdcoast.systems/youmood/internal/domain"
)

type Metrics struct {
	Registry *prometheus.Registry

	Retries          *prometheus.CounterVec
	ChannelSyncs     *prometheus.CounterVec
	VideosDiscovered prometheus.Counter
	StageTransitions *prometheus.CounterVec
	FramesSampled    prometheus.Counter
	FacesClassified  *prometheus.CounterVec
	StepDuration     *prometheus.HistogramVec
	VideosByStage    *prometheus.GaugeVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "youmood",
			Name:      "retries_total",
			Help:      "Retry sleeps taken, by operation.",
		}, []string{"op"}),
		ChannelSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "youmood",
			Subsystem: "discovery",
			Name:      "channel_syncs_total",
			Help:      "Channel synchronizations, by result.",
		}, []string{"result"}),
		VideosDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "youmood",
			Subsystem: "discovery",
			Name:      "videos_discovered_total",
			Help:      "Videos returned by channel searches after filtering.",
		}),
		StageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "youmood",
			Subsystem: "pipeline",
			Name:      "stage_transitions_total",
			Help:      "Video stage writes, by target stage.",
		}, []string{"stage"}),
		FramesSampled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "youmood",
			Subsystem: "pipeline",
			Name:      "frames_sampled_total",
			Help:      "Frames handed to the face detector.",
		}),
		FacesClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "youmood",
			Subsystem: "pipeline",
			Name:      "faces_classified_total",
			Help:      "Detected faces, by emotion label.",
		}, []string{"label"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "youmood",
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Wall time of each pipeline step.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		}, []string{"step"}),
		VideosByStage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "youmood",
			Subsystem: "store",
			Name:      "videos",
			Help:      "Videos in the work store, by stage.",
		}, []string{"stage"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Retries,
		m.ChannelSyncs,
		m.VideosDiscovered,
		m.StageTransitions,
		m.FramesSampled,
		m.FacesClassified,
		m.StepDuration,
		m.VideosByStage,
	)
	return m
}

// OnRetry returns a hook for resilience.Retry.OnRetry counting sleeps for op.
// A nil Metrics yields a no-op.
func (m *Metrics) OnRetry(op string) func(int, time.Duration, error) {
	if m == nil {
		return nil
	}
	c := m.Retries.WithLabelValues(op)
	return func(int, time.Duration, error) { c.Inc() }
}

func (m *Metrics) Stage(stage domain.Stage) {
	if m == nil {
		return
	}
	m.StageTransitions.WithLabelValues(stage.String()).Inc()
}

func (m *Metrics) Sync(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ChannelSyncs.WithLabelValues(result).Inc()
}

func (m *Metrics) Discovered(n int) {
	if m == nil {
		return
	}
	m.VideosDiscovered.Add(float64(n))
}

func (m *Metrics) Frame() {
	if m == nil {
		return
	}
	m.FramesSampled.Inc()
}

func (m *Metrics) Face(label domain.Label) {
	if m == nil {
		return
	}
	m.FacesClassified.WithLabelValues(label.Column()).Inc()
}

// Step starts timing a pipeline step; call the returned func when it ends.
func (m *Metrics) Step(step string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.StepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
	}
}

// StageCounter is the slice of the work store the stage gauge needs.
type StageCounter interface {
	VideoStageCounts(ctx context.Context) (map[domain.Stage]int64, error)
}

// RefreshStages sets the per-stage gauge from the store.
func (m *Metrics) RefreshStages(ctx context.Context, s StageCounter) error {
	counts, err := s.VideoStageCounts(ctx)
	if err != nil {
		return err
	}
	m.VideosByStage.Reset()
	for stage, n := range counts {
		m.VideosByStage.WithLabelValues(stage.String()).Set(float64(n))
	}
	return nil
}

// WatchStages refreshes the stage gauge every interval until ctx is done.
func (m *Metrics) WatchStages(ctx context.Context, s StageCounter, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := m.RefreshStages(ctx, s); err != nil && ctx.Err() == nil {
			slog.Warn("refresh stage gauge failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
