package server

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nearminter/internal/mint"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	mintRequests     *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	running          prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nearminter_mint_requests_total",
		Help: "Mint requests received over HTTP, by result",
	}, []string{"status"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nearminter_workflow_transitions_total",
		Help: "Mint workflow state transitions",
	}, []string{"state"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nearminter_run_duration_seconds",
		Help:    "Wall-clock duration of mint runs from upload start to terminal state",
		Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"result"})

	running := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nearminter_run_active",
		Help: "1 while a mint run holds the trigger",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(requests, transitions, duration, running)

	return &metricsRegistry{
		registry:         r,
		mintRequests:     requests,
		transitionsTotal: transitions,
		runDuration:      duration,
		running:          running,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incMint(status string) {
	m.mintRequests.WithLabelValues(status).Inc()
}

// watchWorkflow records orchestrator transitions until the returned stop
// function is called.
func (m *metricsRegistry) watchWorkflow(minter Minter) func() {
	ch, unsubscribe := minter.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		started := map[string]mint.Event{}
		for ev := range ch {
			m.observe(ev, started)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			<-done
		})
	}
}

func (m *metricsRegistry) observe(ev mint.Event, started map[string]mint.Event) {
	m.transitionsTotal.WithLabelValues(ev.State.String()).Inc()
	switch ev.State {
	case mint.Uploading:
		started[ev.RunID] = ev
		m.running.Set(1)
	case mint.Succeeded, mint.Failed, mint.Idle:
		first, ok := started[ev.RunID]
		if !ok {
			return
		}
		delete(started, ev.RunID)
		m.running.Set(0)
		result := ev.State.String()
		if ev.State == mint.Idle {
			result = "cancelled"
		}
		m.runDuration.WithLabelValues(result).Observe(ev.At.Sub(first.At).Seconds())
	}
}
