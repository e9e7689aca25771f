// Package metrics records run statistics and pushes them to a Prometheus
// Pushgateway, the usual collection path for cron batch jobs.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/isometry/haridsync/internal/reconcile"
)

// Recorder collects the metrics of one process. It implements
// reconcile.Observer.
type Recorder struct {
	registry *prometheus.Registry

	entities    *prometheus.CounterVec
	relocations *prometheus.CounterVec
	duration    prometheus.Gauge
	lastSuccess prometheus.Gauge // registered once set
	lastFailure prometheus.Gauge // registered once set
	snapshot    *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		entities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "haridsync_entities_total",
			Help: "Entities processed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		relocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "haridsync_relocations_total",
			Help: "Entries moved to a different container, by kind.",
		}, []string{"kind"}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "haridsync_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "haridsync_last_success_timestamp_seconds",
			Help: "Unix time of the last run that completed.",
		}),
		lastFailure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "haridsync_last_failure_timestamp_seconds",
			Help: "Unix time of the last run that was aborted.",
		}),
		snapshot: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "haridsync_snapshot_records",
			Help: "Records in the last fetched snapshot, by collection.",
		}, []string{"collection"}),
	}
}

// Registry returns the registry holding the recorder's metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// EntityProcessed counts one entity result.
func (r *Recorder) EntityProcessed(res reconcile.Result) {
	r.entities.WithLabelValues(res.Kind.String(), string(res.Outcome)).Inc()
	if res.Relocated {
		r.relocations.WithLabelValues(res.Kind.String()).Inc()
	}
}

// SnapshotFetched records the collection sizes of a snapshot.
func (r *Recorder) SnapshotFetched(counts map[string]any) {
	for collection, n := range counts {
		if v, ok := n.(int); ok {
			r.snapshot.WithLabelValues(collection).Set(float64(v))
		}
	}
}

// RunFinished records the run duration and whether it completed. Only the
// timestamp of the actual outcome is gathered, so a push never carries a
// zero for the other one.
func (r *Recorder) RunFinished(report *reconcile.Report, runErr error) {
	if report != nil {
		r.duration.Set(report.Duration().Seconds())
	}
	stamp := r.lastSuccess
	if runErr != nil {
		stamp = r.lastFailure
	}
	stamp.Set(float64(time.Now().Unix()))

	var registered prometheus.AlreadyRegisteredError
	if err := r.registry.Register(stamp); err != nil && !errors.As(err, &registered) {
		panic(err)
	}
}

// Pusher sends a registry to a Pushgateway.
type Pusher struct {
	URL    string
	Job    string
	Client *http.Client
}

// Push replaces the metrics of the job grouping that share a name with
// those in reg. Metrics absent from reg keep their pushed values.
func (p *Pusher) Push(ctx context.Context, reg prometheus.Gatherer, instance string) error {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	pusher := push.New(p.URL, p.Job).Gatherer(reg).Client(client)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if err := pusher.AddContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", p.URL, err)
	}
	return nil
}
