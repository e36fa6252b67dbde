// Package metrics exposes the kernel's Prometheus instrumentation,
// adapted field-for-field from consensus/metrics.go's
// PrometheusMetrics/NopMetrics pair onto the scheduler-pass, mailbox,
// mmap, and router concerns SPEC_FULL.md §2 names instead of
// blockchain-consensus ones.
package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"

	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this package.
	MetricsSubsystem = "nodekernel"
)

// Metrics contains metrics exposed by the kernel.
type Metrics struct {
	// SchedulerPasses counts completed schedule() passes.
	SchedulerPasses metrics.Counter
	// SchedulerPassSeconds times each schedule() pass.
	SchedulerPassSeconds metrics.Histogram
	// SlowCallbacks counts dispatches that exceeded the 200ms warning threshold.
	SlowCallbacks metrics.Counter

	// TasksRegistered is the current number of live tasks.
	TasksRegistered metrics.Gauge
	// TaskQueueDepth is the current message queue length for a task.
	TaskQueueDepth metrics.Gauge
	// BusyWithoutTrafficSeconds is a task's current busy-without-traffic duration.
	BusyWithoutTrafficSeconds metrics.Gauge

	// MailboxOccupancy is the occupied-slot count for a mailbox group.
	MailboxOccupancy metrics.Gauge
	// MailboxDropped counts ISR posts that found no fitting mailbox slot.
	MailboxDropped metrics.Counter

	// MmapSyncLagSeconds is the time since a from-region's last successful sync.
	MmapSyncLagSeconds metrics.Gauge
	// MmapPushesSent counts successful mmap_update_to pushes.
	MmapPushesSent metrics.Counter
	// MmapRequestsSent counts mmap_sync_req messages emitted.
	MmapRequestsSent metrics.Counter

	// RouterDrops counts router_raw calls that dropped (loop avoidance or disabled passive tunnel).
	RouterDrops metrics.Counter
	// RouterBytesSent counts bytes handed to a tunnel's Send.
	RouterBytesSent metrics.Counter

	// PowerActivateFailures counts failed power-manager activations.
	PowerActivateFailures metrics.Counter
	// PowerGiveUps counts tasks whose power manager reached the sticky give-up state.
	PowerGiveUps metrics.Counter

	// TopologyChanges counts synchronize_tasklist passes that detected a change.
	TopologyChanges metrics.Counter
	// PeersKnown is the current MCU registry size, local record excluded.
	PeersKnown metrics.Gauge
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library. Optionally, labels can be provided along with their values
// ("foo", "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		SchedulerPasses: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "scheduler_passes_total",
			Help:      "Number of completed schedule() passes.",
		}, labels).With(labelsAndValues...),
		SchedulerPassSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "scheduler_pass_seconds",
			Help:      "Wall time of a single schedule() pass.",
		}, labels).With(labelsAndValues...),
		SlowCallbacks: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "slow_callbacks_total",
			Help:      "Task dispatches that exceeded the 200ms warning threshold.",
		}, labels).With(labelsAndValues...),

		TasksRegistered: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "tasks_registered",
			Help:      "Number of live tasks.",
		}, labels).With(labelsAndValues...),
		TaskQueueDepth: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "task_queue_depth",
			Help:      "Message queue length for a task.",
		}, append(labels, "task")).With(labelsAndValues...),
		BusyWithoutTrafficSeconds: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "busy_without_traffic_seconds",
			Help:      "Current busy-without-traffic duration for a task.",
		}, append(labels, "task")).With(labelsAndValues...),

		MailboxOccupancy: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "mailbox_occupancy",
			Help:      "Occupied slot count for a mailbox group.",
		}, append(labels, "capacity")).With(labelsAndValues...),
		MailboxDropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "mailbox_dropped_total",
			Help:      "ISR posts that found no fitting mailbox slot.",
		}, labels).With(labelsAndValues...),

		MmapSyncLagSeconds: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "mmap_sync_lag_seconds",
			Help:      "Time since a from-region's last successful sync.",
		}, append(labels, "region")).With(labelsAndValues...),
		MmapPushesSent: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "mmap_pushes_sent_total",
			Help:      "Successful mmap_update_to pushes.",
		}, labels).With(labelsAndValues...),
		MmapRequestsSent: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "mmap_requests_sent_total",
			Help:      "mmap_sync_req messages emitted.",
		}, labels).With(labelsAndValues...),

		RouterDrops: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "router_drops_total",
			Help:      "router_raw calls that dropped a frame.",
		}, labels).With(labelsAndValues...),
		RouterBytesSent: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "router_bytes_sent_total",
			Help:      "Bytes handed to a tunnel's Send.",
		}, labels).With(labelsAndValues...),

		PowerActivateFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "power_activate_failures_total",
			Help:      "Failed power-manager activations.",
		}, labels).With(labelsAndValues...),
		PowerGiveUps: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "power_give_ups_total",
			Help:      "Tasks whose power manager reached the sticky give-up state.",
		}, labels).With(labelsAndValues...),

		TopologyChanges: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "topology_changes_total",
			Help:      "synchronize_tasklist passes that detected a change.",
		}, labels).With(labelsAndValues...),
		PeersKnown: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peers_known",
			Help:      "MCU registry size, local record excluded.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics, the default for tests and the
// example binary when Prometheus exposition isn't wired up.
func NopMetrics() *Metrics {
	return &Metrics{
		SchedulerPasses:      discard.NewCounter(),
		SchedulerPassSeconds: discard.NewHistogram(),
		SlowCallbacks:        discard.NewCounter(),

		TasksRegistered:           discard.NewGauge(),
		TaskQueueDepth:            discard.NewGauge(),
		BusyWithoutTrafficSeconds: discard.NewGauge(),

		MailboxOccupancy: discard.NewGauge(),
		MailboxDropped:   discard.NewCounter(),

		MmapSyncLagSeconds: discard.NewGauge(),
		MmapPushesSent:     discard.NewCounter(),
		MmapRequestsSent:   discard.NewCounter(),

		RouterDrops:     discard.NewCounter(),
		RouterBytesSent: discard.NewCounter(),

		PowerActivateFailures: discard.NewCounter(),
		PowerGiveUps:          discard.NewCounter(),

		TopologyChanges: discard.NewCounter(),
		PeersKnown:      discard.NewGauge(),
	}
}
