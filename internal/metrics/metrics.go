// Package metrics exposes the healing engine's activity as Prometheus
// series. It does not touch the state store: the scheduler and control
// surface push values into it, and it never mutates anything the core
// depends on.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Collector owns the process's Prometheus series. Registry is exposed so
// the API layer can mount /metrics without this package knowing about HTTP.
type Collector struct {
	Registry *prometheus.Registry

	restartsTotal    *prometheus.CounterVec
	quarantinedGauge prometheus.Gauge
	monitoredGauge   prometheus.Gauge
	tickDuration     prometheus.Histogram
	maintenanceGauge prometheus.Gauge
	hostCPUPercent   prometheus.Gauge
	hostMemUsedBytes prometheus.Gauge
}

// New builds a Collector registered against its own registry (rather than
// the global default), so embedding this module never collides with a
// host process's existing metrics.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		Registry: reg,
		restartsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healctl_restarts_total",
			Help: "Total restart attempts, scheduler-initiated and manual, by stable id and outcome.",
		}, []string{"stable_id", "status"}),
		quarantinedGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "healctl_quarantined_containers",
			Help: "Number of monitored containers found quarantined on the most recent tick.",
		}),
		monitoredGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "healctl_monitored_containers",
			Help: "Number of containers monitored on the most recent tick.",
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "healctl_scheduler_tick_duration_seconds",
			Help:    "Wall-clock duration of a full scheduler tick.",
			Buckets: prometheus.DefBuckets,
		}),
		maintenanceGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "healctl_maintenance_enabled",
			Help: "1 when maintenance mode is enabled, 0 otherwise.",
		}),
		hostCPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "healctl_host_cpu_percent",
			Help: "Host CPU utilization percentage, sampled independently of the scheduler tick.",
		}),
		hostMemUsedBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "healctl_host_mem_used_bytes",
			Help: "Host memory used in bytes, sampled independently of the scheduler tick.",
		}),
	}
}

// RecordRestart increments the restart counter for a single outcome.
func (c *Collector) RecordRestart(stableID, status string) {
	c.restartsTotal.WithLabelValues(stableID, status).Inc()
}

// SetQuarantined sets the current quarantined-container gauge.
func (c *Collector) SetQuarantined(n int) { c.quarantinedGauge.Set(float64(n)) }

// SetMonitored sets the current monitored-container gauge.
func (c *Collector) SetMonitored(n int) { c.monitoredGauge.Set(float64(n)) }

// ObserveTick records how long one scheduler tick took.
func (c *Collector) ObserveTick(d time.Duration) { c.tickDuration.Observe(d.Seconds()) }

// SetMaintenance reflects the maintenance-mode flag as 0/1.
func (c *Collector) SetMaintenance(enabled bool) {
	if enabled {
		c.maintenanceGauge.Set(1)
	} else {
		c.maintenanceGauge.Set(0)
	}
}

// RunHostSampler periodically refreshes the host CPU/memory gauges on its
// own ticker, independent of the scheduler, so a stalled gopsutil syscall
// can never stall healing.
func (c *Collector) RunHostSampler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sampleHost(ctx)
		}
	}
}

func (c *Collector) sampleHost(ctx context.Context) {
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		c.hostCPUPercent.Set(percents[0])
	} else if err != nil {
		slog.Debug("metrics: host cpu sample failed", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		c.hostMemUsedBytes.Set(float64(vm.Used))
	} else {
		slog.Debug("metrics: host memory sample failed", "error", err)
	}
}
