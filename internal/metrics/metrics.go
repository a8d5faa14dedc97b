// Package metrics exposes Prometheus gauges and counters for the Delay
// Queue and the job execution cycle. Collectors register against an
// explicit prometheus.Registerer rather than the global default, so tests
// can build independent registries; the job-lifecycle counters are driven
// off internal/eventbus rather than direct calls from the scheduler.
package metrics

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chainwatch/internal/eventbus"
	"chainwatch/internal/queue"
)

// Collector owns every metric this service reports and the background
// loop that keeps the queue gauges fresh.
type Collector struct {
	queueWaiting   prometheus.Gauge
	queueActive    prometheus.Gauge
	queueDelayed   prometheus.Gauge
	queueRepeating prometheus.Gauge
	queueFailed    prometheus.Gauge

	cyclesStarted   *prometheus.CounterVec
	cyclesCompleted *prometheus.CounterVec
	cyclesFailed    *prometheus.CounterVec
}

// New registers every metric against reg and returns a ready Collector.
// Pass prometheus.NewRegistry() (not the global DefaultRegisterer) so
// tests can create independent Collectors without colliding.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		queueWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chainwatch_queue_waiting", Help: "Items whose ready time has passed, not yet claimed by a handler.",
		}),
		queueActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chainwatch_queue_active", Help: "Items currently claimed by an in-flight handler.",
		}),
		queueDelayed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chainwatch_queue_delayed", Help: "Items scheduled for a future ready time.",
		}),
		queueRepeating: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chainwatch_queue_repeating", Help: "Currently registered repeating specs.",
		}),
		queueFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chainwatch_queue_failed", Help: "Entries in the bounded recent-failures list.",
		}),
		cyclesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainwatch_job_cycles_started_total", Help: "Job execution cycles started, by action.",
		}, []string{"action"}),
		cyclesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainwatch_job_cycles_completed_total", Help: "Job execution cycles completed successfully, by action.",
		}, []string{"action"}),
		cyclesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainwatch_job_cycles_failed_total", Help: "Job execution cycles that ended in failure, by action.",
		}, []string{"action"}),
	}

	reg.MustRegister(
		c.queueWaiting, c.queueActive, c.queueDelayed, c.queueRepeating, c.queueFailed,
		c.cyclesStarted, c.cyclesCompleted, c.cyclesFailed,
	)
	return c
}

// SubscribeEvents wires job-lifecycle counters to bus so the scheduler
// never calls this package directly.
func (c *Collector) SubscribeEvents(bus *eventbus.Bus) {
	started := make(chan eventbus.Event, 256)
	completed := make(chan eventbus.Event, 256)
	failed := make(chan eventbus.Event, 256)
	bus.Subscribe("job.started", started)
	bus.Subscribe("job.completed", completed)
	bus.Subscribe("job.failed", failed)

	go func() {
		for {
			select {
			case evt := <-started:
				c.cyclesStarted.WithLabelValues(evt.Action).Inc()
			case evt := <-completed:
				c.cyclesCompleted.WithLabelValues(evt.Action).Inc()
			case evt := <-failed:
				c.cyclesFailed.WithLabelValues(evt.Action).Inc()
			}
		}
	}()
}

// PollQueue periodically refreshes the queue gauges from q.QueueStatus
// until ctx is cancelled.
func (c *Collector) PollQueue(ctx context.Context, q *queue.Queue, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := q.QueueStatus(ctx)
			if err != nil {
				log.Printf("[metrics] queue status poll failed: %v", err)
				continue
			}
			c.queueWaiting.Set(float64(status.Waiting))
			c.queueActive.Set(float64(status.Active))
			c.queueDelayed.Set(float64(status.Delayed))
			c.queueRepeating.Set(float64(status.Repeating))
			c.queueFailed.Set(float64(status.Failed))
		}
	}
}
