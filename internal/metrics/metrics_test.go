package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"chainwatch/internal/eventbus"
)

func TestCollector_SubscribeEvents_incrementsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	bus := eventbus.New()
	c.SubscribeEvents(bus)

	bus.Publish(eventbus.Event{Type: "job.started", Action: "wallet_snapshot"})
	bus.Publish(eventbus.Event{Type: "job.completed", Action: "wallet_snapshot"})

	deadline := time.Now().Add(time.Second)
	for {
		m := &dto.Metric{}
		c.cyclesCompleted.WithLabelValues("wallet_snapshot").Write(m)
		if m.GetCounter().GetValue() >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected cyclesCompleted to reach 1")
		}
		time.Sleep(time.Millisecond)
	}
}
