package goLink

import (
	"sync"
	"testing"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(MetricLinkStarted)
			}
		}()
	}
	wg.Wait()
	m.Inc(MetricConnectSuccess)

	snap := m.Snapshot()
	if snap.Counters[MetricLinkStarted] != 800 {
		t.Fatalf("expected 800 link starts, got %d", snap.Counters[MetricLinkStarted])
	}
	if snap.Counters[MetricConnectSuccess] != 1 {
		t.Fatalf("expected 1 connect success, got %d", snap.Counters[MetricConnectSuccess])
	}
	if _, ok := snap.Counters[MetricLinkFailed]; ok {
		t.Fatal("zero counters must not appear in the snapshot")
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{})
	m.Inc(MetricLinkStarted)
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("disabled metrics must stay empty")
	}
	m.Inc(metricIDCount + 1)
}
