package manager

import (
	"time"

	"github.com/cuemby/dynadns/pkg/metrics"
	"github.com/cuemby/dynadns/pkg/state"
)

// MetricsCollector periodically publishes endpoint counts by service type
// and published state.
type MetricsCollector struct {
	states   *state.Store
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(states *state.Store, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		states:   states,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)
		defer ticker.Stop()

		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for it to exit
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *MetricsCollector) collect() {
	counts := make(map[[2]string]int)
	for _, ep := range c.states.Endpoints() {
		s := ep.State()
		label := "up"
		switch {
		case s.IsForced() && s.IsDown():
			label = "forced_down"
		case s.IsForced():
			label = "forced_up"
		case s.IsDown():
			label = "down"
		}
		counts[[2]string{ep.ServiceType.Name, label}]++
	}

	metrics.EndpointsTotal.Reset()
	for k, n := range counts {
		metrics.EndpointsTotal.WithLabelValues(k[0], k[1]).Set(float64(n))
	}
}
