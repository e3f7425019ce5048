package metrics

import (
	"context"
	"time"
)

// StatusSource is the subset of the Progress Store the collector needs to
// refresh the last-sync-timestamp and active-sync gauges. Defined here,
// rather than imported from pkg/store, so metrics has no dependency on the
// storage layer.
type StatusSource interface {
	LastSyncTimestamps(ctx context.Context) (map[string]time.Time, error)
	ActiveEntityKinds(ctx context.Context) (map[string]bool, error)
}

// Collector periodically refreshes gauges from the Progress Store.
type Collector struct {
	source StatusSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(source StatusSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectLastSync(ctx)
	c.collectActiveSyncs(ctx)
}

func (c *Collector) collectLastSync(ctx context.Context) {
	timestamps, err := c.source.LastSyncTimestamps(ctx)
	if err != nil {
		return
	}
	for entityKind, at := range timestamps {
		LastSyncTimestamp.WithLabelValues(entityKind).Set(float64(at.Unix()))
	}
}

func (c *Collector) collectActiveSyncs(ctx context.Context) {
	active, err := c.source.ActiveEntityKinds(ctx)
	if err != nil {
		return
	}
	for entityKind, isActive := range active {
		v := 0.0
		if isActive {
			v = 1.0
		}
		ActiveSyncs.WithLabelValues(entityKind).Set(v)
	}
}
