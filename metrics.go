package pagedkv

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/pagedkv/block"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    allocCounter    prometheus.Counter
//	    allocHistogram  prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordAllocate(d block.Device, duration time.Duration, err error) {
//	    p.allocCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordAllocate is called after each mutable or immutable allocation.
	// duration is the total time taken, err is nil if successful.
	RecordAllocate(d block.Device, duration time.Duration, err error)

	// RecordFree is called after each free.
	RecordFree(d block.Device, duration time.Duration, err error)

	// RecordFork is called after each chain fork. length is the number of
	// blocks in the forked chain.
	RecordFork(d block.Device, length int, duration time.Duration, err error)

	// RecordCopyOnWriteDrain is called on each ClearCopyOnWrites with the
	// number of pending copies handed to the executor.
	RecordCopyOnWriteDrain(copies int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAllocate(block.Device, time.Duration, error)  {}
func (NoopMetricsCollector) RecordFree(block.Device, time.Duration, error)      {}
func (NoopMetricsCollector) RecordFork(block.Device, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordCopyOnWriteDrain(int)                         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AllocCount      atomic.Int64
	AllocErrors     atomic.Int64
	AllocTotalNanos atomic.Int64
	FreeCount       atomic.Int64
	FreeErrors      atomic.Int64
	ForkCount       atomic.Int64
	ForkBlocks      atomic.Int64
	ForkErrors      atomic.Int64
	CopyOnWrites    atomic.Int64
}

func (c *BasicMetricsCollector) RecordAllocate(_ block.Device, duration time.Duration, err error) {
	c.AllocCount.Add(1)
	c.AllocTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		c.AllocErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordFree(_ block.Device, _ time.Duration, err error) {
	c.FreeCount.Add(1)
	if err != nil {
		c.FreeErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordFork(_ block.Device, length int, _ time.Duration, err error) {
	c.ForkCount.Add(1)
	c.ForkBlocks.Add(int64(length))
	if err != nil {
		c.ForkErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordCopyOnWriteDrain(copies int) {
	c.CopyOnWrites.Add(int64(copies))
}
