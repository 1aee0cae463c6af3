package pagedkv

import (
	"github.com/hupe1980/pagedkv/block"
	"github.com/hupe1980/pagedkv/resource"
)

// DefaultBlockSize is the number of tokens per block when none is
// configured. 16 matches the common serving-engine default.
const DefaultBlockSize = 16

// DeviceConfig sizes one memory tier's block pool.
type DeviceConfig struct {
	Device    block.Device
	NumBlocks int
}

type options struct {
	blockSize     int
	devices       []DeviceConfig
	prefixCaching bool
	logger        *Logger
	metrics       MetricsCollector
	rc            *resource.Controller
	bytesPerBlock int64
}

// Option configures allocator construction.
//
// Options exist to keep the constructor surface small: every knob has a
// working default except the device pools, which must be configured
// explicitly via WithDevice.
type Option func(*options)

// WithBlockSize configures the fixed token capacity of every block.
//
// Block size trades cache granularity against bookkeeping overhead: smaller
// blocks deduplicate shorter shared prefixes but mean longer chains and more
// refcount traffic. The value is fixed for the allocator's lifetime; all
// tiers share it so content hashes stay comparable across a migration.
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = n
	}
}

// WithDevice adds a memory tier with a pool of numBlocks slots. Tiers are
// assigned disjoint block-ID ranges in the order they are configured, so an
// ID identifies both slot and tier. Configuring the same device twice is a
// construction error.
func WithDevice(d block.Device, numBlocks int) Option {
	return func(o *options) {
		o.devices = append(o.devices, DeviceConfig{Device: d, NumBlocks: numBlocks})
	}
}

// WithPrefixCaching toggles content-addressed block reuse.
//
// Enabled, identical full blocks across sequences share one physical slot
// and freed blocks stay resurrectable until their slot is reused. Disabled,
// every allocation claims a fresh slot and blocks are reclaimed as soon as
// the last owner frees them — useful when workloads have no shared prefixes
// and hash bookkeeping is pure overhead.
func WithPrefixCaching(enabled bool) Option {
	return func(o *options) {
		o.prefixCaching = enabled
	}
}

// WithLogger configures structured logging. The default is NoopLogger; the
// allocator is a library and stays silent unless asked.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsCollector configures operational metrics collection.
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithResourceController attaches a shared byte budget. Construction
// acquires numBlocks × bytesPerBlock for every tier and Close releases it;
// construction fails if the budget cannot cover the configured pools.
// bytesPerBlock is the per-block KV footprint fixed by the model
// configuration.
func WithResourceController(rc *resource.Controller, bytesPerBlock int64) Option {
	return func(o *options) {
		o.rc = rc
		o.bytesPerBlock = bytesPerBlock
	}
}
