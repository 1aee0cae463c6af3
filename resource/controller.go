// Package resource tracks the device-memory budget shared by the block
// pools of one allocator.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for managed memory across all
	// tiers. If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// WarnsPerSec caps how often exhaustion warnings pass AllowWarn.
	// Pool-exhaustion back-pressure arrives once per rejected allocation, so
	// warnings are throttled to keep logs readable. If 0, defaults to 1.
	WarnsPerSec float64
}

// Controller manages the byte budget backing block pools. Pools acquire
// their footprint once at construction and release it on close; per-block
// admission stays with the allocators themselves.
//
// Controller is safe for concurrent use and nil-safe: a nil Controller
// tracks nothing and never denies.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	warnLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.WarnsPerSec <= 0 {
		cfg.WarnsPerSec = 1
	}

	c := &Controller{
		cfg:         cfg,
		warnLimiter: rate.NewLimiter(rate.Limit(cfg.WarnsPerSec), 1),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	return c
}

// AcquireMemory attempts to reserve memory. If a hard limit is configured
// and usage would exceed it, this blocks until memory is available or ctx is
// canceled.
func (c *Controller) AcquireMemory(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// TryAcquireMemory attempts to reserve memory without blocking. Returns true
// if acquired, false if the limit would be exceeded.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return false
		}
	}

	c.memUsed.Add(bytes)
	return true
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AllowWarn reports whether an exhaustion warning may be logged now.
func (c *Controller) AllowWarn() bool {
	if c == nil {
		return true
	}
	return c.warnLimiter.Allow()
}

// BlocksForBudget translates a byte budget into a block count given the
// per-block KV footprint. The footprint is fixed by the model configuration
// (layers × kv heads × head size × dtype width × block size) and owned by
// the caller.
func BlocksForBudget(budgetBytes, bytesPerBlock int64) int {
	if budgetBytes <= 0 || bytesPerBlock <= 0 {
		return 0
	}
	return int(budgetBytes / bytesPerBlock)
}
