package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_TryAcquireMemory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	assert.True(t, c.TryAcquireMemory(60))
	assert.Equal(t, int64(60), c.MemoryUsage())

	assert.False(t, c.TryAcquireMemory(50))
	assert.Equal(t, int64(60), c.MemoryUsage())

	assert.True(t, c.TryAcquireMemory(40))
	assert.Equal(t, int64(100), c.MemoryUsage())

	c.ReleaseMemory(100)
	assert.Equal(t, int64(0), c.MemoryUsage())
}

func TestController_AcquireBlocksUntilCanceled(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 10})
	require.True(t, c.TryAcquireMemory(10))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.AcquireMemory(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(10), c.MemoryUsage())
}

func TestController_Unlimited(t *testing.T) {
	c := NewController(Config{})

	assert.True(t, c.TryAcquireMemory(1<<40))
	assert.Equal(t, int64(1<<40), c.MemoryUsage())

	c.ReleaseMemory(1 << 40)
	assert.Equal(t, int64(0), c.MemoryUsage())
}

func TestController_NilSafe(t *testing.T) {
	var c *Controller

	assert.True(t, c.TryAcquireMemory(123))
	require.NoError(t, c.AcquireMemory(context.Background(), 123))
	c.ReleaseMemory(123)
	assert.Equal(t, int64(0), c.MemoryUsage())
	assert.True(t, c.AllowWarn())
}

func TestController_AllowWarnThrottles(t *testing.T) {
	c := NewController(Config{WarnsPerSec: 1})

	assert.True(t, c.AllowWarn())
	// The burst of one is spent; immediate retries are suppressed.
	assert.False(t, c.AllowWarn())
}

func TestBlocksForBudget(t *testing.T) {
	tests := []struct {
		name          string
		budget        int64
		bytesPerBlock int64
		want          int
	}{
		{name: "exact multiple", budget: 1024, bytesPerBlock: 256, want: 4},
		{name: "rounds down", budget: 1000, bytesPerBlock: 256, want: 3},
		{name: "zero budget", budget: 0, bytesPerBlock: 256, want: 0},
		{name: "zero block size", budget: 1024, bytesPerBlock: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BlocksForBudget(tt.budget, tt.bytesPerBlock))
		})
	}
}
