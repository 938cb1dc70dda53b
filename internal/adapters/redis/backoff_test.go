package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeBackoff(t *testing.T) {
	base, max := 100*time.Millisecond, time.Second
	assert.Equal(t, 100*time.Millisecond, computeBackoff(base, max, 0))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(base, max, 1))
	assert.Equal(t, 800*time.Millisecond, computeBackoff(base, max, 3))
	assert.Equal(t, time.Second, computeBackoff(base, max, 4))
	assert.Equal(t, time.Second, computeBackoff(base, max, 60))
}

func TestWaitForBackoff_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, waitForBackoff(ctx, time.Hour), context.Canceled)
	assert.NoError(t, waitForBackoff(context.Background(), 0))
}

func TestShouldResubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, shouldResubscribe(ctx, assert.AnError))
	assert.False(t, shouldResubscribe(ctx, context.Canceled))
	cancel()
	assert.False(t, shouldResubscribe(ctx, assert.AnError))
}
