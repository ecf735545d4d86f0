package papersources

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	require.NotNil(t, rl)
	assert.InDelta(t, 5.0, rl.Tokens(), 0.1)
}

func TestNewWindowRateLimiter(t *testing.T) {
	t.Run("burst equals window size", func(t *testing.T) {
		rl := NewWindowRateLimiter(3, time.Second)
		assert.True(t, rl.Allow())
		assert.True(t, rl.Allow())
		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow())
	})

	t.Run("non-positive size is clamped", func(t *testing.T) {
		rl := NewWindowRateLimiter(0, time.Second)
		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow())
	})
}

func TestRateLimiter_WaitContextCanceled(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	require.True(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	assert.Error(t, err)
}

func TestRateLimiter_SetRate(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	require.True(t, rl.Allow())

	rl.SetRate(1000)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, rl.Allow())
}

func TestRateLimiter_Concurrency(t *testing.T) {
	rl := NewRateLimiter(1000, 100)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rl.Wait(context.Background())
		}()
	}
	wg.Wait()
}
