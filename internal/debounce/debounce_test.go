package debounce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	var calls atomic.Int32
	d := New(30*time.Millisecond, func(ctx context.Context, q string) (string, error) {
		calls.Add(1)
		return "results for " + q, nil
	})

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i, q := range []string{"k", "ki", "kit"} {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			v, err := d.Call(context.Background(), q)
			assert.NoError(t, err)
			results[i] = v
		}(i, q)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "results for kit", r)
	}
}

func TestDebouncer_SeparateBursts(t *testing.T) {
	var calls atomic.Int32
	d := New(10*time.Millisecond, func(ctx context.Context, n int) (int, error) {
		calls.Add(1)
		return n * 2, nil
	})

	v, err := d.Call(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, err = d.Call(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 8, v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDebouncer_ErrorSharedByAllCallers(t *testing.T) {
	boom := errors.New("boom")
	d := New(20*time.Millisecond, func(ctx context.Context, _ int) (int, error) {
		return 0, boom
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Call(context.Background(), 1)
			assert.ErrorIs(t, err, boom)
		}()
	}
	wg.Wait()
}

func TestDebouncer_CallerContextCancelled(t *testing.T) {
	done := make(chan struct{})
	d := New(50*time.Millisecond, func(ctx context.Context, _ int) (int, error) {
		close(done)
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := d.Call(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debounced call never ran")
	}
	assert.Equal(t, 0, d.Pending())
}
