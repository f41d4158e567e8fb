package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khgapparov/flipApp/internal/metrics"
)

const tick = 10 * time.Millisecond

func waitDone(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
}

// gauge sums the samples of a metric family, filtered by result label when set.
func gauge(t *testing.T, reg *metrics.Metrics, name, result string) float64 {
	t.Helper()
	families, err := reg.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			match := result == ""
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == result {
					match = true
				}
			}
			if !match {
				continue
			}
			total += m.GetGauge().GetValue() + m.GetCounter().GetValue()
		}
	}
	return total
}

func TestSubscribe_FailedTickIsSkipped(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil)
	var n atomic.Int32
	var mu sync.Mutex
	var got []int32
	var sub *Subscription

	sub = Subscribe(context.Background(), m, "updates/p1", tick,
		func(ctx context.Context) (int32, error) {
			i := n.Add(1)
			if i == 2 {
				return 0, errors.New("503")
			}
			return i, nil
		},
		func(v int32) {
			mu.Lock()
			got = append(got, v)
			done := len(got) == 4
			mu.Unlock()
			if done {
				sub.Cancel()
			}
		})

	waitDone(t, sub)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int32{1, 3, 4, 5}, got)
}

func TestSubscribe_StopsAfterCancel(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil)
	var fired atomic.Int32
	var sub *Subscription
	sub = Subscribe(context.Background(), m, "project/p1", tick,
		func(ctx context.Context) (string, error) { return "p1", nil },
		func(string) {
			if fired.Add(1) == 3 {
				sub.Cancel()
			}
		})

	waitDone(t, sub)
	time.Sleep(5 * tick)
	assert.Equal(t, int32(3), fired.Load())
	assert.Equal(t, int64(3), sub.Fired())
	assert.False(t, sub.Active())
}

func TestCancel_Idempotent(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil)
	sub := m.Subscribe(context.Background(), "chat/p1", tick,
		func(ctx context.Context) (any, error) { return nil, nil },
		func(any) {})

	sub.Cancel()
	sub.Cancel()
	waitDone(t, sub)
	assert.NotPanics(t, sub.Cancel)
	assert.Equal(t, 0, m.Active())
}

func TestCancel_InFlightFetchDoesNotDeliver(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var fired atomic.Int32

	sub := m.Subscribe(context.Background(), "gallery/p1", tick,
		func(ctx context.Context) (any, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return "snapshot", nil
		},
		func(any) { fired.Add(1) })

	<-started
	sub.Cancel()
	close(release)
	waitDone(t, sub)
	assert.Equal(t, int32(0), fired.Load())
}

func TestCancel_AbortsFetchContext(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil)
	aborted := make(chan struct{})
	started := make(chan struct{}, 1)

	sub := m.Subscribe(context.Background(), "project/p1", tick,
		func(ctx context.Context) (any, error) {
			started <- struct{}{}
			<-ctx.Done()
			close(aborted)
			return nil, ctx.Err()
		},
		func(any) {})

	<-started
	sub.Cancel()
	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("fetch context was not cancelled")
	}
	waitDone(t, sub)
}

func TestSubscribe_PersistentFailureStaysActive(t *testing.T) {
	reg := metrics.New()
	m := NewManager(zerolog.Nop(), reg)
	sub := m.Subscribe(context.Background(), "chat/p1", tick,
		func(ctx context.Context) (any, error) { return nil, errors.New("unreachable") },
		func(any) { t.Error("callback must not fire") })

	require.Eventually(t, func() bool { return sub.ConsecutiveFailures() >= 5 }, 2*time.Second, tick)
	assert.True(t, sub.Active())
	assert.Equal(t, 1, m.Active())
	assert.Equal(t, float64(1), gauge(t, reg, "portal_subscriptions_active", ""))
	assert.GreaterOrEqual(t, gauge(t, reg, "portal_poll_ticks_total", "error"), float64(5))

	sub.Cancel()
	waitDone(t, sub)
	assert.Equal(t, float64(0), gauge(t, reg, "portal_subscriptions_active", ""))
}

func TestSubscribe_FailureCountResetsOnSuccess(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil)
	var n atomic.Int32
	sub := m.Subscribe(context.Background(), "updates/p1", tick,
		func(ctx context.Context) (any, error) {
			if n.Add(1) <= 2 {
				return nil, errors.New("fail")
			}
			return "ok", nil
		},
		func(any) {})
	defer sub.Cancel()

	require.Eventually(t, func() bool { return sub.Fired() > 0 }, 2*time.Second, tick)
	assert.Equal(t, int64(0), sub.ConsecutiveFailures())
}

func TestSubscribe_ParentContextEndsSubscription(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	sub := m.Subscribe(ctx, "project/p1", tick,
		func(ctx context.Context) (any, error) { return nil, nil },
		func(any) {})

	cancel()
	waitDone(t, sub)
	assert.False(t, sub.Active())
}

func TestManager_CloseCancelsAll(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil)
	var subs []*Subscription
	for _, name := range []string{"project/p1", "updates/p1", "chat/p1"} {
		subs = append(subs, m.Subscribe(context.Background(), name, tick,
			func(ctx context.Context) (any, error) { return nil, nil },
			func(any) {}))
	}
	assert.Equal(t, 3, m.Active())

	m.Close()
	for _, s := range subs {
		assert.False(t, s.Active())
		waitDone(t, s)
	}
	assert.Equal(t, 0, m.Active())
}

func TestCancel_WaitsForCallbackPastStateCheck(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil)
	var cancelReturned, lateCallback atomic.Bool
	var sub *Subscription
	ready := make(chan struct{})

	m.beforeDispatch = func() {
		<-ready
		go func() {
			sub.Cancel()
			cancelReturned.Store(true)
		}()
		// Give Cancel time to return if nothing holds it back.
		time.Sleep(30 * time.Millisecond)
	}
	sub = m.Subscribe(context.Background(), "chat/p1", tick,
		func(ctx context.Context) (any, error) { return 1, nil },
		func(any) {
			if cancelReturned.Load() {
				lateCallback.Store(true)
			}
		})
	close(ready)

	waitDone(t, sub)
	assert.False(t, lateCallback.Load(), "callback started after Cancel returned")
	assert.Equal(t, int64(1), sub.Fired())
	require.Eventually(t, cancelReturned.Load, time.Second, time.Millisecond)
}

func TestSubscribe_TickMetricsLabelledByKind(t *testing.T) {
	reg := metrics.New()
	m := NewManager(zerolog.Nop(), reg)
	var subs []*Subscription
	for _, name := range []string{"chat/p1", "chat/p2", "projects/p1"} {
		subs = append(subs, m.Subscribe(context.Background(), name, tick,
			func(ctx context.Context) (any, error) { return nil, nil },
			func(any) {}))
	}
	require.Eventually(t, func() bool { return gauge(t, reg, "portal_poll_ticks_total", "ok") >= 6 },
		2*time.Second, tick)
	m.Close()

	families, err := reg.Registry().Gather()
	require.NoError(t, err)
	resources := map[string]bool{}
	for _, f := range families {
		if f.GetName() != "portal_poll_ticks_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "resource" {
					resources[l.GetValue()] = true
				}
			}
		}
	}
	assert.Equal(t, map[string]bool{"chat": true, "projects": true}, resources)
	for _, s := range subs {
		assert.False(t, s.Active())
	}
}
