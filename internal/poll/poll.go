// Package poll simulates live updates by re-fetching a resource on a fixed interval.
//
// Each subscription owns one goroutine driven by a time.Ticker. Every tick performs a
// full fetch and hands the complete result to the callback. A failed tick is logged
// and skipped; the subscription stays active until Cancel.
package poll

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/khgapparov/flipApp/internal/metrics"
)

// Default intervals per resource.
const (
	DefaultInterval     = 5 * time.Second
	DefaultChatInterval = 3 * time.Second
)

// FetchFunc loads the full current state of a resource.
type FetchFunc func(ctx context.Context) (any, error)

// Manager starts and tracks polling subscriptions.
type Manager struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	subs map[*Subscription]struct{}

	// beforeDispatch runs between the state check and the callback. Tests only.
	beforeDispatch func()
}

// NewManager creates a subscription manager. m may be nil.
func NewManager(logger zerolog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		logger:  logger.With().Str("component", "poll").Logger(),
		metrics: m,
		subs:    make(map[*Subscription]struct{}),
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	name     string
	interval time.Duration

	cancel    context.CancelFunc
	once      sync.Once
	cancelled atomic.Bool
	done      chan struct{}
	failures  atomic.Int64
	fired     atomic.Int64

	// dispatch is held from the state check through the callback so Cancel can wait
	// out a callback that has already been let through.
	dispatch   sync.Mutex
	inCallback atomic.Bool
}

// Cancel stops the subscription. It is safe to call more than once and from within
// the callback. Once Cancel returns no new callback starts, including for a fetch
// that was already in flight.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		s.cancel()
	})
	if !s.inCallback.Load() {
		s.dispatch.Lock()
		s.dispatch.Unlock()
	}
}

// Active reports whether Cancel has not been called yet.
func (s *Subscription) Active() bool { return !s.cancelled.Load() }

// Done is closed once the polling goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Name returns the resource name given at Subscribe.
func (s *Subscription) Name() string { return s.name }

// ConsecutiveFailures returns the number of failed ticks since the last success.
func (s *Subscription) ConsecutiveFailures() int64 { return s.failures.Load() }

// Fired returns how many times the callback has been invoked.
func (s *Subscription) Fired() int64 { return s.fired.Load() }

// Subscribe starts polling fetch every interval and passes each successful result to
// callback. The first fetch happens one interval after Subscribe. The subscription ends
// on Cancel, on Manager.Close, or when ctx is done.
func (m *Manager) Subscribe(ctx context.Context, name string, interval time.Duration, fetch FetchFunc, callback func(any)) *Subscription {
	if interval <= 0 {
		interval = DefaultInterval
	}
	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		name:     name,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SubscriptionStarted()
	}

	go m.run(subCtx, s, fetch, callback)
	return s
}

// Subscribe is the typed form of Manager.Subscribe.
func Subscribe[T any](ctx context.Context, m *Manager, name string, interval time.Duration, fetch func(ctx context.Context) (T, error), callback func(T)) *Subscription {
	return m.Subscribe(ctx, name, interval,
		func(ctx context.Context) (any, error) { return fetch(ctx) },
		func(v any) { callback(v.(T)) },
	)
}

func (m *Manager) run(ctx context.Context, s *Subscription, fetch FetchFunc, callback func(any)) {
	logger := m.logger.With().Str("resource", s.name).Dur("interval", s.interval).Logger()
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		s.Cancel()
		m.mu.Lock()
		delete(m.subs, s)
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.SubscriptionStopped()
		}
		close(s.done)
		logger.Debug().Msg("subscription stopped")
	}()

	logger.Debug().Msg("subscription started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, logger, s, fetch, callback)
		}
	}
}

func (m *Manager) tick(ctx context.Context, logger zerolog.Logger, s *Subscription, fetch FetchFunc, callback func(any)) {
	val, err := fetch(ctx)
	if !s.Active() {
		return
	}
	if err != nil {
		n := s.failures.Add(1)
		logger.Warn().Err(err).Int64("consecutive_failures", n).Msg("poll tick failed")
		m.recordTick(s.name, "error")
		return
	}
	s.failures.Store(0)
	m.recordTick(s.name, "ok")

	s.dispatch.Lock()
	defer s.dispatch.Unlock()
	if !s.Active() {
		return
	}
	if m.beforeDispatch != nil {
		m.beforeDispatch()
	}
	s.fired.Add(1)
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	callback(val)
}

// recordTick labels by resource kind ("projects", "chat", ...) so ids never become
// label values.
func (m *Manager) recordTick(name, result string) {
	if m.metrics != nil {
		m.metrics.RecordPollTick(resourceKind(name), result)
	}
}

func resourceKind(name string) string {
	kind, _, _ := strings.Cut(name, "/")
	return kind
}

// Active returns the number of running subscriptions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close cancels every subscription and waits for their goroutines to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
	for _, s := range subs {
		<-s.done
	}
}
