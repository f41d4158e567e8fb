package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/khgapparov/flipApp/internal/errors"
	"github.com/khgapparov/flipApp/internal/health"
	"github.com/khgapparov/flipApp/internal/metrics"
	"github.com/khgapparov/flipApp/internal/notify"
	"github.com/khgapparov/flipApp/internal/session"
	"github.com/khgapparov/flipApp/pkg/tokenstore"
)

type testEnv struct {
	client    *Client
	server    *httptest.Server
	sessions  *session.Store
	notices   *notify.Recorder
	redirects *atomic.Int32
}

func setupTestServer(t *testing.T, handler http.HandlerFunc, opts ...Option) *testEnv {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	env := &testEnv{
		server:    server,
		sessions:  session.NewStore(tokenstore.NewMemoryStore(), zerolog.Nop()),
		notices:   &notify.Recorder{},
		redirects: &atomic.Int32{},
	}
	base := []Option{
		WithHTTPClient(server.Client()),
		WithNotifier(env.notices),
		WithNavigator(NavigatorFunc(func(context.Context) { env.redirects.Add(1) })),
	}
	env.client = NewClient(server.URL, env.sessions, zerolog.Nop(), append(base, opts...)...)
	return env
}

func login(t *testing.T, env *testEnv, token string) {
	t.Helper()
	require.NoError(t, env.sessions.Set(context.Background(), session.Session{AccessToken: token, UserID: "u1"}))
}

func TestDo_BearerHeaderWhenTokenPresent(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		json.NewEncoder(w).Encode(map[string]string{"id": "p1"})
	})
	login(t, env, "tok123")

	var out map[string]string
	require.NoError(t, env.client.Get(context.Background(), "/projects/p1", nil, &out))
	assert.Equal(t, "p1", out["id"])
}

func TestDo_NoBearerHeaderWithoutToken(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["Authorization"]
		assert.False(t, present)
		w.Write([]byte(`{}`))
	})

	require.NoError(t, env.client.Get(context.Background(), "/projects", nil, nil))
}

func TestDo_FreshRequestIDPerCall(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Header.Get("X-Request-ID")] = true
		mu.Unlock()
		w.Write([]byte(`{}`))
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, env.client.Get(context.Background(), "/projects", nil, nil))
	}
	assert.Len(t, seen, 3)
}

func TestDo_CallerHeadersAndBody(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "v7", r.Header.Get("If-Match"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Kitchen remodel", body["name"])
		w.Write([]byte(`{"id":"p1","name":"Kitchen remodel"}`))
	})

	header := http.Header{}
	header.Set("If-Match", "v7")
	var out map[string]any
	err := env.client.Put(context.Background(), "/projects/p1", header, map[string]string{"name": "Kitchen remodel"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "p1", out["id"])
}

func TestDo_QueryParamsDropEmpty(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "page=0&status=Planning", r.URL.RawQuery)
		w.Write([]byte(`[]`))
	})

	var out []any
	err := env.client.Get(context.Background(), "/projects", Params{"status": "Planning", "page": 0, "q": "", "owner": nil}, &out)
	require.NoError(t, err)
}

func TestDo_UnauthorizedClearsSession(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"token expired"}`))
	})
	require.NoError(t, env.sessions.Set(context.Background(), session.Session{AccessToken: "stale", UserID: "u1", IsAnonymous: true}))

	err := env.client.Get(context.Background(), "/users/me", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrAuthFailure)
	assert.Equal(t, 401, perrors.StatusOf(err))

	assert.True(t, env.sessions.Get(context.Background()).IsZero())
	env.sessions.Invalidate()
	assert.True(t, env.sessions.Get(context.Background()).IsZero(), "storage must be empty too")
	assert.Equal(t, int32(1), env.redirects.Load())
	assert.Equal(t, notify.Notice{Level: notify.LevelError, Message: "Session expired. Please login again."}, env.notices.Last())
}

func TestDo_UnauthorizedWithoutPriorSession(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := env.client.Get(context.Background(), "/projects", nil, nil)
	assert.ErrorIs(t, err, perrors.ErrAuthFailure)
	assert.True(t, env.sessions.Get(context.Background()).IsZero())
}

func TestDo_RateLimitedSurfacesRetryAfter(t *testing.T) {
	var calls atomic.Int32
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := env.client.Get(context.Background(), "/projects/p1/chat", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrRateLimit)

	apiErr, ok := perrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "30", apiErr.RetryAfter)
	assert.Equal(t, int32(1), calls.Load(), "executor must not retry")
	assert.Contains(t, env.notices.Last().Message, "30")
}

func TestDo_RateLimitedWithoutRetryAfter(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := env.client.Get(context.Background(), "/projects", nil, nil)
	assert.ErrorIs(t, err, perrors.ErrRateLimit)
	assert.Equal(t, "Too many requests. Please try again in a few seconds.", env.notices.Last().Message)
}

func TestDo_ServerErrorCarriesMessageAndData(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"name is required","field":"name"}`))
	})

	err := env.client.Post(context.Background(), "/projects", map[string]string{}, nil)
	apiErr, ok := perrors.As(err)
	require.True(t, ok)
	assert.Equal(t, perrors.KindServer, apiErr.Kind)
	assert.Equal(t, 422, apiErr.StatusCode)
	assert.Equal(t, "name is required", apiErr.Message)
	assert.Equal(t, "name", apiErr.Data["field"])
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestDo_ServerErrorNonJSONBody(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	})

	err := env.client.Get(context.Background(), "/projects", nil, nil)
	apiErr, ok := perrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "HTTP error! status: 502", apiErr.Message)
	assert.Empty(t, apiErr.Data)
}

func TestDo_MalformedSuccessBody(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":`))
	})

	var out map[string]any
	err := env.client.Get(context.Background(), "/projects/p1", nil, &out)
	assert.ErrorIs(t, err, perrors.ErrMalformed)
}

func TestDo_EmptySuccessBody(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	var out map[string]any
	require.NoError(t, env.client.Delete(context.Background(), "/projects/p1", &out))
	assert.Nil(t, out)
}

func TestDo_Timeout(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	})

	err := env.client.Do(context.Background(), Request{Path: "/projects", Timeout: 20 * time.Millisecond}, nil)
	assert.ErrorIs(t, err, perrors.ErrTimeout)
	assert.Equal(t, 408, perrors.StatusOf(err))
}

func TestDo_DefaultTimeout(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}, WithTimeout(20*time.Millisecond))

	err := env.client.Get(context.Background(), "/projects", nil, nil)
	assert.ErrorIs(t, err, perrors.ErrTimeout)
}

func TestDo_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sessions := session.NewStore(tokenstore.NewMemoryStore(), zerolog.Nop())
	client := NewClient(url, sessions, zerolog.Nop())

	err := client.Get(context.Background(), "/projects", nil, nil)
	assert.ErrorIs(t, err, perrors.ErrUnreachable)
	assert.Equal(t, 0, perrors.StatusOf(err))
}

type stubProber struct {
	reachable bool
	calls     atomic.Int32
}

func (s *stubProber) Reachable(context.Context) bool {
	s.calls.Add(1)
	return s.reachable
}

func TestDo_ProbeUnreachableFailsFast(t *testing.T) {
	var hits atomic.Int32
	prober := &stubProber{reachable: false}
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}, WithProber(prober))

	err := env.client.Get(context.Background(), "/projects", nil, nil)
	assert.ErrorIs(t, err, perrors.ErrUnreachable)
	assert.Equal(t, 0, perrors.StatusOf(err))
	assert.Equal(t, int32(1), prober.calls.Load())
	assert.Equal(t, int32(0), hits.Load(), "real request must not be attempted")
}

func TestDo_ProbeRunsBeforeEveryRequest(t *testing.T) {
	prober := &stubProber{reachable: true}
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}, WithProber(prober))

	for i := 0; i < 3; i++ {
		require.NoError(t, env.client.Get(context.Background(), "/projects", nil, nil))
	}
	assert.Equal(t, int32(3), prober.calls.Load())
}

func TestDo_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{}`))
	}, WithMetrics(m))

	require.NoError(t, env.client.Get(context.Background(), "/projects", nil, nil))
	_ = env.client.Get(context.Background(), "/missing", nil, nil)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() == "portal_requests_total" {
			for _, metric := range f.GetMetric() {
				total += metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), total)
}

func TestDo_RateLimiterThrottles(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}, WithRateLimit(20, 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, env.client.Get(context.Background(), "/projects", nil, nil))
	}
	// burst 1 at 20 rps: the 2nd and 3rd calls wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestDo_RateLimiterHonoursContext(t *testing.T) {
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}, WithRateLimit(0.1, 1))

	require.NoError(t, env.client.Get(context.Background(), "/projects", nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := env.client.Get(ctx, "/projects", nil, nil)
	assert.ErrorIs(t, err, perrors.ErrTimeout)
	assert.Equal(t, http.StatusRequestTimeout, perrors.StatusOf(err))
}

func TestClient_BaseURLTrimmed(t *testing.T) {
	c := NewClient("http://localhost:8081/", session.NewStore(tokenstore.NewMemoryStore(), zerolog.Nop()), zerolog.Nop())
	assert.Equal(t, "http://localhost:8081", c.BaseURL())
	assert.Equal(t, "http://localhost:8081/projects?a=1", c.url("/projects", Params{"a": 1}))
	assert.Equal(t, "http://localhost:8081/projects", c.url("/projects", Params{"a": ""}))
}

func TestDo_SkipProbe(t *testing.T) {
	prober := &stubProber{reachable: false}
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}, WithProber(prober))

	require.NoError(t, env.client.Do(context.Background(), Request{Path: "/projects", SkipProbe: true}, nil))
	assert.Equal(t, int32(0), prober.calls.Load())
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() == name {
			for _, metric := range f.GetMetric() {
				total += metric.GetCounter().GetValue()
			}
		}
	}
	return total
}

func TestDo_CallerDeadlineDuringReachabilityCheckIsTimeout(t *testing.T) {
	m := metrics.New()
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == health.DefaultProbePath {
			time.Sleep(200 * time.Millisecond)
		}
		w.Write([]byte(`{}`))
	}, WithMetrics(m))
	env.client.prober = health.NewProber(env.server.URL, "", env.server.Client(), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := env.client.Get(ctx, "/projects", nil, nil)
	assert.ErrorIs(t, err, perrors.ErrTimeout)
	assert.Equal(t, http.StatusRequestTimeout, perrors.StatusOf(err))
	assert.Equal(t, float64(0), counterValue(t, m, "portal_probe_failures_total"))
}

func TestDo_CancelledCallerIsTimeout(t *testing.T) {
	m := metrics.New()
	prober := &stubProber{reachable: false}
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}, WithProber(prober), WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := env.client.Get(ctx, "/projects", nil, nil)
	assert.ErrorIs(t, err, perrors.ErrTimeout)
	assert.Equal(t, http.StatusRequestTimeout, perrors.StatusOf(err))
	assert.Equal(t, int32(0), prober.calls.Load())
	assert.Equal(t, float64(0), counterValue(t, m, "portal_probe_failures_total"))
}

func TestDo_UnencodableBodyIsAPIError(t *testing.T) {
	var hits atomic.Int32
	env := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})

	err := env.client.Post(context.Background(), "/projects", map[string]any{"bad": make(chan int)}, nil)
	apiErr, ok := perrors.As(err)
	require.True(t, ok)
	assert.Equal(t, perrors.KindServer, apiErr.Kind)
	assert.Equal(t, "Invalid request body", apiErr.Message)
	assert.NotEmpty(t, apiErr.RequestID)
	assert.Equal(t, int32(0), hits.Load())
}

func TestDo_BadURLIsAPIError(t *testing.T) {
	c := NewClient("http://bad host", session.NewStore(tokenstore.NewMemoryStore(), zerolog.Nop()), zerolog.Nop())

	err := c.Get(context.Background(), "/projects", nil, nil)
	apiErr, ok := perrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "Invalid request", apiErr.Message)
}
