package portal

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khgapparov/flipApp/internal/api"
	"github.com/khgapparov/flipApp/internal/health"
	"github.com/khgapparov/flipApp/internal/notify"
	"github.com/khgapparov/flipApp/internal/session"
	"github.com/khgapparov/flipApp/internal/testserver"
	"github.com/khgapparov/flipApp/pkg/tokenstore"
)

var fixedNow = time.Date(2024, 3, 1, 9, 30, 15, 123_000_000, time.Local)

type fixture struct {
	ts        *testserver.TestServer
	portal    *Portal
	sessions  *session.Store
	notices   *notify.Recorder
	redirects atomic.Int32
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ts:       testserver.New(t),
		sessions: session.NewStore(tokenstore.NewMemoryStore(), zerolog.Nop()),
		notices:  &notify.Recorder{},
	}
	hc := f.ts.Server.Client()
	client := api.NewClient(f.ts.URL(), f.sessions, zerolog.Nop(),
		api.WithHTTPClient(hc),
		api.WithProber(health.NewProber(f.ts.URL(), health.DefaultProbePath, hc, zerolog.Nop())),
		api.WithNotifier(f.notices),
		api.WithNavigator(api.NavigatorFunc(func(context.Context) { f.redirects.Add(1) })),
	)
	f.portal = New(client, f.sessions, zerolog.Nop(),
		WithNotifier(f.notices),
		WithClock(func() time.Time { return fixedNow }),
		WithIntervals(Intervals{Project: 10 * time.Millisecond, Updates: 10 * time.Millisecond, Gallery: 10 * time.Millisecond, Chat: 10 * time.Millisecond}),
	)
	t.Cleanup(f.portal.Close)
	return f
}

// loggedIn registers alice and logs in without recording the notice.
func (f *fixture) loggedIn(t *testing.T) {
	t.Helper()
	f.ts.AddUser("alice", "secret", "u1", "tok123")
	_, err := f.portal.Auth.Login(notify.Suppress(context.Background()), "alice", "secret")
	require.NoError(t, err)
}

func (f *fixture) lastNotice() notify.Notice { return f.notices.Last() }

func success(msg string) notify.Notice { return notify.Notice{Level: notify.LevelSuccess, Message: msg} }
func failure(msg string) notify.Notice { return notify.Notice{Level: notify.LevelError, Message: msg} }

func TestID_AcceptsStringsAndNumbers(t *testing.T) {
	var out struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"u1","b":42,"c":null}`), &out))
	assert.Equal(t, ID("u1"), out.A)
	assert.Equal(t, ID("42"), out.B)
	assert.Equal(t, ID(""), out.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &out))
}

func TestTimestampLayout(t *testing.T) {
	f := setup(t)
	assert.Equal(t, "2024-03-01T09:30:15.123", f.portal.timestamp())
}

func TestDefaultIntervals(t *testing.T) {
	iv := DefaultIntervals()
	assert.Equal(t, 5*time.Second, iv.Project)
	assert.Equal(t, 5*time.Second, iv.Updates)
	assert.Equal(t, 5*time.Second, iv.Gallery)
	assert.Equal(t, 3*time.Second, iv.Chat)
}

func TestOptimistic_RollsBackOnFailure(t *testing.T) {
	f := setup(t)
	cache := f.portal.Cache()
	cache.Set("chat/p1", []string{"hi"})

	boom := assert.AnError
	err := f.portal.Optimistic(context.Background(), "chat/p1",
		func(old any) any { return append(old.([]string), "pending") },
		func(ctx context.Context) error {
			v, _, _ := cache.Peek("chat/p1")
			assert.Equal(t, []string{"hi", "pending"}, v)
			return boom
		})
	assert.ErrorIs(t, err, boom)

	v, fresh, ok := cache.Peek("chat/p1")
	require.True(t, ok)
	assert.False(t, fresh)
	assert.Equal(t, []string{"hi"}, v)
	assert.Equal(t, failure(boom.Error()), f.lastNotice())
}

func TestOptimistic_SuccessKeepsUpdate(t *testing.T) {
	f := setup(t)
	err := f.portal.Optimistic(context.Background(), "user",
		func(any) any { return "alice" },
		func(context.Context) error { return nil })
	require.NoError(t, err)

	v, _, ok := f.portal.Cache().Peek("user")
	require.True(t, ok)
	assert.Equal(t, "alice", v)
	assert.Empty(t, f.notices.Notices())
}

func TestOptimistic_RemovesWhenNothingCached(t *testing.T) {
	f := setup(t)
	err := f.portal.Optimistic(context.Background(), "projects/p9",
		func(any) any { return "draft" },
		func(context.Context) error { return assert.AnError })
	assert.Error(t, err)
	_, _, ok := f.portal.Cache().Peek("projects/p9")
	assert.False(t, ok)
}

func TestConnectEvents_NoFeed(t *testing.T) {
	f := setup(t)
	assert.NoError(t, f.portal.ConnectEvents(context.Background()))
	assert.NotNil(t, f.portal.Events())
}
