package querycache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func TestCache_SetGet(t *testing.T) {
	c := New(10, time.Minute)
	c.Set(ProjectKey("p1"), "Kitchen")

	v, ok := c.Get("projects/p1")
	require.True(t, ok)
	assert.Equal(t, "Kitchen", v)

	_, ok = c.Get("projects/p2")
	assert.False(t, ok)
}

func TestCache_StaleAfterStaleTime(t *testing.T) {
	clock := newClock()
	c := New(10, 5*time.Minute, WithClock(clock.now))
	c.Set(KeyProjects, []string{"p1"})

	clock.advance(4 * time.Minute)
	_, ok := c.Get(KeyProjects)
	assert.True(t, ok)

	clock.advance(2 * time.Minute)
	_, ok = c.Get(KeyProjects)
	assert.False(t, ok)

	v, fresh, ok := c.Peek(KeyProjects)
	assert.True(t, ok)
	assert.False(t, fresh)
	assert.Equal(t, []string{"p1"}, v)
}

func TestCache_InvalidatePrefix(t *testing.T) {
	c := New(10, time.Minute)
	c.Set(KeyProjects, 1)
	c.Set(ProjectKey("p1"), 2)
	c.Set(UpdatesKey("p1"), 3)

	assert.Equal(t, 2, c.Invalidate(KeyProjects))

	_, ok := c.Get(KeyProjects)
	assert.False(t, ok)
	_, ok = c.Get(ProjectKey("p1"))
	assert.False(t, ok)
	_, ok = c.Get(UpdatesKey("p1"))
	assert.True(t, ok)

	c.Set(KeyProjects, 4)
	_, ok = c.Get(KeyProjects)
	assert.True(t, ok, "set after invalidate is fresh again")
}

func TestCache_InvalidateDoesNotMatchSiblingPrefix(t *testing.T) {
	c := New(10, time.Minute)
	c.Set("chat/p1", 1)
	c.Set("chat/p10", 2)

	assert.Equal(t, 1, c.Invalidate("chat/p1"))
	_, ok := c.Get("chat/p10")
	assert.True(t, ok)
}

func TestCache_Remove(t *testing.T) {
	c := New(10, time.Minute)
	c.Set(ProjectKey("p1"), 1)

	assert.True(t, c.Remove(ProjectKey("p1")))
	assert.False(t, c.Remove(ProjectKey("p1")))
	assert.Equal(t, 0, c.Len())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	_, _, ok := c.Peek("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCache_Clear(t *testing.T) {
	c := New(4, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()
	assert.Equal(t, 0, c.Len())
	c.Set("c", 3)
	assert.Equal(t, 1, c.Len())
}

func TestGetAs(t *testing.T) {
	c := New(4, time.Minute)
	c.Set("user", "alice")

	name, ok := GetAs[string](c, "user")
	assert.True(t, ok)
	assert.Equal(t, "alice", name)

	_, ok = GetAs[int](c, "user")
	assert.False(t, ok)

	_, ok = GetAs[string](nil, "user")
	assert.False(t, ok)
}

func TestCache_Concurrent(t *testing.T) {
	c := New(50, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("chat/p%d", (g*200+i)%80)
				c.Set(key, i)
				c.Get(key)
				if i%17 == 0 {
					c.Invalidate("chat")
				}
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestCache_InvalidateFilteredLists(t *testing.T) {
	c := New(10, time.Minute)
	c.Set(WithQuery(KeyProjects, "status=Active"), 1)
	c.Set(WithQuery(KeyProjects, ""), 2)

	assert.Equal(t, KeyProjects, WithQuery(KeyProjects, ""))
	assert.Equal(t, 2, c.Invalidate(KeyProjects))
}
