package dedup

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardLifecycle(t *testing.T) {
	g := NewGuard(time.Minute)
	key := Key("alice@x.com", "hello")

	assert.Equal(t, StatusNew, g.Begin(key).Status)
	assert.Equal(t, StatusInFlight, g.Begin(key).Status)

	g.Complete(key, "hi alice")

	out := g.Begin(key)
	assert.Equal(t, StatusDone, out.Status)
	assert.Equal(t, "hi alice", out.Result)

	// A DONE key stays DONE on repeated Begin calls.
	assert.Equal(t, StatusDone, g.Begin(key).Status)
}

func TestGuardRelease(t *testing.T) {
	g := NewGuard(time.Minute)
	key := Key("", "hello")

	require.Equal(t, StatusNew, g.Begin(key).Status)
	g.Release(key)

	assert.Equal(t, StatusNew, g.Begin(key).Status)
}

func TestGuardExpiry(t *testing.T) {
	g := NewGuard(50 * time.Millisecond)
	key := Key("bob@x.com", "same question")

	require.Equal(t, StatusNew, g.Begin(key).Status)
	g.Complete(key, "answer")
	require.Equal(t, StatusDone, g.Begin(key).Status)

	require.Eventually(t, func() bool {
		return g.Begin(key).Status == StatusNew
	}, time.Second, 10*time.Millisecond)
}

func TestGuardBeginDoesNotExtendRetention(t *testing.T) {
	g := NewGuard(300 * time.Millisecond)
	key := Key("bob@x.com", "q")

	require.Equal(t, StatusNew, g.Begin(key).Status)
	g.Complete(key, "a")

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.Equal(t, StatusDone, g.Begin(key).Status)
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return g.Begin(key).Status == StatusNew
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGuardProcessingTTL(t *testing.T) {
	g := NewGuard(time.Minute, WithProcessingTTL(30*time.Millisecond))
	key := Key("", "stuck")

	require.Equal(t, StatusNew, g.Begin(key).Status)
	require.Equal(t, StatusInFlight, g.Begin(key).Status)

	require.Eventually(t, func() bool {
		return g.Begin(key).Status == StatusNew
	}, time.Second, 10*time.Millisecond)
}

func TestGuardConcurrentBegin(t *testing.T) {
	g := NewGuard(time.Minute)
	key := Key("carol@x.com", "race")

	var (
		wg     sync.WaitGroup
		owners int32
		start  = make(chan struct{})
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if g.Begin(key).Status == StatusNew {
				atomic.AddInt32(&owners, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), owners)
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("u", "m"), Key("u", "m"))
	assert.NotEqual(t, Key("u1", "m"), Key("u2", "m"))
	assert.NotEqual(t, Key("u", "m1"), Key("u", "m2"))
	assert.Equal(t, Key("", "m"), Key("unknown", "m"))
	assert.Equal(t, "unknown:aGVsbG8=", Key("", "hello"))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "new", StatusNew.String())
	assert.Equal(t, "in_flight", StatusInFlight.String())
	assert.Equal(t, "done", StatusDone.String())
}
