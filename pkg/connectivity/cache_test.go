package connectivity

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingProber struct {
	calls  atomic.Int32
	result atomic.Bool
	delay  time.Duration
}

func (p *countingProber) Reachable(context.Context) bool {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.result.Load()
}

func TestCheckContextProbesOncePerTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	prober := &countingProber{}
	prober.result.Store(true)
	cache := NewCache(prober, WithClock(clock.Now))

	require.True(t, cache.CheckContext(context.Background()))
	clock.Advance(10 * time.Second)
	require.True(t, cache.CheckContext(context.Background()))
	require.Equal(t, int32(1), prober.calls.Load())

	clock.Advance(25 * time.Second)
	prober.result.Store(false)
	require.False(t, cache.CheckContext(context.Background()))
	require.Equal(t, int32(2), prober.calls.Load())
}

func TestCheckContextConcurrentCallersShareOneProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	prober := &countingProber{delay: 20 * time.Millisecond}
	prober.result.Store(true)
	cache := NewCache(prober, WithClock(clock.Now))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.CheckContext(context.Background())
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), prober.calls.Load())
}

func TestCheckUsesCachedValueWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	prober := &countingProber{}
	cache := NewCache(prober, WithClock(clock.Now), WithTTL(5*time.Second))

	require.False(t, cache.Check())
	prober.result.Store(true)
	require.False(t, cache.Check(), "cached value should be served inside the TTL")

	clock.Advance(6 * time.Second)
	require.True(t, cache.Check())
	require.Equal(t, int32(2), prober.calls.Load())

	status := cache.Snapshot()
	require.True(t, status.HasInternet)
	require.Equal(t, clock.Now(), status.CheckedAt)
}

func TestSyncAndAsyncPathsShareEntry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	prober := &countingProber{}
	prober.result.Store(true)
	cache := NewCache(prober, WithClock(clock.Now))

	require.True(t, cache.Check())
	require.True(t, cache.CheckContext(context.Background()))
	require.Equal(t, int32(1), prober.calls.Load())
}

func TestCheckContextCanceledWhileWaiting(t *testing.T) {
	prober := &countingProber{delay: 200 * time.Millisecond}
	prober.result.Store(true)
	cache := NewCache(prober)

	started := make(chan struct{})
	go func() {
		close(started)
		cache.CheckContext(context.Background())
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, cache.CheckContext(ctx), "a stale entry must not be served")
}

func TestNetProberTCPStage(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	prober := NewNetProber(listener.Addr().String(), []string{"http://127.0.0.1:1"}, time.Second)
	require.True(t, prober.Reachable(context.Background()))
}

func TestNetProberFallsBackToHTTP(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	prober := NewNetProber(closedAddress(t), []string{"http://127.0.0.1:1", server.URL}, time.Second)
	require.True(t, prober.Reachable(context.Background()))
	require.Equal(t, int32(1), hits.Load())
}

func TestNetProberAllStagesFail(t *testing.T) {
	prober := NewNetProber(closedAddress(t), []string{"http://127.0.0.1:1"}, 500*time.Millisecond)
	require.False(t, prober.Reachable(context.Background()))
}

func TestNetProberTreatsErrorStatusAsFailure(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusServiceUnavailable} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		prober := NewNetProber(closedAddress(t), []string{server.URL}, time.Second)
		reachable := prober.Reachable(context.Background())
		server.Close()

		if reachable {
			t.Fatalf("status %d reported reachable", status)
		}
	}
}

func TestNetProberLiteralUsesDefaults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	prober := &NetProber{TCPAddress: closedAddress(t), HTTPURLs: []string{server.URL}}
	require.True(t, prober.Reachable(context.Background()))
}

func closedAddress(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}
