package integration

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/incident-api-client/internal/testutil"
	"github.com/Sternrassler/incident-api-client/pkg/cache"
	"github.com/Sternrassler/incident-api-client/pkg/client"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err, "container host")

	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err, "container port")

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		redisClient.Close()
		container.Terminate(ctx)
	})

	return redisClient
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newClient(t *testing.T, baseURL string, backend cache.Backend) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig(baseURL)
	cfg.RetryDelay = 20 * time.Millisecond
	c, err := client.New(cfg, client.WithCacheBackend(backend), client.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// TestFullRequestFlow covers Cache miss → API → Redis write-back → Cache hit.
func TestFullRequestFlow(t *testing.T) {
	redisClient := setupRedis(t)

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/api/incidents", testutil.NewIncidentsResponse())

	c := newClient(t, mock.URL()+"/api", cache.NewRedisStore(redisClient, nil))
	ctx := context.Background()
	params := url.Values{"status": {"open"}}

	body, err := c.Get(ctx, "/incidents", client.WithParams(params))
	require.NoError(t, err)
	assert.JSONEq(t, testutil.IncidentsJSON, string(body))

	key := c.RequestKey("/incidents", http.MethodGet, params, nil)
	ttl, err := redisClient.TTL(ctx, cache.DefaultRedisPrefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "entry must carry a native Redis TTL")
	assert.LessOrEqual(t, ttl, cache.DefaultTTL)

	body, err = c.Get(ctx, "/incidents", client.WithParams(params))
	require.NoError(t, err)
	assert.JSONEq(t, testutil.IncidentsJSON, string(body))
	assert.Equal(t, 1, mock.RequestCount(), "second request must be served from Redis")
}

// TestSharedCacheAcrossClients checks that two coordinators share entries through Redis.
func TestSharedCacheAcrossClients(t *testing.T) {
	redisClient := setupRedis(t)

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/api/reports/summary", testutil.NewJSONResponse(`{"open":3,"closed":12}`))

	first := newClient(t, mock.URL()+"/api", cache.NewRedisStore(redisClient, nil))
	second := newClient(t, mock.URL()+"/api", cache.NewRedisStore(redisClient, nil))
	ctx := context.Background()

	_, err := first.Get(ctx, "/reports/summary")
	require.NoError(t, err)

	body, err := second.Get(ctx, "/reports/summary")
	require.NoError(t, err)
	assert.JSONEq(t, `{"open":3,"closed":12}`, string(body))
	assert.Equal(t, 1, mock.RequestCount())

	assert.True(t, second.InvalidateCache(ctx, "/reports/summary", nil))
	assert.False(t, first.Cached(ctx, "/reports/summary", nil))
}

// TestCacheExpiration drives expiry with a fake clock on the Redis store.
func TestCacheExpiration(t *testing.T) {
	redisClient := setupRedis(t)

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/api/incidents", testutil.NewIncidentsResponse())

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := newClient(t, mock.URL()+"/api", cache.NewRedisStore(redisClient, clock))
	ctx := context.Background()

	_, err := c.Get(ctx, "/incidents")
	require.NoError(t, err)
	_, err = c.Get(ctx, "/incidents")
	require.NoError(t, err)
	assert.Equal(t, 1, mock.RequestCount())

	clock.Advance(6 * time.Minute)

	_, err = c.Get(ctx, "/incidents")
	require.NoError(t, err)
	assert.Equal(t, 2, mock.RequestCount(), "expired entry must be refetched")
}

// TestRetryRecovers checks that transient upstream failures are retried.
func TestRetryRecovers(t *testing.T) {
	redisClient := setupRedis(t)

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/api/assets",
		testutil.NewServerErrorResponse(),
		testutil.NewServerErrorResponse(),
		testutil.NewJSONResponse(`[{"id":"srv-01"}]`),
	)

	c := newClient(t, mock.URL()+"/api", cache.NewRedisStore(redisClient, nil))

	body, err := c.Get(context.Background(), "/assets")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"srv-01"}]`, string(body))
	assert.Equal(t, 3, mock.RequestCount())

	reqs := mock.Requests()
	assert.GreaterOrEqual(t, reqs[1].At.Sub(reqs[0].At), 15*time.Millisecond)
	assert.GreaterOrEqual(t, reqs[2].At.Sub(reqs[1].At), 35*time.Millisecond)
}

// TestFailuresAreNotCached checks that an exhausted request leaves no entry behind.
func TestFailuresAreNotCached(t *testing.T) {
	redisClient := setupRedis(t)

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/api/incidents/missing", testutil.NewNotFoundResponse())

	c := newClient(t, mock.URL()+"/api", cache.NewRedisStore(redisClient, nil))
	ctx := context.Background()

	_, err := c.Get(ctx, "/incidents/missing", client.WithRetries(0))
	require.Error(t, err)
	assert.Equal(t, client.KindAPI, client.KindOf(err))
	assert.False(t, c.Cached(ctx, "/incidents/missing", nil))

	keys, err := redisClient.Keys(ctx, cache.DefaultRedisPrefix+"*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

// TestConcurrentDeduplication runs many identical GETs against a slow upstream.
func TestConcurrentDeduplication(t *testing.T) {
	redisClient := setupRedis(t)

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/api/incidents", testutil.NewSlowResponse(testutil.IncidentsJSON, 100*time.Millisecond))

	c := newClient(t, mock.URL()+"/api", cache.NewRedisStore(redisClient, nil))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := c.Get(context.Background(), "/incidents")
			assert.NoError(t, err)
			assert.True(t, strings.Contains(string(body), "inc-1"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, mock.RequestCount())
}

// TestCancelInFlight aborts a slow request and checks nothing is cached.
func TestCancelInFlight(t *testing.T) {
	redisClient := setupRedis(t)

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/api/reports/heavy", testutil.NewSlowResponse(`{}`, 5*time.Second))

	c := newClient(t, mock.URL()+"/api", cache.NewRedisStore(redisClient, nil))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "/reports/heavy")
		done <- err
	}()

	key := c.RequestKey("/reports/heavy", http.MethodGet, nil, nil)
	require.Eventually(t, func() bool { return c.InFlight(key) }, 2*time.Second, 10*time.Millisecond)
	require.True(t, c.CancelRequest("/reports/heavy", nil))

	select {
	case err := <-done:
		assert.Equal(t, client.KindCancelled, client.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request did not settle")
	}
	assert.False(t, c.Cached(ctx, "/reports/heavy", nil))
}
