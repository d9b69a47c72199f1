package signature

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func TestClient_Fetch(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("signature-bytes"))
	}))
	defer server.Close()

	client := NewClient(5*time.Second, testLogger())

	data, err := client.Fetch(context.Background(), server.URL+"/sig/alice.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("signature-bytes"), data)
	assert.Equal(t, int64(1), hits.Load())
}

func TestClient_FetchFollowsRedirect(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("moved-signature"))
	}))
	defer target.Close()

	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer front.Close()

	client := NewClient(5*time.Second, testLogger())
	data, err := client.Fetch(context.Background(), front.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("moved-signature"), data)
}

func TestClient_FetchNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(5*time.Second, testLogger())
	_, err := client.Fetch(context.Background(), server.URL)
	assert.Error(t, err)
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(5*time.Second, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.Fetch(ctx, server.URL)
		require.Error(t, err)
	}

	// Breaker is open now; the request never reaches the server.
	_, err := client.Fetch(ctx, server.URL)
	assert.Error(t, err)
}

func newCacheFixture(t *testing.T, inner *countingFetcher, ttl time.Duration) (*CachedFetcher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCachedFetcher(inner, client, ttl, testLogger()), mr
}

type countingFetcher struct {
	calls atomic.Int64
	data  []byte
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func TestCachedFetcher_HitSkipsInner(t *testing.T) {
	inner := &countingFetcher{data: []byte("img")}
	fetcher, _ := newCacheFixture(t, inner, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		data, err := fetcher.Fetch(ctx, "https://files.local/sig/a.png")
		require.NoError(t, err)
		assert.Equal(t, []byte("img"), data)
	}
	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachedFetcher_ExpiryRefetches(t *testing.T) {
	inner := &countingFetcher{data: []byte("img")}
	fetcher, mr := newCacheFixture(t, inner, time.Minute)
	ctx := context.Background()

	_, err := fetcher.Fetch(ctx, "ref")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = fetcher.Fetch(ctx, "ref")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCachedFetcher_InnerErrorNotCached(t *testing.T) {
	inner := &countingFetcher{err: assert.AnError}
	fetcher, _ := newCacheFixture(t, inner, time.Hour)
	ctx := context.Background()

	_, err := fetcher.Fetch(ctx, "ref")
	require.Error(t, err)

	inner.err = nil
	inner.data = []byte("late")
	data, err := fetcher.Fetch(ctx, "ref")
	require.NoError(t, err)
	assert.Equal(t, []byte("late"), data)
}

func TestCachedFetcher_Invalidate(t *testing.T) {
	inner := &countingFetcher{data: []byte("v1")}
	fetcher, _ := newCacheFixture(t, inner, time.Hour)
	ctx := context.Background()

	_, err := fetcher.Fetch(ctx, "ref")
	require.NoError(t, err)
	require.NoError(t, fetcher.Invalidate(ctx, "ref"))

	inner.data = []byte("v2")
	data, err := fetcher.Fetch(ctx, "ref")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}
