package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

const testDimensions = 4

func newTestClient(t *testing.T, serverURL string, maxRetries int) *Client {
	t.Helper()
	t.Setenv("TEST_EMBED_KEY", "secret")
	c, err := NewClient(Config{
		BaseURL:        serverURL,
		APIKeyEnv:      "TEST_EMBED_KEY",
		Model:          "test-model",
		Dimensions:     testDimensions,
		BatchSize:      2,
		MaxConcurrency: 2,
		MaxRetries:     maxRetries,
		Timeout:        5 * time.Second,
	}, slog.Default())
	require.NoError(t, err)
	return c
}

// embedHandler answers every input with a vector derived from its batch
// index so order can be verified end to end.
func embedHandler(dims int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		var resp embeddingsResponse
		for i, text := range req.Input {
			vec := make([]float32, dims)
			vec[0] = float32(len(text))
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: vec})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("TEST_EMBED_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "TEST_EMBED_KEY", Dimensions: 4}, slog.Default())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(embedHandler(testDimensions))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"} // 3 batches of <=2
	vecs, err := c.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vecs[i][0], "vector %d out of order", i)
		assert.Len(t, vecs[i], testDimensions)
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	c := newTestClient(t, "http://unused", 0)
	vecs, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	handler := embedHandler(testDimensions)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		handler(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5)
	vec, err := c.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, testDimensions)
	assert.Equal(t, int32(4), calls.Load())
}

func TestEmbedExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	_, err := c.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5)
	_, err := c.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedDimensionMismatchIsConfigurationError(t *testing.T) {
	srv := httptest.NewServer(embedHandler(testDimensions + 1))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	_, err := c.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestEmbedConcurrencyCeilingSpansCalls(t *testing.T) {
	var inFlight, peak atomic.Int32
	handler := embedHandler(testDimensions)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		handler(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0) // MaxConcurrency 2, BatchSize 2

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.EmbedBatch(context.Background(), []string{"a", "b", "c", "d"})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2), "in-flight requests exceeded the client ceiling")
}

func TestEmbedRetryAfterReplacesBackoff(t *testing.T) {
	var calls atomic.Int32
	handler := embedHandler(testDimensions)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1, 2:
			w.WriteHeader(http.StatusInternalServerError)
		case 3:
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			handler(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5)
	start := time.Now()
	vec, err := c.EmbedQuery(context.Background(), "hello")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Len(t, vec, testDimensions)
	assert.Equal(t, int32(4), calls.Load())
	// Waits are backoff(1)+backoff(2)+RetryAfter = 1.6s; stacking the next
	// backoff on top of the honored Retry-After would push past 2.4s.
	assert.Less(t, elapsed, 2200*time.Millisecond, "Retry-After and backoff were both waited")
}

func TestEmbedRespectsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	c := newTestClient(t, srv.URL, 5)
	_, err := c.EmbedQuery(ctx, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
