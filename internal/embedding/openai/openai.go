// Package openai implements the embedding boundary against any
// OpenAI-compatible /embeddings endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"docqa/internal/domain"
)

// Config configures the embeddings client.
type Config struct {
	BaseURL        string
	APIKeyEnv      string
	Model          string
	Dimensions     int
	BatchSize      int
	MaxConcurrency int
	MaxRetries     int
	Timeout        time.Duration
}

// Client is an OpenAI-compatible embeddings client with batching, bounded
// concurrency and retry with exponential backoff. The concurrency ceiling
// is a client-level semaphore, so it holds across every in-flight request
// regardless of how many EmbedBatch calls are running.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	batchSize  int
	maxRetries int
	sem        chan struct{}
	client     *http.Client
	logger     *slog.Logger
}

// NewClient validates the configuration and builds a client. A missing
// API key or non-positive dimensionality is a fatal configuration error.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrConfiguration, cfg.APIKeyEnv)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: embedding dimensions must be positive", domain.ErrConfiguration)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		sem:        make(chan struct{}, cfg.MaxConcurrency),
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "embedding"),
	}, nil
}

// Dimensions returns the fixed vector dimensionality D.
func (c *Client) Dimensions() int { return c.dimensions }

// EmbedQuery embeds a single text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch splits texts into request-sized batches, runs them in
// parallel and concatenates the results in input order. The per-request
// ceiling is enforced by the client semaphore, not per call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vecs, err := c.embedOnce(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// embedOnce issues one /embeddings request for a single batch, retrying
// transient failures with capped exponential backoff.
func (c *Client) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Input: batch, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("encode embeddings request: %w", err)
	}
	url := c.baseURL + "/embeddings"

	var lastErr error
	waited := false
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && !waited {
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return nil, err
			}
		}
		waited = false
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.do(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			c.logger.Warn("embeddings request failed", "attempt", attempt, "error", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("embeddings endpoint returned %s", resp.Status)
			delay := retryAfter(resp)
			_ = resp.Body.Close()
			c.logger.Warn("embeddings request throttled", "attempt", attempt, "status", resp.Status)
			if delay > 0 {
				// Retry-After replaces the backoff for this round.
				if err := sleepCtx(ctx, delay); err != nil {
					return nil, err
				}
				waited = true
			}
			continue
		}

		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 300 {
			// Client errors are not retried; the request will not get
			// better on its own.
			return nil, fmt.Errorf("%w: %s: %s", domain.ErrEmbeddingUnavailable, resp.Status, payload)
		}
		return c.decodeBatch(payload, len(batch))
	}
	return nil, fmt.Errorf("%w: %d attempts: %v", domain.ErrEmbeddingUnavailable, c.maxRetries+1, lastErr)
}

// decodeBatch validates count and dimensionality and restores input order
// using the per-item index field.
func (c *Client) decodeBatch(payload []byte, want int) ([][]float32, error) {
	var out embeddingsResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrEmbeddingUnavailable, err)
	}
	if len(out.Data) != want {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", domain.ErrEmbeddingUnavailable, len(out.Data), want)
	}
	vecs := make([][]float32, want)
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= want {
			return nil, fmt.Errorf("%w: embedding index %d out of range", domain.ErrEmbeddingUnavailable, d.Index)
		}
		if len(d.Embedding) != c.dimensions {
			return nil, fmt.Errorf("%w: model returned %d dimensions, configured %d",
				domain.ErrConfiguration, len(d.Embedding), c.dimensions)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// do runs one HTTP attempt under the client-wide concurrency semaphore.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()
	return c.client.Do(req)
}

func retryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	secs, err := strconv.Atoi(ra)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// backoff is exponential from 200ms, capped at 5s.
func backoff(attempt int) time.Duration {
	d := 200 * time.Millisecond << (attempt - 1)
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
