package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/fanpulse/pkg/logger"
	"golang.org/x/time/rate"
)

// Client talks JSON to the service.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient builds a client. rps <= 0 disables rate limiting.
func NewClient(baseURL string, timeout time.Duration, rps float64) *Client {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(int(rps), 1)
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// StatusError reports an unexpected response status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// do sends body as JSON and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request body: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{Status: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	return err
}

// RegisterAthlete creates an athlete.
func (c *Client) RegisterAthlete(ctx context.Context, a Athlete) (Athlete, error) {
	var out Athlete
	_, err := c.do(ctx, http.MethodPost, "/athletes", map[string]string{"id": a.ID, "name": a.Name, "sport": a.Sport}, &out)
	return out, err
}

// GetAthlete reads an athlete.
func (c *Client) GetAthlete(ctx context.Context, id string) (Athlete, error) {
	var out Athlete
	_, err := c.do(ctx, http.MethodGet, "/athletes/"+id, nil, &out)
	return out, err
}

// Support posts one support.
func (c *Client) Support(ctx context.Context, s Support) (Receipt, error) {
	var out Receipt
	_, err := c.do(ctx, http.MethodPost, "/supports", s, &out)
	return out, err
}

// submitSupports posts supports with cfg.Workers concurrent workers and
// returns the receipts of the accepted ones.
func submitSupports(ctx context.Context, cfg *Config, client *Client, supports []Support, stats *Stats) []Receipt {
	log := logger.Get()
	log.Info(ctx, "submitting supports", logger.Int("count", len(supports)), logger.Int("workers", cfg.Workers))

	var (
		submitted, successful, duplicate, failed int64

		mu       sync.Mutex
		receipts = make([]Receipt, 0, len(supports))
		wg       sync.WaitGroup
	)

	work := make(chan Support, cfg.Workers*workerChannelMultiplier)
	for range max(cfg.Workers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range work {
				r, err := client.Support(ctx, s)
				n := atomic.AddInt64(&submitted, 1)
				switch {
				case err != nil:
					atomic.AddInt64(&failed, 1)
					if cfg.Verbose {
						log.Warn(ctx, "support failed", logger.String("request_id", s.RequestID), logger.Error(err))
					}
					continue
				case r.Duplicate:
					atomic.AddInt64(&duplicate, 1)
				default:
					atomic.AddInt64(&successful, 1)
				}
				r.RequestID = s.RequestID
				mu.Lock()
				receipts = append(receipts, r)
				mu.Unlock()
				if cfg.Verbose && n%progressEvery == 0 {
					log.Info(ctx, "progress", logger.Int64("submitted", n), logger.Int("total", len(supports)))
				}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, s := range supports {
			select {
			case <-ctx.Done():
				return
			case work <- s:
			}
		}
	}()
	wg.Wait()

	stats.SupportsSubmitted = int(atomic.LoadInt64(&submitted))
	stats.SupportsSuccessful = int(atomic.LoadInt64(&successful))
	stats.SupportsDuplicate = int(atomic.LoadInt64(&duplicate))
	stats.SupportsFailed = int(atomic.LoadInt64(&failed))

	log.Info(ctx, "support submission completed",
		logger.Int("successful", stats.SupportsSuccessful),
		logger.Int("duplicate", stats.SupportsDuplicate),
		logger.Int("failed", stats.SupportsFailed))
	return receipts
}
