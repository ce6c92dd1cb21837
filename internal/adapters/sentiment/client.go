// Package sentiment is an HTTP client for a remote sentiment/virality model.
package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	domain "github.com/okian/fanpulse/internal/domain/sentiment"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/sony/gobreaker"
)

const (
	defaultBreakerTimeout = 20 * time.Second
	defaultHTTPTimeout    = 5 * time.Second
	maxBodyBytes          = 64 << 10
)

// ErrUnavailable wraps every failure to obtain a score.
var ErrUnavailable = errors.New("sentiment service unavailable")

type analyzeRequest struct {
	Text string `json:"text"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithBreakerTimeout sets how long the breaker stays open.
func WithBreakerTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.breakerTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.log = l
		}
	}
}

// Client posts {"text": ...} to the model endpoint and expects an Analysis
// back. Repeated failures open a circuit breaker so a dead model fails fast
// and the caller's fallback takes over.
type Client struct {
	endpoint       string
	http           *http.Client
	breakerTimeout time.Duration
	breaker        *gobreaker.CircuitBreaker
	log            logger.Logger
}

// NewClient builds a client for endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:       endpoint,
		http:           &http.Client{Timeout: defaultHTTPTimeout},
		breakerTimeout: defaultBreakerTimeout,
		log:            logger.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("sentiment-client")
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "sentiment",
		Timeout: c.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			return counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn(context.Background(), "circuit breaker state changed",
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return c
}

// Analyze implements domain.Analyzer.
func (c *Client) Analyze(ctx context.Context, text string) (domain.Analysis, error) {
	if text == "" {
		return domain.Analysis{}, domain.ErrEmptyText
	}
	out, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, text)
	})
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return out.(domain.Analysis), nil
}

func (c *Client) post(ctx context.Context, text string) (domain.Analysis, error) {
	body, err := json.Marshal(analyzeRequest{Text: text})
	if err != nil {
		return domain.Analysis{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Analysis{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Analysis{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Analysis{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var a domain.Analysis
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&a); err != nil {
		return domain.Analysis{}, fmt.Errorf("decode: %w", err)
	}
	return a, nil
}

var _ domain.Analyzer = (*Client)(nil)
