// Package chain talks to per-chain settlement relayers.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/fanpulse/internal/domain/settlement"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultRPS            = 20
	defaultBurst          = 40
	defaultBreakerTimeout = 30 * time.Second
	defaultHTTPTimeout    = 15 * time.Second
	maxBodyBytes          = 1 << 20
)

// Relayer settlement states.
const (
	statusPending   = "pending"
	statusConfirmed = "confirmed"
	statusFailed    = "failed"
	statusReverted  = "reverted"
)

type feeResponse struct {
	Fee decimal.Decimal `json:"fee"`
}

type submitResponse struct {
	TxRef string `json:"tx_ref"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HTTPBridge is a settlement.Bridge over a relayer's JSON API:
//
//	POST {base}/v1/fees                  payload → {"fee": "0.0021"}
//	POST {base}/v1/settlements           payload, Idempotency-Key → {"tx_ref": "..."}
//	GET  {base}/v1/settlements/{tx_ref}  → {"status": "pending|confirmed|failed|reverted"}
//
// Calls pass through a token bucket and a circuit breaker. Client errors
// other than 408 and 429 are permanent.
type HTTPBridge struct {
	chainID        string
	baseURL        string
	client         *http.Client
	rps            float64
	burst          int
	breakerTimeout time.Duration
	limiter        *rate.Limiter
	breaker        *gobreaker.CircuitBreaker
	log            logger.Logger
}

// NewHTTPBridge builds a bridge for chainID served at baseURL.
func NewHTTPBridge(chainID, baseURL string, opts ...Option) *HTTPBridge {
	b := &HTTPBridge{
		chainID:        chainID,
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         &http.Client{Timeout: defaultHTTPTimeout},
		rps:            defaultRPS,
		burst:          defaultBurst,
		breakerTimeout: defaultBreakerTimeout,
		log:            logger.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.Named("bridge").With(logger.String("chain", chainID))
	b.limiter = rate.NewLimiter(rate.Limit(b.rps), b.burst)
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "bridge-" + chainID,
		Timeout: b.breakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		// Permanent rejections are the relayer working correctly.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, settlement.ErrPermanent)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn(context.Background(), "circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return b
}

func (b *HTTPBridge) ChainID() string { return b.chainID }

func (b *HTTPBridge) EstimateFee(ctx context.Context, payload []byte) (decimal.Decimal, error) {
	var out feeResponse
	if err := b.call(ctx, http.MethodPost, "/v1/fees", nil, payload, &out); err != nil {
		return decimal.Zero, err
	}
	if out.Fee.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative fee %s", ErrRelayer, out.Fee)
	}
	return out.Fee, nil
}

func (b *HTTPBridge) Submit(ctx context.Context, idempotencyKey string, payload []byte) (string, error) {
	var out submitResponse
	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	if err := b.call(ctx, http.MethodPost, "/v1/settlements", headers, payload, &out); err != nil {
		return "", err
	}
	if out.TxRef == "" {
		return "", fmt.Errorf("%w: empty tx_ref", ErrRelayer)
	}
	return out.TxRef, nil
}

func (b *HTTPBridge) Confirm(ctx context.Context, txRef string) (bool, error) {
	var out statusResponse
	if err := b.call(ctx, http.MethodGet, "/v1/settlements/"+url.PathEscape(txRef), nil, nil, &out); err != nil {
		return false, err
	}
	switch out.Status {
	case statusConfirmed:
		return true, nil
	case statusPending:
		return false, nil
	case statusReverted:
		return false, fmt.Errorf("%w: %w: %s", settlement.ErrPermanent, ErrReverted, out.Error)
	case statusFailed:
		return false, fmt.Errorf("%w: %s", ErrRelayer, out.Error)
	default:
		return false, fmt.Errorf("%w: unknown status %q", ErrRelayer, out.Status)
	}
}

func (b *HTTPBridge) call(ctx context.Context, method, path string, headers map[string]string, body []byte, out any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.do(ctx, method, path, headers, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return err
}

func (b *HTTPBridge) do(ctx context.Context, method, path string, headers map[string]string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", settlement.ErrPermanent, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s: status %d", ErrRelayer, method, path, resp.StatusCode)
	default:
		return fmt.Errorf("%w: %w: %s %s: status %d: %s",
			settlement.ErrPermanent, ErrRelayer, method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrRelayer, path, err)
	}
	return nil
}

var _ settlement.Bridge = (*HTTPBridge)(nil)
