// Package sentiment defines the contract for scoring commentary text and a
// latency-bounded wrapper that never lets the scorer block a support.
package sentiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/fanpulse/internal/domain/policy"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/okian/fanpulse/pkg/metrics"
)

// Sentiment labels.
const (
	Positive = "positive"
	Neutral  = "neutral"
	Negative = "negative"
)

// ErrEmptyText is returned by analyzers that refuse blank input.
var ErrEmptyText = errors.New("empty text")

// Analysis is the scorer output. Intensity and ViralityScore are in [0,1].
type Analysis struct {
	Sentiment     string  `json:"sentiment"`
	Intensity     float64 `json:"intensity"`
	ViralityScore float64 `json:"virality_score"`
}

// Analyzer scores commentary text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Analysis, error)
}

// NeutralAnalysis is the documented fallback.
func NeutralAnalysis() Analysis {
	return Analysis{Sentiment: Neutral, Intensity: 0.5, ViralityScore: 0.5}
}

// fallback bounds an Analyzer's latency and degrades to NeutralAnalysis.
type fallback struct {
	inner   Analyzer
	timeout time.Duration
	log     logger.Logger
}

// WithFallback wraps inner so Analyze always returns within timeout and
// never fails. Timeouts and errors yield NeutralAnalysis. Scores outside
// [0,1] are clamped.
func WithFallback(inner Analyzer, timeout time.Duration, log logger.Logger) Analyzer {
	if log == nil {
		log = logger.Default()
	}
	return &fallback{inner: inner, timeout: timeout, log: log.Named("sentiment")}
}

func (f *fallback) Analyze(ctx context.Context, text string) (Analysis, error) {
	if f.inner == nil {
		return NeutralAnalysis(), nil
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	type result struct {
		a   Analysis
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("analyzer panic: %v", r)}
			}
		}()
		a, err := f.inner.Analyze(ctx, text)
		done <- result{a: a, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return f.degrade(ctx, r.err), nil
		}
		return normalize(r.a), nil
	case <-ctx.Done():
		return f.degrade(ctx, ctx.Err()), nil
	}
}

func (f *fallback) degrade(ctx context.Context, err error) Analysis {
	metrics.RecordSentimentFallback()
	f.log.Warn(ctx, "sentiment analysis degraded to neutral", logger.Error(err))
	return NeutralAnalysis()
}

func normalize(a Analysis) Analysis {
	switch a.Sentiment {
	case Positive, Neutral, Negative:
	default:
		a.Sentiment = Neutral
	}
	a.Intensity = policy.ClampUnit(a.Intensity)
	a.ViralityScore = policy.ClampUnit(a.ViralityScore)
	return a
}
