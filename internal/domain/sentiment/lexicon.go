package sentiment

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Default lexicon analyzer configuration constants.
const (
	defaultMinLatency = 5 * time.Millisecond
	defaultMaxLatency = 25 * time.Millisecond
	defaultRandomSeed = 42
	positiveCutoff    = 0.1
)

// Option applies a configuration option to the LexiconAnalyzer.
type Option func(*LexiconAnalyzer)

// WithLatencyRange sets the simulated latency range. A zero range disables
// the delay.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(a *LexiconAnalyzer) {
		if minLatency >= 0 && maxLatency >= minLatency {
			a.minLatency = minLatency
			a.maxLatency = maxLatency
		}
	}
}

// WithLexicon replaces the word weights. Weights are clamped to [-1,1].
func WithLexicon(words map[string]float64) Option {
	return func(a *LexiconAnalyzer) {
		a.words = make(map[string]float64, len(words))
		for w, v := range words {
			a.words[strings.ToLower(w)] = math.Max(-1, math.Min(1, v))
		}
	}
}

// LexiconAnalyzer is an in-process Analyzer for local runs and tests. It
// averages word weights for sentiment and derives virality from intensity,
// exclamation marks and hashtags. It simulates the latency of a remote model.
type LexiconAnalyzer struct {
	words      map[string]float64
	minLatency time.Duration
	maxLatency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLexiconAnalyzer creates an analyzer with the built-in sports lexicon.
func NewLexiconAnalyzer(opts ...Option) *LexiconAnalyzer {
	a := &LexiconAnalyzer{
		words:      defaultLexicon(),
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
		rng:        rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic latency for tests
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func defaultLexicon() map[string]float64 {
	return map[string]float64{
		"goat": 1, "legend": 1, "incredible": 0.9, "amazing": 0.9, "unreal": 0.8,
		"clutch": 0.8, "insane": 0.7, "great": 0.6, "win": 0.6, "champion": 0.9,
		"love": 0.7, "proud": 0.6, "fire": 0.7, "beast": 0.6, "good": 0.4,
		"bad": -0.5, "awful": -0.8, "terrible": -0.9, "lose": -0.5, "lost": -0.4,
		"choke": -0.8, "boring": -0.6, "robbed": -0.7, "worst": -1, "sad": -0.5,
	}
}

// Analyze scores text. It honors ctx while simulating latency.
func (a *LexiconAnalyzer) Analyze(ctx context.Context, text string) (Analysis, error) {
	if delay := a.latency(); delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Analysis{}, fmt.Errorf("context cancelled: %w", ctx.Err())
		case <-t.C:
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Analysis{}, ErrEmptyText
	}

	var sum float64
	var hits, hashtags int
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '#'
	}) {
		if strings.HasPrefix(tok, "#") {
			hashtags++
			tok = strings.TrimLeft(tok, "#")
		}
		if w, ok := a.words[tok]; ok {
			sum += w
			hits++
		}
	}
	exclaims := strings.Count(text, "!")

	avg := 0.0
	if hits > 0 {
		avg = sum / float64(hits)
	}
	label := Neutral
	switch {
	case avg > positiveCutoff:
		label = Positive
	case avg < -positiveCutoff:
		label = Negative
	}

	intensity := math.Min(1, math.Abs(avg)+0.05*float64(exclaims))
	virality := 0.6*intensity + 0.1*math.Min(3, float64(exclaims)) + 0.1*math.Min(3, float64(hashtags))

	return normalize(Analysis{Sentiment: label, Intensity: intensity, ViralityScore: virality}), nil
}

func (a *LexiconAnalyzer) latency() time.Duration {
	if a.maxLatency <= 0 {
		return 0
	}
	span := int64(a.maxLatency - a.minLatency)
	if span <= 0 {
		return a.minLatency
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.minLatency + time.Duration(a.rng.Int63n(span))
}
