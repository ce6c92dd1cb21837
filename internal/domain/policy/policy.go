// Package policy holds the versioned reward configuration shared by the
// support ledger and the reaction minter: the reaction tier table, the
// athlete/platform split, the token multiplier and the rarity curve.
package policy

import (
	"fmt"
	"math"
	"strings"

	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Defaults for the v1 policy.
const (
	DefaultVersion             = "v1"
	DefaultAthleteSharePercent = 80
	DefaultTokenMultiplier     = 1000
	DefaultSharePrecision      = 0
)

var (
	hundred = decimal.NewFromInt(100)

	legendaryThreshold = decimal.NewFromInt(40)
	epicThreshold      = decimal.NewFromInt(20)
	rareThreshold      = decimal.NewFromInt(10)
)

// Policy is immutable once built.
type Policy struct {
	version         string
	tiers           tierTable
	sharePercent    decimal.Decimal
	tokenMultiplier decimal.Decimal
	sharePrecision  int32
}

// Option applies a configuration option to a Policy.
type Option func(*builder)

type builder struct {
	version         string
	tiers           []Tier
	sharePercent    int
	tokenMultiplier int64
	sharePrecision  int32
}

// WithVersion tags the policy; the version is stamped on every transaction.
func WithVersion(v string) Option {
	return func(b *builder) {
		if v != "" {
			b.version = v
		}
	}
}

// WithTiers replaces the tier table.
func WithTiers(tiers []Tier) Option {
	return func(b *builder) { b.tiers = tiers }
}

// WithAthleteSharePercent sets the athlete's share in whole percent.
func WithAthleteSharePercent(pct int) Option {
	return func(b *builder) { b.sharePercent = pct }
}

// WithTokenMultiplier sets reward tokens per currency unit.
func WithTokenMultiplier(m int64) Option {
	return func(b *builder) { b.tokenMultiplier = m }
}

// WithSharePrecision sets how many decimal places the athlete share keeps
// before truncation. Zero truncates to whole currency units.
func WithSharePrecision(places int32) Option {
	return func(b *builder) { b.sharePrecision = places }
}

// New validates the options and returns a Policy.
func New(opts ...Option) (*Policy, error) {
	b := builder{
		version:         DefaultVersion,
		tiers:           TiersV1(),
		sharePercent:    DefaultAthleteSharePercent,
		tokenMultiplier: DefaultTokenMultiplier,
		sharePrecision:  DefaultSharePrecision,
	}
	for _, opt := range opts {
		opt(&b)
	}

	if b.sharePercent < 0 || b.sharePercent > 100 {
		return nil, fmt.Errorf("%w: athlete share percent %d out of [0,100]", ErrInvalidPolicy, b.sharePercent)
	}
	if b.tokenMultiplier <= 0 {
		return nil, fmt.Errorf("%w: token multiplier must be positive", ErrInvalidPolicy)
	}
	if b.sharePrecision < 0 {
		return nil, fmt.Errorf("%w: share precision must not be negative", ErrInvalidPolicy)
	}
	tiers, err := newTierTable(b.tiers)
	if err != nil {
		return nil, err
	}

	return &Policy{
		version:         b.version,
		tiers:           tiers,
		sharePercent:    decimal.NewFromInt(int64(b.sharePercent)),
		tokenMultiplier: decimal.NewFromInt(b.tokenMultiplier),
		sharePrecision:  b.sharePrecision,
	}, nil
}

// MustNew is New for static defaults; it panics on invalid options.
func MustNew(opts ...Option) *Policy {
	p, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Version returns the policy version.
func (p *Policy) Version() string { return p.version }

// Tier looks up a tier by name, case-insensitively.
func (p *Policy) Tier(name string) (Tier, error) {
	t, ok := p.tiers.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	return t, nil
}

// Tiers returns the tier table ordered by floor.
func (p *Policy) Tiers() []Tier {
	out := make([]Tier, len(p.tiers.order))
	copy(out, p.tiers.order)
	return out
}

// Split divides gross between athlete and platform. The athlete share is
// truncated; the platform fee takes the remainder so the two always sum to
// gross exactly.
func (p *Policy) Split(gross decimal.Decimal) (athleteShare, platformFee decimal.Decimal) {
	athleteShare = gross.Mul(p.sharePercent).Div(hundred).RoundFloor(p.sharePrecision)
	platformFee = gross.Sub(athleteShare)
	return athleteShare, platformFee
}

// Tokens returns the reward tokens earned for gross.
func (p *Policy) Tokens(gross decimal.Decimal) decimal.Decimal {
	return gross.Mul(p.tokenMultiplier)
}

// ReactionScore is gross × virality, with virality clamped into [0,1].
func ReactionScore(gross decimal.Decimal, virality float64) decimal.Decimal {
	return gross.Mul(decimal.NewFromFloat(ClampUnit(virality)))
}

// Rarity grades a reaction score.
func Rarity(score decimal.Decimal) model.Rarity {
	switch {
	case score.GreaterThanOrEqual(legendaryThreshold):
		return model.RarityLegendary
	case score.GreaterThanOrEqual(epicThreshold):
		return model.RarityEpic
	case score.GreaterThanOrEqual(rareThreshold):
		return model.RarityRare
	default:
		return model.RarityCommon
	}
}

// ClampUnit maps v into [0,1]; NaN becomes 0.
func ClampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
