// Package reaction mints the collectible record attached to each support.
package reaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/okian/fanpulse/internal/adapters/repository"
	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/internal/domain/policy"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/okian/fanpulse/pkg/metrics"
)

const (
	defaultExcerptRunes = 140
	defaultChain        = "base"
	ellipsis            = "…"
)

// recordNamespace derives record ids from transaction ids so a retried mint
// produces the same id.
var recordNamespace = uuid.MustParse("7f1b6a3e-2c4d-4e8f-9a0b-1c2d3e4f5a6b")

// Store persists reaction records, at most one per transaction.
type Store interface {
	InsertReaction(ctx context.Context, r model.ReactionRecord) (model.ReactionRecord, bool, error)
	GetReactionByTransaction(ctx context.Context, txID string) (model.ReactionRecord, error)
}

// AthleteLookup resolves athlete display names.
type AthleteLookup interface {
	GetAthlete(ctx context.Context, id string) (model.Athlete, error)
}

// Publisher stores collectible metadata and returns its public URI.
type Publisher interface {
	Publish(ctx context.Context, key string, meta model.ReactionMetadata) (string, error)
}

// Minter turns committed supports into rarity-tagged collectibles.
type Minter struct {
	store      Store
	athletes   AthleteLookup
	policy     *policy.Policy
	publisher  Publisher
	chain      string
	excerptMax int
	now        func() time.Time
	log        logger.Logger
}

// New builds a Minter. The policy must be the one the ledger uses.
func New(store Store, athletes AthleteLookup, pol *policy.Policy, opts ...Option) *Minter {
	m := &Minter{
		store:      store,
		athletes:   athletes,
		policy:     pol,
		chain:      defaultChain,
		excerptMax: defaultExcerptRunes,
		now:        time.Now,
		log:        logger.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.Named("reaction")
	return m
}

// MintReaction creates the record for tx. A second call for the same
// transaction returns the existing record with ErrDuplicateMint.
func (m *Minter) MintReaction(ctx context.Context, tx model.SupportTransaction, excerpt string, virality float64) (model.ReactionRecord, error) {
	if tx.ID == "" || !tx.GrossAmount.IsPositive() {
		return model.ReactionRecord{}, ErrInvalidTransaction
	}

	existing, err := m.store.GetReactionByTransaction(ctx, tx.ID)
	switch {
	case err == nil:
		metrics.RecordMintDuplicate()
		return existing, ErrDuplicateMint
	case !errors.Is(err, repository.ErrNotFound):
		return model.ReactionRecord{}, fmt.Errorf("load reaction: %w", err)
	}

	score := policy.ReactionScore(tx.GrossAmount, virality)
	rarity := policy.Rarity(score)
	id := uuid.NewSHA1(recordNamespace, []byte(tx.ID)).String()

	athleteName := tx.AthleteID
	if a, err := m.athletes.GetAthlete(ctx, tx.AthleteID); err == nil {
		athleteName = a.Name
	} else {
		m.log.Warn(ctx, "athlete lookup failed, using id as name",
			logger.String("athlete_id", tx.AthleteID), logger.Error(err))
	}
	tierLabel := tx.ReactionTier
	if t, err := m.policy.Tier(tx.ReactionTier); err == nil {
		tierLabel = t.Label
	}

	meta := model.ReactionMetadata{
		AthleteName: athleteName,
		TierLabel:   tierLabel,
		Excerpt:     Excerpt(excerpt, m.excerptMax),
		Timestamp:   tx.CreatedAt,
		Score:       score.String(),
		Slug:        slug.Make(fmt.Sprintf("%s %s %s", athleteName, tierLabel, id[:8])),
	}
	if m.publisher != nil {
		uri, err := m.publisher.Publish(ctx, "reactions/"+tx.ID+".json", meta)
		if err != nil {
			metrics.RecordMetadataPublish("error")
			m.log.Warn(ctx, "metadata publish failed, minting without uri",
				logger.String("transaction_id", tx.ID), logger.Error(err))
		} else {
			metrics.RecordMetadataPublish("ok")
			meta.URI = uri
		}
	}

	rec, inserted, err := m.store.InsertReaction(ctx, model.ReactionRecord{
		ID:                   id,
		SupportTransactionID: tx.ID,
		FanID:                tx.FanID,
		Rarity:               rarity,
		Metadata:             meta,
		MintedChain:          m.chain,
		CreatedAt:            m.now().UTC(),
	})
	if err != nil {
		return model.ReactionRecord{}, fmt.Errorf("insert reaction: %w", err)
	}
	if !inserted {
		metrics.RecordMintDuplicate()
		return rec, ErrDuplicateMint
	}

	metrics.RecordReactionMinted(string(rarity))
	m.log.Debug(ctx, "reaction minted",
		logger.String("transaction_id", tx.ID),
		logger.String("rarity", string(rarity)),
		logger.String("score", meta.Score))
	return rec, nil
}

// Get returns the record minted for txID.
func (m *Minter) Get(ctx context.Context, txID string) (model.ReactionRecord, error) {
	r, err := m.store.GetReactionByTransaction(ctx, txID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.ReactionRecord{}, fmt.Errorf("%w: %s", ErrNotMinted, txID)
	}
	return r, err
}

// Excerpt trims s to at most limit runes, ending in an ellipsis when cut.
func Excerpt(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-1])) + ellipsis
}
