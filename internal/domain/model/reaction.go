package model

import "time"

// Rarity grades a reaction collectible.
type Rarity string

// Rarity levels, lowest to highest.
const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// ReactionMetadata is the collectible payload describing the moment.
type ReactionMetadata struct {
	AthleteName string    `json:"athlete_name"`
	TierLabel   string    `json:"tier_label"`
	Excerpt     string    `json:"excerpt"`
	Timestamp   time.Time `json:"timestamp"`
	Score       string    `json:"score"`
	Slug        string    `json:"slug"`
	URI         string    `json:"uri,omitempty"`
}

// ReactionRecord is the append-only collectible minted for a support.
type ReactionRecord struct {
	ID                   string           `json:"id"`
	SupportTransactionID string           `json:"support_transaction_id"`
	FanID                string           `json:"fan_id"`
	Rarity               Rarity           `json:"rarity"`
	Metadata             ReactionMetadata `json:"metadata"`
	MintedChain          string           `json:"minted_chain"`
	CreatedAt            time.Time        `json:"created_at"`
}
