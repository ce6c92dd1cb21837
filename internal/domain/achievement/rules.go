package achievement

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trigger names the condition a rule checks.
type Trigger string

// Supported triggers.
const (
	TriggerFirstSupport    Trigger = "first_support"
	TriggerViralReaction   Trigger = "viral_reaction"
	TriggerMilestoneAmount Trigger = "milestone_amount"
	TriggerCommunityRally  Trigger = "community_rally"
)

// EventKind classifies an incoming fan event.
type EventKind string

// Event kinds.
const (
	EventSupportRecorded EventKind = "support_recorded"
	EventReactionMinted  EventKind = "reaction_minted"
	EventShare           EventKind = "share"
	EventRally           EventKind = "rally"
)

// Event is the context rules are evaluated against.
type Event struct {
	Kind             EventKind       `json:"kind"`
	FanID            string          `json:"fan_id"`
	TransactionID    string          `json:"transaction_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	ViralityScore    float64         `json:"virality_score"`
	ShareCount       int             `json:"share_count"`
	ParticipantCount int             `json:"participant_count"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// ChainReward is one chain's payout for a rule.
type ChainReward struct {
	ChainID string          `json:"chain_id"`
	Asset   string          `json:"asset"`
	Amount  decimal.Decimal `json:"amount"`
}

// CollectibleTemplate describes the badge minted with a grant.
type CollectibleTemplate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// Reward is what a rule pays out.
type Reward struct {
	Collectible CollectibleTemplate `json:"collectible"`
	Chains      []ChainReward       `json:"chains"`
}

// Rule grants its reward the first time its trigger holds for a fan.
type Rule struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Trigger   Trigger `json:"trigger"`
	Threshold float64 `json:"threshold"`
	Reward    Reward  `json:"reward"`
}

// RuleSet is a versioned, static list of rules.
type RuleSet struct {
	Version string `json:"version"`
	Rules   []Rule `json:"rules"`
}

// Rule returns the rule with id.
func (rs RuleSet) Rule(id string) (Rule, bool) {
	for _, r := range rs.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// Rule ids of the default set.
const (
	RuleChampionSupport = "champion_support"
	RuleViralReaction   = "viral_reaction"
	RuleBigSupporter    = "big_supporter"
	RuleCommunityRally  = "community_rally"
)

func reward(asset string, amount int64, chains ...string) []ChainReward {
	out := make([]ChainReward, len(chains))
	for i, c := range chains {
		out[i] = ChainReward{ChainID: c, Asset: asset, Amount: decimal.NewFromInt(amount)}
	}
	return out
}

// DefaultRuleSet is rule set v1.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Version: "v1",
		Rules: []Rule{
			{
				ID: RuleChampionSupport, Name: "Champion Supporter", Trigger: TriggerFirstSupport,
				Reward: Reward{
					Collectible: CollectibleTemplate{Name: "Champion Supporter", Description: "Backed an athlete for the first time", Image: "badges/champion.png"},
					Chains:      reward("PULSE", 100, "base"),
				},
			},
			{
				ID: RuleViralReaction, Name: "Viral Moment", Trigger: TriggerViralReaction, Threshold: 0.8,
				Reward: Reward{
					Collectible: CollectibleTemplate{Name: "Viral Moment", Description: "A reaction that took off", Image: "badges/viral.png"},
					Chains:      reward("PULSE", 250, "base", "polygon"),
				},
			},
			{
				ID: RuleBigSupporter, Name: "Big Supporter", Trigger: TriggerMilestoneAmount, Threshold: 50,
				Reward: Reward{
					Collectible: CollectibleTemplate{Name: "Big Supporter", Description: "A single support of 50 or more", Image: "badges/big.png"},
					Chains:      reward("PULSE", 500, "base", "polygon", "arbitrum"),
				},
			},
			{
				ID: RuleCommunityRally, Name: "Community Rally", Trigger: TriggerCommunityRally, Threshold: 5,
				Reward: Reward{
					Collectible: CollectibleTemplate{Name: "Rally Starter", Description: "Rallied five or more fans", Image: "badges/rally.png"},
					Chains:      reward("PULSE", 150, "polygon"),
				},
			},
		},
	}
}
