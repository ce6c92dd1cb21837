package achievement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Condition reports whether rule's trigger holds for ev. Conditions are pure;
// the "not granted yet" half of every rule is the store's atomic insert.
type Condition func(rule Rule, ev Event) (bool, error)

func defaultConditions() map[Trigger]Condition {
	return map[Trigger]Condition{
		TriggerFirstSupport:    firstSupport,
		TriggerViralReaction:   viralReaction,
		TriggerMilestoneAmount: milestoneAmount,
		TriggerCommunityRally:  communityRally,
	}
}

func firstSupport(_ Rule, ev Event) (bool, error) {
	return ev.Kind == EventSupportRecorded, nil
}

func viralReaction(rule Rule, ev Event) (bool, error) {
	return ev.ViralityScore >= rule.Threshold, nil
}

func milestoneAmount(rule Rule, ev Event) (bool, error) {
	if ev.Amount.IsNegative() {
		return false, fmt.Errorf("negative amount %s", ev.Amount)
	}
	return ev.Amount.GreaterThanOrEqual(decimal.NewFromFloat(rule.Threshold)), nil
}

func communityRally(rule Rule, ev Event) (bool, error) {
	return float64(ev.ParticipantCount) >= rule.Threshold, nil
}
