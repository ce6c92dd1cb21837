package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Tier is a named reaction level with a minimum payment floor.
type Tier struct {
	Name  string          `json:"name"`
	Label string          `json:"label"`
	Floor decimal.Decimal `json:"floor"`
}

// TiersV1 is the reaction tier table shared by the ledger and the minter.
// Floors are in whole currency units.
func TiersV1() []Tier {
	return []Tier{
		{Name: "clap", Label: "Clap", Floor: decimal.NewFromInt(2)},
		{Name: "fire", Label: "Fire", Floor: decimal.NewFromInt(5)},
		{Name: "gem", Label: "Gem", Floor: decimal.NewFromInt(10)},
		{Name: "strong", Label: "Strong", Floor: decimal.NewFromInt(15)},
		{Name: "legend", Label: "Legend", Floor: decimal.NewFromInt(25)},
		{Name: "king", Label: "King", Floor: decimal.NewFromInt(50)},
	}
}

// tierTable indexes tiers by lower-cased name.
type tierTable struct {
	byName map[string]Tier
	order  []Tier
}

func newTierTable(tiers []Tier) (tierTable, error) {
	t := tierTable{byName: make(map[string]Tier, len(tiers))}
	for _, tier := range tiers {
		key := strings.ToLower(strings.TrimSpace(tier.Name))
		if key == "" {
			return tierTable{}, fmt.Errorf("%w: tier without a name", ErrInvalidPolicy)
		}
		if !tier.Floor.IsPositive() {
			return tierTable{}, fmt.Errorf("%w: tier %q floor must be positive", ErrInvalidPolicy, tier.Name)
		}
		if _, dup := t.byName[key]; dup {
			return tierTable{}, fmt.Errorf("%w: duplicate tier %q", ErrInvalidPolicy, tier.Name)
		}
		tier.Name = key
		if tier.Label == "" {
			tier.Label = tier.Name
		}
		t.byName[key] = tier
		t.order = append(t.order, tier)
	}
	if len(t.order) == 0 {
		return tierTable{}, fmt.Errorf("%w: empty tier table", ErrInvalidPolicy)
	}
	sort.SliceStable(t.order, func(i, j int) bool { return t.order[i].Floor.LessThan(t.order[j].Floor) })
	return t, nil
}
