package loadgen

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/shopspring/decimal"
)

// tier floors of the default reward policy.
var tiers = []struct {
	name  string
	floor int64
}{
	{"clap", 2}, {"fire", 5}, {"gem", 10}, {"strong", 15}, {"legend", 25}, {"king", 50},
}

var reactions = []string{
	"what a goal", "incredible rally", "unstoppable today", "that save was unreal",
	"legend behaviour", "", "come on!", "best match of the season",
}

var sports = []string{"football", "tennis", "basketball", "athletics", "cricket"}

// randomInt returns a uniform value in [0, n) using crypto/rand.
func randomInt(n int64) int64 {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0
	}
	return v.Int64()
}

// generateAthletes builds athlete registrations with run-unique ids.
func generateAthletes(runID string, n int) []Athlete {
	out := make([]Athlete, n)
	for i := range out {
		name := fmt.Sprintf("Load Athlete %d", i+1)
		out[i] = Athlete{
			ID:    slug.Make(fmt.Sprintf("%s %s", runID, name)),
			Name:  name,
			Sport: sports[i%len(sports)],
		}
	}
	return out
}

// generateSupports builds cfg.NumSupports requests spread over athletes and
// a pool of fan wallets. Amounts are the tier floor plus up to 10 units in
// cents, so every request is valid.
func generateSupports(ctx context.Context, cfg *Config, athletes []Athlete, stats *Stats) []Support {
	logger.Get().Info(ctx, "generating supports", logger.Int("count", cfg.NumSupports))

	fans := make([]string, max(cfg.NumFans, 1))
	for i := range fans {
		fans[i] = "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	out := make([]Support, cfg.NumSupports)
	for i := range out {
		tier := tiers[randomInt(int64(len(tiers)))]
		extra := decimal.New(randomInt(1001), -2)
		out[i] = Support{
			RequestID: uuid.New().String(),
			FanID:     fans[randomInt(int64(len(fans)))],
			AthleteID: athletes[randomInt(int64(len(athletes)))].ID,
			Amount:    decimal.NewFromInt(tier.floor).Add(extra),
			Tier:      tier.name,
			Reaction:  reactions[randomInt(int64(len(reactions)))],
		}
	}
	stats.SupportsGenerated = len(out)
	return out
}
