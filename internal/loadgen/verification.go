package loadgen

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/fanpulse/pkg/logger"
	"github.com/shopspring/decimal"
)

// ErrVerification is returned when the service lost or invented value.
var ErrVerification = errors.New("loadgen: verification failed")

// verifyReceipts checks that every receipt splits its amount exactly.
func verifyReceipts(receipts []Receipt) error {
	var errs []error
	for _, r := range receipts {
		if !r.AthleteShare.Add(r.PlatformFee).Equal(r.Amount) {
			errs = append(errs, fmt.Errorf("%w: transaction %s: %s + %s != %s",
				ErrVerification, r.TransactionID, r.AthleteShare, r.PlatformFee, r.Amount))
		}
	}
	return errors.Join(errs...)
}

// verifyReplays checks that resent requests returned the original receipt.
func verifyReplays(originals map[string]Receipt, replays map[string]Receipt) error {
	var errs []error
	for requestID, replay := range replays {
		orig, ok := originals[requestID]
		if !ok {
			continue
		}
		if !replay.Duplicate || replay.TransactionID != orig.TransactionID {
			errs = append(errs, fmt.Errorf("%w: request %s replayed as %s (duplicate=%t), want %s",
				ErrVerification, requestID, replay.TransactionID, replay.Duplicate, orig.TransactionID))
		}
	}
	return errors.Join(errs...)
}

// expectedEarnings sums the athlete share of first-time receipts per athlete.
func expectedEarnings(receipts []Receipt) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, r := range receipts {
		if r.Duplicate {
			continue
		}
		out[r.AthleteID] = out[r.AthleteID].Add(r.AthleteShare)
	}
	return out
}

// verifyConservation compares each athlete's cumulative earnings with the
// sum of the shares the run was told it earned.
func verifyConservation(ctx context.Context, client *Client, athletes []Athlete, receipts []Receipt, stats *Stats) error {
	expected := expectedEarnings(receipts)
	var errs []error
	for _, a := range athletes {
		got, err := client.GetAthlete(ctx, a.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("get athlete %s: %w", a.ID, err))
			continue
		}
		want := expected[a.ID]
		if !got.CumulativeEarnings.Equal(want) {
			errs = append(errs, fmt.Errorf("%w: athlete %s earned %s, receipts sum to %s",
				ErrVerification, a.ID, got.CumulativeEarnings, want))
			continue
		}
		stats.AthletesVerified++
	}
	if len(errs) == 0 {
		logger.Get().Info(ctx, "conservation verified", logger.Int("athletes", stats.AthletesVerified))
	}
	return errors.Join(errs...)
}
