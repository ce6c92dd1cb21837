package settlement_test

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/internal/domain/settlement"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

type brokenOracle struct{ *scriptedBridge }

func (brokenOracle) EstimateFee(context.Context, []byte) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("oracle down")
}

func TestFees(t *testing.T) {
	ctx := context.Background()

	Convey("Words rounds payload size up to 32 byte words", t, func() {
		So(settlement.Words(0), ShouldEqual, 0)
		So(settlement.Words(1), ShouldEqual, 1)
		So(settlement.Words(32), ShouldEqual, 1)
		So(settlement.Words(33), ShouldEqual, 2)
	})

	Convey("Given a fee table", t, func() {
		table := settlement.NewTableEstimator(map[string]decimal.Decimal{"base": decimal.RequireFromString("0.0001")})

		Convey("Then fees scale with payload words", func() {
			fee, err := table.Estimate(ctx, "base", make([]byte, 65))
			So(err, ShouldBeNil)
			So(fee.String(), ShouldEqual, "0.0003")
		})

		Convey("Then unknown chains are rejected", func() {
			_, err := table.Estimate(ctx, "solana", []byte("x"))
			So(errors.Is(err, settlement.ErrUnknownChain), ShouldBeTrue)
		})

		Convey("When the oracle fails the table is used", func() {
			oracle := settlement.NewOracleEstimator([]settlement.Bridge{brokenOracle{newBridge("base")}}, table, logger.Nop())
			fee, err := oracle.Estimate(ctx, "base", make([]byte, 10))
			So(err, ShouldBeNil)
			So(fee.String(), ShouldEqual, "0.0001")
		})

		Convey("When the oracle answers its quote wins", func() {
			oracle := settlement.NewOracleEstimator([]settlement.Bridge{newBridge("base")}, table, nil)
			fee, err := oracle.Estimate(ctx, "base", make([]byte, 10))
			So(err, ShouldBeNil)
			So(fee.String(), ShouldEqual, "0.01")
		})
	})

	Convey("Payloads carry the task's idempotency key", t, func() {
		task := model.DispatchTask{ID: "g:base", GrantID: "g", ChainID: "base", Amount: decimal.NewFromInt(5), FanAddress: "0xw"}
		p := settlement.PayloadFor(task)
		So(p.IdempotencyKey, ShouldEqual, "g:base")
		So(p.Recipient, ShouldEqual, "0xw")
		b, err := p.Encode()
		So(err, ShouldBeNil)
		So(string(b), ShouldContainSubstring, `"amount":"5"`)
	})
}

func TestTransitions(t *testing.T) {
	Convey("The dispatch state machine", t, func() {
		allowed := [][2]model.DispatchStatus{
			{model.DispatchPending, model.DispatchDispatched},
			{model.DispatchPending, model.DispatchCancelled},
			{model.DispatchDispatched, model.DispatchConfirmed},
			{model.DispatchDispatched, model.DispatchFailed},
			{model.DispatchFailed, model.DispatchRetry},
			{model.DispatchFailed, model.DispatchFailedPermanent},
			{model.DispatchRetry, model.DispatchDispatched},
		}
		for _, tr := range allowed {
			So(settlement.CanTransition(tr[0], tr[1]), ShouldBeTrue)
		}

		denied := [][2]model.DispatchStatus{
			{model.DispatchConfirmed, model.DispatchFailed},
			{model.DispatchFailedPermanent, model.DispatchRetry},
			{model.DispatchCancelled, model.DispatchDispatched},
			{model.DispatchDispatched, model.DispatchCancelled},
			{model.DispatchPending, model.DispatchConfirmed},
			{model.DispatchRetry, model.DispatchCancelled},
		}
		for _, tr := range denied {
			So(settlement.CanTransition(tr[0], tr[1]), ShouldBeFalse)
		}
	})
}
