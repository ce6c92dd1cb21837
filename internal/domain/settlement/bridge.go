package settlement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Bridge submits reward settlements to one chain. Implementations must honor
// idempotency keys: submitting the same key twice yields the same txRef.
type Bridge interface {
	ChainID() string
	// EstimateFee asks the chain's live fee oracle for payload.
	EstimateFee(ctx context.Context, payload []byte) (decimal.Decimal, error)
	// Submit sends payload and returns the external transaction reference.
	Submit(ctx context.Context, idempotencyKey string, payload []byte) (string, error)
	// Confirm reports whether txRef is final. An error means the settlement
	// failed; wrap ErrPermanent when retrying cannot help.
	Confirm(ctx context.Context, txRef string) (bool, error)
}

// Payload is the settlement body sent to a bridge.
type Payload struct {
	IdempotencyKey string          `json:"idempotency_key"`
	GrantID        string          `json:"grant_id"`
	RuleID         string          `json:"rule_id"`
	ChainID        string          `json:"chain_id"`
	Asset          string          `json:"asset"`
	Amount         decimal.Decimal `json:"amount"`
	Recipient      string          `json:"recipient"`
}

// PayloadFor builds the settlement body of a task.
func PayloadFor(t model.DispatchTask) Payload {
	return Payload{
		IdempotencyKey: t.ID,
		GrantID:        t.GrantID,
		RuleID:         t.RuleID,
		ChainID:        t.ChainID,
		Asset:          t.Asset,
		Amount:         t.Amount,
		Recipient:      t.FanAddress,
	}
}

// Encode returns the wire form of p.
func (p Payload) Encode() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}
