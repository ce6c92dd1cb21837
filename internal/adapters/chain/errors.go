package chain

import "errors"

var (
	// ErrRelayer is returned for unexpected relayer responses.
	ErrRelayer = errors.New("relayer error")
	// ErrReverted means the chain rejected the settlement.
	ErrReverted = errors.New("settlement reverted")
)
