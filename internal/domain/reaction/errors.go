package reaction

import "errors"

var (
	// ErrDuplicateMint is returned together with the existing record when a
	// transaction already has one. Callers treat it as success.
	ErrDuplicateMint = errors.New("reaction already minted for transaction")
	// ErrNotMinted means no record exists for the transaction.
	ErrNotMinted = errors.New("reaction not minted")
	// ErrInvalidTransaction rejects transactions without an id or amount.
	ErrInvalidTransaction = errors.New("invalid support transaction")
)
