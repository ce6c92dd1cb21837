package settlement

import "errors"

var (
	// ErrPermanent marks bridge errors that must not be retried.
	ErrPermanent = errors.New("permanent dispatch failure")
	// ErrUnknownChain means no bridge or fee entry exists for the chain.
	ErrUnknownChain = errors.New("unknown chain")
	// ErrIllegalTransition rejects a state change outside the task table.
	ErrIllegalTransition = errors.New("illegal dispatch transition")
	// ErrNotCancellable is returned when cancelling a task that left PENDING.
	ErrNotCancellable = errors.New("dispatch is not cancellable")
	// ErrUnknownTask is returned for task ids that do not exist.
	ErrUnknownTask = errors.New("unknown dispatch task")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("coordinator stopped")
)
