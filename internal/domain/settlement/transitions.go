package settlement

import "github.com/okian/fanpulse/internal/domain/model"

var transitions = map[model.DispatchStatus][]model.DispatchStatus{
	model.DispatchPending:    {model.DispatchDispatched, model.DispatchCancelled},
	model.DispatchDispatched: {model.DispatchDispatched, model.DispatchConfirmed, model.DispatchFailed},
	model.DispatchFailed:     {model.DispatchRetry, model.DispatchFailedPermanent},
	model.DispatchRetry:      {model.DispatchDispatched},
}

// CanTransition reports whether a task may move from one state to another.
// DISPATCHED → DISPATCHED records progress within an attempt.
func CanTransition(from, to model.DispatchStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
