package achievement

import (
	"time"

	"github.com/okian/fanpulse/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithRuleSet replaces the default rule set.
func WithRuleSet(rs RuleSet) Option {
	return func(e *Engine) { e.rules = rs }
}

// WithCondition registers or overrides the condition for a trigger.
func WithCondition(t Trigger, c Condition) Option {
	return func(e *Engine) {
		if c != nil {
			e.conditions[t] = c
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}
