// Package achievement evaluates the versioned rule set against fan events and
// grants each rule at most once per fan.
package achievement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/okian/fanpulse/pkg/metrics"
)

var grantNamespace = uuid.MustParse("3d5c0e52-8f4b-4b7e-a1c9-6e0f2a9d7b14")

// Store persists grants. InsertGrant must be an atomic insert-if-absent on
// (FanID, RuleID).
type Store interface {
	InsertGrant(ctx context.Context, g model.AchievementGrant) (model.AchievementGrant, bool, error)
	ListGrants(ctx context.Context, fanID string) ([]model.AchievementGrant, error)
}

// Granted pairs a grant with the rule that produced it.
type Granted struct {
	Grant model.AchievementGrant
	Rule  Rule
}

// Outcome is the result of evaluating one event.
type Outcome struct {
	// Granted holds grants created by this evaluation.
	Granted []Granted
	// Replayed holds rules whose trigger held again but were granted
	// earlier. Callers may re-drive their settlement idempotently.
	Replayed []Granted
}

// Progress lists a fan's granted and still available rules.
type Progress struct {
	FanID          string   `json:"fan_id"`
	RuleSetVersion string   `json:"rule_set_version"`
	Granted        []string `json:"granted_rule_ids"`
	Available      []string `json:"available_rule_ids"`
}

// Engine evaluates rules independently; one failing rule never blocks the rest.
type Engine struct {
	store      Store
	rules      RuleSet
	conditions map[Trigger]Condition
	now        func() time.Time
	log        logger.Logger
}

// New builds an Engine with the default rule set.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		rules:      DefaultRuleSet(),
		conditions: defaultConditions(),
		now:        time.Now,
		log:        logger.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("achievement")
	return e
}

// Rules returns the active rule set.
func (e *Engine) Rules() RuleSet { return e.rules }

// GrantID is deterministic per (fan, rule).
func GrantID(fanID, ruleID string) string {
	return uuid.NewSHA1(grantNamespace, []byte(fanID+"|"+ruleID)).String()
}

// Evaluate runs every rule against ev. Rule failures are logged and skipped;
// store failures are joined into the returned error alongside the grants
// that did succeed.
func (e *Engine) Evaluate(ctx context.Context, ev Event) (Outcome, error) {
	ev.FanID = strings.TrimSpace(ev.FanID)
	if ev.FanID == "" {
		return Outcome{}, fmt.Errorf("%w: fan id is required", ErrInvalidEvent)
	}

	existing, err := e.store.ListGrants(ctx, ev.FanID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load grants: %w", err)
	}
	granted := make(map[string]model.AchievementGrant, len(existing))
	for _, g := range existing {
		granted[g.RuleID] = g
	}

	var out Outcome
	var errs []error
	for _, rule := range e.rules.Rules {
		ok, err := e.check(rule, ev)
		if err != nil {
			metrics.RecordRuleError(rule.ID)
			e.log.Error(ctx, "rule evaluation failed, skipping",
				logger.String("rule_id", rule.ID),
				logger.String("fan_id", ev.FanID),
				logger.Error(err))
			continue
		}
		if !ok {
			continue
		}

		if g, done := granted[rule.ID]; done {
			out.Replayed = append(out.Replayed, Granted{Grant: g, Rule: rule})
			continue
		}

		g, inserted, err := e.store.InsertGrant(ctx, model.AchievementGrant{
			ID:             GrantID(ev.FanID, rule.ID),
			FanID:          ev.FanID,
			RuleID:         rule.ID,
			RuleSetVersion: e.rules.Version,
			GrantedAt:      e.now().UTC(),
		})
		if err != nil {
			metrics.RecordRuleError(rule.ID)
			e.log.Error(ctx, "grant write failed",
				logger.String("rule_id", rule.ID),
				logger.String("fan_id", ev.FanID),
				logger.Error(err))
			errs = append(errs, fmt.Errorf("grant %s: %w", rule.ID, err))
			continue
		}
		if !inserted {
			metrics.RecordGrantDuplicate(rule.ID)
			out.Replayed = append(out.Replayed, Granted{Grant: g, Rule: rule})
			continue
		}

		metrics.RecordGrant(rule.ID)
		e.log.Info(ctx, "achievement granted",
			logger.String("rule_id", rule.ID),
			logger.String("fan_id", ev.FanID),
			logger.String("event", string(ev.Kind)))
		out.Granted = append(out.Granted, Granted{Grant: g, Rule: rule})
	}
	return out, errors.Join(errs...)
}

// check evaluates one rule, turning a panic into an error.
func (e *Engine) check(rule Rule, ev Event) (ok bool, err error) {
	cond, found := e.conditions[rule.Trigger]
	if !found {
		return false, fmt.Errorf("%w: %s", ErrUnknownTrigger, rule.Trigger)
	}
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("rule panic: %v", r)
		}
	}()
	return cond(rule, ev)
}

// Progress reports which rules the fan holds and which remain.
func (e *Engine) Progress(ctx context.Context, fanID string) (Progress, error) {
	grants, err := e.store.ListGrants(ctx, fanID)
	if err != nil {
		return Progress{}, fmt.Errorf("load grants: %w", err)
	}
	held := make(map[string]struct{}, len(grants))
	p := Progress{FanID: fanID, RuleSetVersion: e.rules.Version, Granted: []string{}, Available: []string{}}
	for _, g := range grants {
		held[g.RuleID] = struct{}{}
		p.Granted = append(p.Granted, g.RuleID)
	}
	for _, r := range e.rules.Rules {
		if _, ok := held[r.ID]; !ok {
			p.Available = append(p.Available, r.ID)
		}
	}
	return p, nil
}
