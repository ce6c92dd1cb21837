// Package repository defines the durable store contract and its memory and
// Postgres implementations.
package repository

import (
	"context"
	"time"

	"github.com/okian/fanpulse/internal/domain/model"
)

// Store provides keyed, lock-respecting access to engine state. Every write
// that guards an invariant is a single atomic conditional operation.
type Store interface {
	// CreateAthlete inserts a new athlete at version 1.
	// Returns ErrConflict if the id is taken.
	CreateAthlete(ctx context.Context, a model.Athlete) (model.Athlete, error)
	// UpdateAthlete replaces an athlete if its stored version equals
	// expectedVersion. Returns ErrConflict otherwise.
	UpdateAthlete(ctx context.Context, a model.Athlete, expectedVersion int64) (model.Athlete, error)
	// GetAthlete returns ErrNotFound for unknown ids.
	GetAthlete(ctx context.Context, id string) (model.Athlete, error)
	// TopAthletes orders by cumulative earnings desc, then id asc.
	TopAthletes(ctx context.Context, n int) ([]model.Athlete, error)

	// GetFan returns ErrNotFound for unknown ids.
	GetFan(ctx context.Context, id string) (model.Fan, error)
	// HasSupported reports whether fanID ever supported athleteID.
	HasSupported(ctx context.Context, fanID, athleteID string) (bool, error)
	// CommitSupport applies a support atomically: transaction row, athlete
	// and fan counters (CAS on version), and the supporter pair when
	// FirstSupport is set. ExpectedFanVersion 0 means the fan must not exist.
	CommitSupport(ctx context.Context, c model.SupportCommit) error
	// GetTransaction returns ErrNotFound for unknown ids.
	GetTransaction(ctx context.Context, id string) (model.SupportTransaction, error)

	// InsertReaction stores r unless a record exists for its transaction.
	// It returns the stored record and whether this call inserted it.
	InsertReaction(ctx context.Context, r model.ReactionRecord) (model.ReactionRecord, bool, error)
	// GetReactionByTransaction returns ErrNotFound when nothing was minted.
	GetReactionByTransaction(ctx context.Context, txID string) (model.ReactionRecord, error)

	// InsertGrant stores g unless (FanID, RuleID) already has a grant.
	// It returns the stored grant and whether this call inserted it.
	InsertGrant(ctx context.Context, g model.AchievementGrant) (model.AchievementGrant, bool, error)
	// ListGrants returns a fan's grants ordered by grant time.
	ListGrants(ctx context.Context, fanID string) ([]model.AchievementGrant, error)

	// InsertTask stores t at version 1 unless its id exists.
	// It returns the stored task and whether this call inserted it.
	InsertTask(ctx context.Context, t model.DispatchTask) (model.DispatchTask, bool, error)
	// CompareAndSwapTask replaces a task if its stored version equals
	// expectedVersion and returns it with the version bumped.
	CompareAndSwapTask(ctx context.Context, t model.DispatchTask, expectedVersion int64) (model.DispatchTask, error)
	// GetTask returns ErrNotFound for unknown ids.
	GetTask(ctx context.Context, id string) (model.DispatchTask, error)
	// ListTasksByGrant returns a grant's tasks ordered by chain id.
	ListTasksByGrant(ctx context.Context, grantID string) ([]model.DispatchTask, error)
	// ListResumableTasks returns non-terminal tasks due at or before now,
	// oldest first, at most limit of them.
	ListResumableTasks(ctx context.Context, now time.Time, limit int) ([]model.DispatchTask, error)

	// Counts reports row totals for stats.
	Counts(ctx context.Context) (Counts, error)
	Close() error
}

// Counts is a snapshot of row totals.
type Counts struct {
	Athletes     int `json:"athletes"`
	Fans         int `json:"fans"`
	Transactions int `json:"transactions"`
	Reactions    int `json:"reactions"`
	Grants       int `json:"grants"`
	Tasks        int `json:"dispatch_tasks"`
}
