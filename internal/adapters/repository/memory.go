package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/pkg/metrics"
)

// MemoryStore is an in-process Store. Every method runs inside one critical
// section, which makes each conditional write atomic.
type MemoryStore struct {
	mu           sync.RWMutex
	athletes     map[string]model.Athlete
	fans         map[string]model.Fan
	supporters   map[string]struct{} // fan|athlete
	transactions map[string]model.SupportTransaction
	reactions    map[string]model.ReactionRecord // by transaction id
	grants       map[string]model.AchievementGrant
	grantIDs     map[string]string // fan|rule -> grant id
	tasks        map[string]model.DispatchTask

	metricsUpdateInterval time.Duration
	wg                    sync.WaitGroup
	stopChan              chan struct{}
	closeOnce             sync.Once
}

// NewMemoryStore constructs an empty store and starts its metrics updater.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		athletes:              make(map[string]model.Athlete),
		fans:                  make(map[string]model.Fan),
		supporters:            make(map[string]struct{}),
		transactions:          make(map[string]model.SupportTransaction),
		reactions:             make(map[string]model.ReactionRecord),
		grants:                make(map[string]model.AchievementGrant),
		grantIDs:              make(map[string]string),
		tasks:                 make(map[string]model.DispatchTask),
		metricsUpdateInterval: 5 * time.Second,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startMetricsUpdater(ctx)
	return s
}

func pairKey(a, b string) string { return a + "|" + b }

func (s *MemoryStore) CreateAthlete(_ context.Context, a model.Athlete) (model.Athlete, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.athletes[a.ID]; ok {
		return model.Athlete{}, fmt.Errorf("athlete %s: %w", a.ID, ErrConflict)
	}
	a.Version = 1
	s.athletes[a.ID] = a
	return a, nil
}

func (s *MemoryStore) UpdateAthlete(_ context.Context, a model.Athlete, expectedVersion int64) (model.Athlete, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.athletes[a.ID]
	if !ok {
		return model.Athlete{}, fmt.Errorf("athlete %s: %w", a.ID, ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return model.Athlete{}, fmt.Errorf("athlete %s: %w", a.ID, ErrConflict)
	}
	a.Version = expectedVersion + 1
	s.athletes[a.ID] = a
	return a, nil
}

func (s *MemoryStore) GetAthlete(_ context.Context, id string) (model.Athlete, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.athletes[id]
	if !ok {
		return model.Athlete{}, fmt.Errorf("athlete %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (s *MemoryStore) TopAthletes(_ context.Context, n int) ([]model.Athlete, error) {
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	out := make([]model.Athlete, 0, len(s.athletes))
	for _, a := range s.athletes {
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].CumulativeEarnings.Cmp(out[j].CumulativeEarnings); c != 0 {
			return c > 0
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *MemoryStore) GetFan(_ context.Context, id string) (model.Fan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fans[id]
	if !ok {
		return model.Fan{}, fmt.Errorf("fan %s: %w", id, ErrNotFound)
	}
	return f, nil
}

func (s *MemoryStore) HasSupported(_ context.Context, fanID, athleteID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.supporters[pairKey(fanID, athleteID)]
	return ok, nil
}

func (s *MemoryStore) CommitSupport(_ context.Context, c model.SupportCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	athlete, ok := s.athletes[c.Athlete.ID]
	if !ok {
		return fmt.Errorf("athlete %s: %w", c.Athlete.ID, ErrNotFound)
	}
	if athlete.Version != c.ExpectedAthleteVersion {
		return fmt.Errorf("athlete %s: %w", c.Athlete.ID, ErrConflict)
	}
	fan, exists := s.fans[c.Fan.ID]
	switch {
	case !exists && c.ExpectedFanVersion != 0:
		return fmt.Errorf("fan %s: %w", c.Fan.ID, ErrConflict)
	case exists && fan.Version != c.ExpectedFanVersion:
		return fmt.Errorf("fan %s: %w", c.Fan.ID, ErrConflict)
	}
	pair := pairKey(c.Fan.ID, c.Athlete.ID)
	if _, supported := s.supporters[pair]; supported && c.FirstSupport {
		return fmt.Errorf("supporter %s: %w", pair, ErrConflict)
	}
	if _, dup := s.transactions[c.Transaction.ID]; dup {
		return fmt.Errorf("transaction %s: %w", c.Transaction.ID, ErrConflict)
	}

	a := c.Athlete
	a.Version = c.ExpectedAthleteVersion + 1
	f := c.Fan
	f.Version = c.ExpectedFanVersion + 1

	s.athletes[a.ID] = a
	s.fans[f.ID] = f
	if c.FirstSupport {
		s.supporters[pair] = struct{}{}
	}
	s.transactions[c.Transaction.ID] = c.Transaction
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (model.SupportTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return model.SupportTransaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return tx, nil
}

func (s *MemoryStore) InsertReaction(_ context.Context, r model.ReactionRecord) (model.ReactionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.reactions[r.SupportTransactionID]; ok {
		return existing, false, nil
	}
	s.reactions[r.SupportTransactionID] = r
	return r, true, nil
}

func (s *MemoryStore) GetReactionByTransaction(_ context.Context, txID string) (model.ReactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reactions[txID]
	if !ok {
		return model.ReactionRecord{}, fmt.Errorf("reaction for %s: %w", txID, ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) InsertGrant(_ context.Context, g model.AchievementGrant) (model.AchievementGrant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(g.FanID, g.RuleID)
	if id, ok := s.grantIDs[key]; ok {
		return s.grants[id], false, nil
	}
	s.grantIDs[key] = g.ID
	s.grants[g.ID] = g
	return g, true, nil
}

func (s *MemoryStore) ListGrants(_ context.Context, fanID string) ([]model.AchievementGrant, error) {
	s.mu.RLock()
	out := make([]model.AchievementGrant, 0)
	for _, g := range s.grants {
		if g.FanID == fanID {
			out = append(out, g)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].GrantedAt.Before(out[j].GrantedAt)
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out, nil
}

func (s *MemoryStore) InsertTask(_ context.Context, t model.DispatchTask) (model.DispatchTask, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.tasks[t.ID]; ok {
		return existing, false, nil
	}
	t.Version = 1
	s.tasks[t.ID] = t
	return t, true, nil
}

func (s *MemoryStore) CompareAndSwapTask(_ context.Context, t model.DispatchTask, expectedVersion int64) (model.DispatchTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok {
		return model.DispatchTask{}, fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return model.DispatchTask{}, fmt.Errorf("task %s: %w", t.ID, ErrConflict)
	}
	t.Version = expectedVersion + 1
	s.tasks[t.ID] = t
	return t, nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (model.DispatchTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return model.DispatchTask{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *MemoryStore) ListTasksByGrant(_ context.Context, grantID string) ([]model.DispatchTask, error) {
	s.mu.RLock()
	out := make([]model.DispatchTask, 0)
	for _, t := range s.tasks {
		if t.GrantID == grantID {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out, nil
}

func (s *MemoryStore) ListResumableTasks(_ context.Context, now time.Time, limit int) ([]model.DispatchTask, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	out := make([]model.DispatchTask, 0)
	for _, t := range s.tasks {
		if !t.Status.Terminal() && !t.NextAttemptAt.After(now) {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextAttemptAt.Equal(out[j].NextAttemptAt) {
			return out[i].NextAttemptAt.Before(out[j].NextAttemptAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Counts(_ context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{
		Athletes:     len(s.athletes),
		Fans:         len(s.fans),
		Transactions: len(s.transactions),
		Reactions:    len(s.reactions),
		Grants:       len(s.grants),
		Tasks:        len(s.tasks),
	}, nil
}

// Close stops the metrics updater.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// startMetricsUpdater starts a background goroutine that publishes row counts.
func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics(ctx)
			}
		}
	}()
}

func (s *MemoryStore) updateMetrics(ctx context.Context) {
	c, _ := s.Counts(ctx)
	publishCounts(c)
}

func publishCounts(c Counts) {
	metrics.UpdateRepositoryRecords("athletes", c.Athletes)
	metrics.UpdateRepositoryRecords("fans", c.Fans)
	metrics.UpdateRepositoryRecords("transactions", c.Transactions)
	metrics.UpdateRepositoryRecords("reactions", c.Reactions)
	metrics.UpdateRepositoryRecords("grants", c.Grants)
	metrics.UpdateRepositoryRecords("dispatch_tasks", c.Tasks)
}
