package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type athleteRow struct {
	ID                 string          `gorm:"primaryKey;size:128"`
	Name               string          `gorm:"size:256;not null"`
	Sport              string          `gorm:"size:128"`
	CumulativeEarnings decimal.Decimal `gorm:"type:numeric(38,18);not null;index"`
	FanCount           int64           `gorm:"not null"`
	TransactionCount   int64           `gorm:"not null"`
	IsActive           bool            `gorm:"not null"`
	Version            int64           `gorm:"not null"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (athleteRow) TableName() string { return "athletes" }

type fanRow struct {
	ID                    string          `gorm:"primaryKey;size:128"`
	CumulativeContributed decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	RewardTokenBalance    decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	SupportCount          int64           `gorm:"not null"`
	Version               int64           `gorm:"not null"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (fanRow) TableName() string { return "fans" }

type supporterRow struct {
	FanID     string `gorm:"primaryKey;size:128"`
	AthleteID string `gorm:"primaryKey;size:128"`
	CreatedAt time.Time
}

func (supporterRow) TableName() string { return "athlete_supporters" }

type transactionRow struct {
	ID            string          `gorm:"primaryKey;size:64"`
	FanID         string          `gorm:"size:128;not null;index"`
	AthleteID     string          `gorm:"size:128;not null;index"`
	GrossAmount   decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	AthleteShare  decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	PlatformFee   decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	TokensAwarded decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	ReactionTier  string          `gorm:"size:32;not null"`
	PolicyVersion string          `gorm:"size:32;not null"`
	CreatedAt     time.Time
}

func (transactionRow) TableName() string { return "support_transactions" }

type reactionRow struct {
	ID                   string `gorm:"primaryKey;size:64"`
	SupportTransactionID string `gorm:"size:64;not null;uniqueIndex"`
	FanID                string `gorm:"size:128;not null;index"`
	Rarity               string `gorm:"size:16;not null"`
	Metadata             string `gorm:"type:jsonb;not null"`
	MintedChain          string `gorm:"size:32"`
	CreatedAt            time.Time
}

func (reactionRow) TableName() string { return "reaction_records" }

type grantRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	FanID          string `gorm:"size:128;not null;uniqueIndex:idx_grant_fan_rule"`
	RuleID         string `gorm:"size:64;not null;uniqueIndex:idx_grant_fan_rule"`
	RuleSetVersion string `gorm:"size:32;not null"`
	GrantedAt      time.Time
}

func (grantRow) TableName() string { return "achievement_grants" }

type taskRow struct {
	ID            string          `gorm:"primaryKey;size:160"`
	GrantID       string          `gorm:"size:64;not null;index"`
	FanID         string          `gorm:"size:128;not null"`
	FanAddress    string          `gorm:"size:128;not null"`
	RuleID        string          `gorm:"size:64;not null"`
	ChainID       string          `gorm:"size:32;not null"`
	Asset         string          `gorm:"size:32"`
	Amount        decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	NativeFee     decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	Status        string          `gorm:"size:24;not null;index:idx_task_due,priority:1"`
	Attempts      int             `gorm:"not null"`
	TxRef         string          `gorm:"size:256"`
	LastError     string          `gorm:"type:text"`
	NextAttemptAt time.Time       `gorm:"index:idx_task_due,priority:2"`
	Version       int64           `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (taskRow) TableName() string { return "dispatch_tasks" }

var terminalStatuses = []string{
	string(model.DispatchConfirmed),
	string(model.DispatchFailedPermanent),
	string(model.DispatchCancelled),
}

// GormStore is a Postgres-backed Store. Counter rows are guarded by a
// version column; unique rows rely on primary and unique keys with
// ON CONFLICT DO NOTHING.
type GormStore struct {
	db          *gorm.DB
	autoMigrate bool
	log         logger.Logger
}

// NewGormStore opens a Postgres connection for dsn.
func NewGormStore(ctx context.Context, dsn string, opts ...GormOption) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewGormStoreFromDB(ctx, db, opts...)
}

// NewGormStoreFromDB wraps an open gorm handle.
func NewGormStoreFromDB(ctx context.Context, db *gorm.DB, opts ...GormOption) (*GormStore, error) {
	s := &GormStore{db: db, autoMigrate: true, log: logger.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.autoMigrate {
		if err := s.db.WithContext(ctx).AutoMigrate(
			&athleteRow{}, &fanRow{}, &supporterRow{}, &transactionRow{},
			&reactionRow{}, &grantRow{}, &taskRow{},
		); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		s.log.Info(ctx, "store schema migrated")
	}
	return s, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *GormStore) CreateAthlete(ctx context.Context, a model.Athlete) (model.Athlete, error) {
	a.Version = 1
	row := athleteToRow(a)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return model.Athlete{}, fmt.Errorf("create athlete %s: %w", a.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return model.Athlete{}, fmt.Errorf("athlete %s: %w", a.ID, ErrConflict)
	}
	return a, nil
}

func (s *GormStore) UpdateAthlete(ctx context.Context, a model.Athlete, expectedVersion int64) (model.Athlete, error) {
	a.Version = expectedVersion + 1
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return updateAthlete(tx, a, expectedVersion)
	})
	if err != nil {
		return model.Athlete{}, err
	}
	return a, nil
}

// updateAthlete locks the row, checks the version and writes a. a.Version
// must already hold the new version.
func updateAthlete(tx *gorm.DB, a model.Athlete, expectedVersion int64) error {
	var cur athleteRow
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", a.ID).
		First(&cur).Error; err != nil {
		return notFound(err, "athlete "+a.ID)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("athlete %s: %w", a.ID, ErrConflict)
	}
	return tx.Model(&athleteRow{}).Where("id = ?", a.ID).Updates(map[string]any{
		"name":                a.Name,
		"sport":               a.Sport,
		"cumulative_earnings": a.CumulativeEarnings,
		"fan_count":           a.FanCount,
		"transaction_count":   a.TransactionCount,
		"is_active":           a.IsActive,
		"version":             a.Version,
		"updated_at":          a.UpdatedAt,
	}).Error
}

func (s *GormStore) GetAthlete(ctx context.Context, id string) (model.Athlete, error) {
	var row athleteRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return model.Athlete{}, notFound(err, "athlete "+id)
	}
	return row.toModel(), nil
}

func (s *GormStore) TopAthletes(ctx context.Context, n int) ([]model.Athlete, error) {
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	var rows []athleteRow
	if err := s.db.WithContext(ctx).
		Order("cumulative_earnings DESC, id ASC").
		Limit(n).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("top athletes: %w", err)
	}
	out := make([]model.Athlete, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

func (s *GormStore) GetFan(ctx context.Context, id string) (model.Fan, error) {
	var row fanRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return model.Fan{}, notFound(err, "fan "+id)
	}
	return row.toModel(), nil
}

func (s *GormStore) HasSupported(ctx context.Context, fanID, athleteID string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&supporterRow{}).
		Where("fan_id = ? AND athlete_id = ?", fanID, athleteID).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("has supported: %w", err)
	}
	return n > 0, nil
}

func (s *GormStore) CommitSupport(ctx context.Context, c model.SupportCommit) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a := c.Athlete
		a.Version = c.ExpectedAthleteVersion + 1
		if err := updateAthlete(tx, a, c.ExpectedAthleteVersion); err != nil {
			return err
		}

		f := c.Fan
		f.Version = c.ExpectedFanVersion + 1
		if c.ExpectedFanVersion == 0 {
			row := fanToRow(f)
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return fmt.Errorf("create fan %s: %w", f.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("fan %s: %w", f.ID, ErrConflict)
			}
		} else {
			res := tx.Model(&fanRow{}).
				Where("id = ? AND version = ?", f.ID, c.ExpectedFanVersion).
				Updates(map[string]any{
					"cumulative_contributed": f.CumulativeContributed,
					"reward_token_balance":   f.RewardTokenBalance,
					"support_count":          f.SupportCount,
					"version":                f.Version,
					"updated_at":             f.UpdatedAt,
				})
			if res.Error != nil {
				return fmt.Errorf("update fan %s: %w", f.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("fan %s: %w", f.ID, ErrConflict)
			}
		}

		if c.FirstSupport {
			pair := supporterRow{FanID: f.ID, AthleteID: a.ID, CreatedAt: c.Transaction.CreatedAt}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&pair)
			if res.Error != nil {
				return fmt.Errorf("record supporter: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("supporter %s|%s: %w", f.ID, a.ID, ErrConflict)
			}
		}

		row := transactionToRow(c.Transaction)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert transaction %s: %w", row.ID, err)
		}
		return nil
	})
}

func (s *GormStore) GetTransaction(ctx context.Context, id string) (model.SupportTransaction, error) {
	var row transactionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return model.SupportTransaction{}, notFound(err, "transaction "+id)
	}
	return row.toModel(), nil
}

func (s *GormStore) InsertReaction(ctx context.Context, r model.ReactionRecord) (model.ReactionRecord, bool, error) {
	row, err := reactionToRow(r)
	if err != nil {
		return model.ReactionRecord{}, false, err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "support_transaction_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return model.ReactionRecord{}, false, fmt.Errorf("insert reaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		existing, err := s.GetReactionByTransaction(ctx, r.SupportTransactionID)
		return existing, false, err
	}
	return r, true, nil
}

func (s *GormStore) GetReactionByTransaction(ctx context.Context, txID string) (model.ReactionRecord, error) {
	var row reactionRow
	if err := s.db.WithContext(ctx).Where("support_transaction_id = ?", txID).First(&row).Error; err != nil {
		return model.ReactionRecord{}, notFound(err, "reaction for "+txID)
	}
	return row.toModel()
}

func (s *GormStore) InsertGrant(ctx context.Context, g model.AchievementGrant) (model.AchievementGrant, bool, error) {
	row := grantRow{ID: g.ID, FanID: g.FanID, RuleID: g.RuleID, RuleSetVersion: g.RuleSetVersion, GrantedAt: g.GrantedAt}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return model.AchievementGrant{}, false, fmt.Errorf("insert grant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var existing grantRow
		if err := s.db.WithContext(ctx).
			Where("fan_id = ? AND rule_id = ?", g.FanID, g.RuleID).
			First(&existing).Error; err != nil {
			return model.AchievementGrant{}, false, notFound(err, "grant "+g.FanID+"/"+g.RuleID)
		}
		return existing.toModel(), false, nil
	}
	return g, true, nil
}

func (s *GormStore) ListGrants(ctx context.Context, fanID string) ([]model.AchievementGrant, error) {
	var rows []grantRow
	if err := s.db.WithContext(ctx).
		Where("fan_id = ?", fanID).
		Order("granted_at ASC, rule_id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	out := make([]model.AchievementGrant, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

func (s *GormStore) InsertTask(ctx context.Context, t model.DispatchTask) (model.DispatchTask, bool, error) {
	t.Version = 1
	row := taskToRow(t)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return model.DispatchTask{}, false, fmt.Errorf("insert task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		existing, err := s.GetTask(ctx, t.ID)
		return existing, false, err
	}
	return t, true, nil
}

func (s *GormStore) CompareAndSwapTask(ctx context.Context, t model.DispatchTask, expectedVersion int64) (model.DispatchTask, error) {
	t.Version = expectedVersion + 1
	res := s.db.WithContext(ctx).Model(&taskRow{}).
		Where("id = ? AND version = ?", t.ID, expectedVersion).
		Updates(map[string]any{
			"native_fee":      t.NativeFee,
			"status":          string(t.Status),
			"attempts":        t.Attempts,
			"tx_ref":          t.TxRef,
			"last_error":      t.LastError,
			"next_attempt_at": t.NextAttemptAt,
			"version":         t.Version,
			"updated_at":      t.UpdatedAt,
		})
	if res.Error != nil {
		return model.DispatchTask{}, fmt.Errorf("update task %s: %w", t.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetTask(ctx, t.ID); err != nil {
			return model.DispatchTask{}, err
		}
		return model.DispatchTask{}, fmt.Errorf("task %s: %w", t.ID, ErrConflict)
	}
	return t, nil
}

func (s *GormStore) GetTask(ctx context.Context, id string) (model.DispatchTask, error) {
	var row taskRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return model.DispatchTask{}, notFound(err, "task "+id)
	}
	return row.toModel(), nil
}

func (s *GormStore) ListTasksByGrant(ctx context.Context, grantID string) ([]model.DispatchTask, error) {
	var rows []taskRow
	if err := s.db.WithContext(ctx).
		Where("grant_id = ?", grantID).
		Order("chain_id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasksToModel(rows), nil
}

func (s *GormStore) ListResumableTasks(ctx context.Context, now time.Time, limit int) ([]model.DispatchTask, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	var rows []taskRow
	if err := s.db.WithContext(ctx).
		Where("status NOT IN ?", terminalStatuses).
		Where("next_attempt_at <= ?", now).
		Order("next_attempt_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list resumable tasks: %w", err)
	}
	return tasksToModel(rows), nil
}

func (s *GormStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	for _, m := range []struct {
		model any
		dst   *int
	}{
		{&athleteRow{}, &c.Athletes},
		{&fanRow{}, &c.Fans},
		{&transactionRow{}, &c.Transactions},
		{&reactionRow{}, &c.Reactions},
		{&grantRow{}, &c.Grants},
		{&taskRow{}, &c.Tasks},
	} {
		var n int64
		if err := s.db.WithContext(ctx).Model(m.model).Count(&n).Error; err != nil {
			return Counts{}, fmt.Errorf("count: %w", err)
		}
		*m.dst = int(n)
	}
	publishCounts(c)
	return c, nil
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func athleteToRow(a model.Athlete) athleteRow {
	return athleteRow{
		ID: a.ID, Name: a.Name, Sport: a.Sport,
		CumulativeEarnings: a.CumulativeEarnings,
		FanCount:           a.FanCount, TransactionCount: a.TransactionCount,
		IsActive: a.IsActive, Version: a.Version,
		CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
}

func (r athleteRow) toModel() model.Athlete {
	return model.Athlete{
		ID: r.ID, Name: r.Name, Sport: r.Sport,
		CumulativeEarnings: r.CumulativeEarnings,
		FanCount:           r.FanCount, TransactionCount: r.TransactionCount,
		IsActive: r.IsActive, Version: r.Version,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func fanToRow(f model.Fan) fanRow {
	return fanRow{
		ID:                    f.ID,
		CumulativeContributed: f.CumulativeContributed,
		RewardTokenBalance:    f.RewardTokenBalance,
		SupportCount:          f.SupportCount,
		Version:               f.Version,
		CreatedAt:             f.CreatedAt,
		UpdatedAt:             f.UpdatedAt,
	}
}

func (r fanRow) toModel() model.Fan {
	return model.Fan{
		ID:                    r.ID,
		CumulativeContributed: r.CumulativeContributed,
		RewardTokenBalance:    r.RewardTokenBalance,
		SupportCount:          r.SupportCount,
		Version:               r.Version,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

func transactionToRow(t model.SupportTransaction) transactionRow {
	return transactionRow{
		ID: t.ID, FanID: t.FanID, AthleteID: t.AthleteID,
		GrossAmount: t.GrossAmount, AthleteShare: t.AthleteShare,
		PlatformFee: t.PlatformFee, TokensAwarded: t.TokensAwarded,
		ReactionTier: t.ReactionTier, PolicyVersion: t.PolicyVersion,
		CreatedAt: t.CreatedAt,
	}
}

func (r transactionRow) toModel() model.SupportTransaction {
	return model.SupportTransaction{
		ID: r.ID, FanID: r.FanID, AthleteID: r.AthleteID,
		GrossAmount: r.GrossAmount, AthleteShare: r.AthleteShare,
		PlatformFee: r.PlatformFee, TokensAwarded: r.TokensAwarded,
		ReactionTier: r.ReactionTier, PolicyVersion: r.PolicyVersion,
		CreatedAt: r.CreatedAt,
	}
}

func reactionToRow(r model.ReactionRecord) (reactionRow, error) {
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return reactionRow{}, fmt.Errorf("encode reaction metadata: %w", err)
	}
	return reactionRow{
		ID: r.ID, SupportTransactionID: r.SupportTransactionID, FanID: r.FanID,
		Rarity: string(r.Rarity), Metadata: string(meta),
		MintedChain: r.MintedChain, CreatedAt: r.CreatedAt,
	}, nil
}

func (r reactionRow) toModel() (model.ReactionRecord, error) {
	var meta model.ReactionMetadata
	if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
		return model.ReactionRecord{}, fmt.Errorf("decode reaction metadata: %w", err)
	}
	return model.ReactionRecord{
		ID: r.ID, SupportTransactionID: r.SupportTransactionID, FanID: r.FanID,
		Rarity: model.Rarity(r.Rarity), Metadata: meta,
		MintedChain: r.MintedChain, CreatedAt: r.CreatedAt,
	}, nil
}

func (r grantRow) toModel() model.AchievementGrant {
	return model.AchievementGrant{
		ID: r.ID, FanID: r.FanID, RuleID: r.RuleID,
		RuleSetVersion: r.RuleSetVersion, GrantedAt: r.GrantedAt,
	}
}

func taskToRow(t model.DispatchTask) taskRow {
	return taskRow{
		ID: t.ID, GrantID: t.GrantID, FanID: t.FanID, FanAddress: t.FanAddress,
		RuleID: t.RuleID, ChainID: t.ChainID, Asset: t.Asset,
		Amount: t.Amount, NativeFee: t.NativeFee, Status: string(t.Status),
		Attempts: t.Attempts, TxRef: t.TxRef, LastError: t.LastError,
		NextAttemptAt: t.NextAttemptAt, Version: t.Version,
		CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	}
}

func (r taskRow) toModel() model.DispatchTask {
	return model.DispatchTask{
		ID: r.ID, GrantID: r.GrantID, FanID: r.FanID, FanAddress: r.FanAddress,
		RuleID: r.RuleID, ChainID: r.ChainID, Asset: r.Asset,
		Amount: r.Amount, NativeFee: r.NativeFee, Status: model.DispatchStatus(r.Status),
		Attempts: r.Attempts, TxRef: r.TxRef, LastError: r.LastError,
		NextAttemptAt: r.NextAttemptAt, Version: r.Version,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func tasksToModel(rows []taskRow) []model.DispatchTask {
	out := make([]model.DispatchTask, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)
