package risk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"trade-router/internal/execution"
)

// RuleStopLoss 为止损规则 ID。
const RuleStopLoss = "stop_loss"

// ThresholdStore 保存账户级止损阈值。
type ThresholdStore interface {
	Threshold(ctx context.Context, accountID string) (float64, bool, error)
	SetThreshold(ctx context.Context, accountID string, threshold float64) error
}

// StopLossRule 当已实现+未实现盈亏 ≤ -阈值时阻断。
// 阈值优先级：单次覆盖 > 账户存储值 > 全局默认。
type StopLossRule struct {
	store      ThresholdStore
	defaultVal float64
	alertRatio float64
}

// NewStopLossRule 创建止损规则，store 可为空。
func NewStopLossRule(store ThresholdStore, defaultThreshold, alertRatio float64) *StopLossRule {
	if alertRatio <= 0 || alertRatio > 1 {
		alertRatio = 0.8
	}
	return &StopLossRule{store: store, defaultVal: defaultThreshold, alertRatio: alertRatio}
}

func (r *StopLossRule) ID() string { return RuleStopLoss }

func (r *StopLossRule) threshold(ctx context.Context, rc Context) (float64, string, error) {
	if rc.StopLossOverride != nil {
		return *rc.StopLossOverride, "override", nil
	}
	if r.store != nil && rc.AccountID != "" {
		v, ok, err := r.store.Threshold(ctx, rc.AccountID)
		if err != nil {
			return 0, "", err
		}
		if ok {
			return v, "account", nil
		}
	}
	return r.defaultVal, "default", nil
}

func (r *StopLossRule) Evaluate(ctx context.Context, _ execution.OrderIntent, rc Context) ([]Signal, error) {
	threshold, source, err := r.threshold(ctx, rc)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		return nil, nil
	}

	pnl := rc.RealizedPnL + rc.UnrealizedPnL
	meta := map[string]interface{}{
		"pnl":              pnl,
		"threshold":        threshold,
		"threshold_source": source,
	}
	switch {
	case pnl <= -threshold:
		return []Signal{lock(RuleStopLoss, fmt.Sprintf("账户盈亏 %.2f 触及止损阈值 -%.2f", pnl, threshold), meta)}, nil
	case pnl <= -threshold*r.alertRatio:
		return []Signal{alert(RuleStopLoss, fmt.Sprintf("账户盈亏 %.2f 接近止损阈值 -%.2f", pnl, threshold), meta)}, nil
	}
	return nil, nil
}

// MemoryThresholdStore 为内存阈值存储。
type MemoryThresholdStore struct {
	mu         sync.RWMutex
	thresholds map[string]float64
}

// NewMemoryThresholdStore 创建内存存储。
func NewMemoryThresholdStore() *MemoryThresholdStore {
	return &MemoryThresholdStore{thresholds: make(map[string]float64)}
}

func (s *MemoryThresholdStore) Threshold(_ context.Context, accountID string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.thresholds[accountID]
	return v, ok, nil
}

func (s *MemoryThresholdStore) SetThreshold(_ context.Context, accountID string, threshold float64) error {
	if threshold < 0 {
		return errors.New("risk: 止损阈值不能为负")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds[accountID] = threshold
	return nil
}

// SQLiteThresholdStore 将阈值保存在 risk_stop_loss 表。
type SQLiteThresholdStore struct {
	db *sql.DB
}

// NewSQLiteThresholdStore 创建存储并初始化表结构。
func NewSQLiteThresholdStore(db *sql.DB) (*SQLiteThresholdStore, error) {
	if db == nil {
		return nil, errors.New("risk: 数据库实例不能为空")
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS risk_stop_loss (
		account_id TEXT PRIMARY KEY,
		threshold REAL NOT NULL,
		updated_at TEXT NOT NULL
	);`)
	if err != nil {
		return nil, fmt.Errorf("risk: 初始化止损表失败: %w", err)
	}
	return &SQLiteThresholdStore{db: db}, nil
}

func (s *SQLiteThresholdStore) Threshold(ctx context.Context, accountID string) (float64, bool, error) {
	var v float64
	err := s.db.QueryRowContext(ctx, `SELECT threshold FROM risk_stop_loss WHERE account_id = ?`, accountID).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("risk: 查询止损阈值失败: %w", err)
	}
	return v, true, nil
}

func (s *SQLiteThresholdStore) SetThreshold(ctx context.Context, accountID string, threshold float64) error {
	if threshold < 0 {
		return errors.New("risk: 止损阈值不能为负")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO risk_stop_loss (account_id, threshold, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET threshold = excluded.threshold, updated_at = excluded.updated_at`,
		accountID, threshold, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("risk: 写入止损阈值失败: %w", err)
	}
	return nil
}
