package risk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trade-router/internal/config"
	"trade-router/internal/execution"
)

// DailyTracker 按交易日和账户累计调用方上报的预估亏损。
// 预估亏损直接信任调用方，并不根据实时盈亏推导。
type DailyTracker struct {
	db     *sql.DB
	cfg    config.RiskConfig
	logger *zap.Logger
}

// NewDailyTracker 创建日度监控器并初始化表结构。
func NewDailyTracker(db *sql.DB, cfg config.RiskConfig, logger *zap.Logger) (*DailyTracker, error) {
	if db == nil {
		return nil, errors.New("risk: 数据库实例不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tracker := &DailyTracker{
		db:     db,
		cfg:    cfg,
		logger: logger,
	}

	if err := tracker.initSchema(); err != nil {
		return nil, err
	}

	return tracker, nil
}

func (t *DailyTracker) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS risk_daily_loss (
			trading_date TEXT NOT NULL,
			account_id TEXT NOT NULL,
			loss REAL NOT NULL,
			orders INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (trading_date, account_id)
		);`,
		`CREATE TABLE IF NOT EXISTS risk_activity_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TEXT NOT NULL,
			event_type TEXT NOT NULL,
			message TEXT NOT NULL,
			details TEXT,
			trading_date TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_risk_activity_date ON risk_activity_log(trading_date);`,
	}

	for _, stmt := range schema {
		if _, err := t.db.Exec(stmt); err != nil {
			return fmt.Errorf("risk: 初始化表结构失败: %w", err)
		}
	}

	return nil
}

// Loss 返回账户在 ts 所属交易日的累计预估亏损。
func (t *DailyTracker) Loss(ctx context.Context, accountID string, ts time.Time) (float64, error) {
	var loss float64
	err := t.db.QueryRowContext(ctx,
		`SELECT loss FROM risk_daily_loss WHERE trading_date = ? AND account_id = ?`,
		tradingDay(ts, t.cfg.DailyLossResetHour), accountID,
	).Scan(&loss)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("risk: 查询当日亏损失败: %w", err)
	}
	return loss, nil
}

// Record 累加一笔预估亏损，首次越过上限时写入风险事件日志。
func (t *DailyTracker) Record(ctx context.Context, accountID string, ts time.Time, estimatedLoss float64) (DailyStatus, error) {
	var result DailyStatus

	tradingDate := tradingDay(ts, t.cfg.DailyLossResetHour)
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("risk: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var previous float64
	row := tx.QueryRowContext(ctx,
		`SELECT loss FROM risk_daily_loss WHERE trading_date = ? AND account_id = ?`,
		tradingDate, accountID,
	)
	if scanErr := row.Scan(&previous); scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		err = fmt.Errorf("risk: 查询当日亏损失败: %w", scanErr)
		return result, err
	}

	current := previous + estimatedLoss
	if _, execErr := tx.ExecContext(ctx,
		`INSERT INTO risk_daily_loss (trading_date, account_id, loss, orders, updated_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(trading_date, account_id) DO UPDATE SET
			loss = excluded.loss, orders = orders + 1, updated_at = excluded.updated_at`,
		tradingDate, accountID, current, now,
	); execErr != nil {
		err = fmt.Errorf("risk: 更新当日亏损失败: %w", execErr)
		return result, err
	}

	limit := t.cfg.MaxDailyLoss
	halted := limit > 0 && current >= limit
	if halted && previous < limit {
		msg := fmt.Sprintf("账户 %s 当日累计预估亏损 %.2f 达到上限 %.2f", accountID, current, limit)
		if logErr := t.logEventTx(ctx, tx, tradingDate, "daily_loss_limit", msg, accountID); logErr != nil {
			err = logErr
			return result, err
		}
		t.logger.Warn("触发日度亏损限制",
			zap.String("trading_date", tradingDate),
			zap.String("account", accountID),
			zap.Float64("loss", current),
		)
	}

	result = DailyStatus{
		TradingDate: tradingDate,
		AccountID:   accountID,
		Loss:        current,
		Limit:       limit,
		Halted:      halted,
	}

	if commitErr := tx.Commit(); commitErr != nil {
		err = commitErr
		return result, fmt.Errorf("risk: 提交事务失败: %w", commitErr)
	}

	return result, nil
}

// LogEvent 记录风控事件。
func (t *DailyTracker) LogEvent(ctx context.Context, eventType, message, details, tradingDate string) error {
	if eventType == "" {
		return errors.New("risk: eventType 不能为空")
	}
	if tradingDate == "" {
		tradingDate = tradingDay(time.Now().UTC(), t.cfg.DailyLossResetHour)
	}

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO risk_activity_log (occurred_at, event_type, message, details, trading_date)
		 VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), eventType, message, details, tradingDate,
	)
	if err != nil {
		return fmt.Errorf("risk: 写入风险事件日志失败: %w", err)
	}

	return nil
}

func (t *DailyTracker) logEventTx(ctx context.Context, tx *sql.Tx, tradingDate, eventType, message, details string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO risk_activity_log (occurred_at, event_type, message, details, trading_date)
		 VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), eventType, message, details, tradingDate,
	)
	if err != nil {
		return fmt.Errorf("risk: 记录风险事件失败: %w", err)
	}
	return nil
}

func tradingDay(ts time.Time, resetHour int) string {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	utc := ts.UTC()
	shifted := utc.Add(-time.Duration(resetHour) * time.Hour)
	day := time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, time.UTC)
	return day.Format("2006-01-02")
}

// DailyStatus 表示账户当日亏损状态。
type DailyStatus struct {
	TradingDate string
	AccountID   string
	Loss        float64
	Limit       float64
	Halted      bool
}

// RuleMaxDailyLoss 为日亏损上限规则 ID。
const RuleMaxDailyLoss = "max_daily_loss"

// DailyLossSource 提供当日累计亏损。
type DailyLossSource interface {
	Loss(ctx context.Context, accountID string, ts time.Time) (float64, error)
}

type dailyLossRecorder interface {
	Record(ctx context.Context, accountID string, ts time.Time, estimatedLoss float64) (DailyStatus, error)
}

// DailyLossRule 当 当日亏损 + 本单预估亏损 超过上限时阻断。
type DailyLossRule struct {
	source  DailyLossSource
	maxLoss float64
	now     func() time.Time
}

// NewDailyLossRule 创建规则，source 可为空（此时只看调用方上报的当日亏损）。
func NewDailyLossRule(source DailyLossSource, maxLoss float64) *DailyLossRule {
	return &DailyLossRule{source: source, maxLoss: maxLoss, now: time.Now}
}

func (r *DailyLossRule) ID() string { return RuleMaxDailyLoss }

func (r *DailyLossRule) Evaluate(ctx context.Context, _ execution.OrderIntent, rc Context) ([]Signal, error) {
	if r.maxLoss <= 0 {
		return nil, nil
	}

	running := 0.0
	switch {
	case rc.DailyLoss != nil:
		running = *rc.DailyLoss
	case r.source != nil:
		loss, err := r.source.Loss(ctx, rc.AccountID, r.at(rc))
		if err != nil {
			return nil, err
		}
		running = loss
	}

	total := running + rc.EstimatedLoss
	if total <= r.maxLoss {
		return nil, nil
	}
	return []Signal{lock(RuleMaxDailyLoss,
		fmt.Sprintf("当日亏损 %.2f + 预估亏损 %.2f 超过上限 %.2f", running, rc.EstimatedLoss, r.maxLoss),
		map[string]interface{}{"daily_loss": running, "estimated_loss": rc.EstimatedLoss, "max_daily_loss": r.maxLoss},
	)}, nil
}

// RegisterExecution 将调用方上报的预估亏损计入当日累计。
func (r *DailyLossRule) RegisterExecution(ctx context.Context, order execution.OrderIntent, report execution.ExecutionReport) error {
	recorder, ok := r.source.(dailyLossRecorder)
	if !ok || order.Risk.EstimatedLoss == nil || *order.Risk.EstimatedLoss == 0 {
		return nil
	}
	ts := report.SubmittedAt
	if ts.IsZero() {
		ts = r.now()
	}
	_, err := recorder.Record(ctx, order.AccountID, ts, *order.Risk.EstimatedLoss)
	return err
}

func (r *DailyLossRule) at(rc Context) time.Time {
	if !rc.Now.IsZero() {
		return rc.Now
	}
	return r.now()
}
