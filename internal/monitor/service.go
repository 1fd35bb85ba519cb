package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trade-router/internal/execution"
	"trade-router/internal/risk"
	"trade-router/internal/store"
)

// Service 将路由事件写入 monitor_events 表，作为运维对账的审计轨迹。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化事件日志并创建表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordRouted 记录成功路由。
func (s *Service) RecordRouted(ctx context.Context, correlationID string, report execution.ExecutionReport, alerts []risk.Signal) {
	s.record(ctx, EventRouted, RoutedPayload{CorrelationID: correlationID, Report: report, Alerts: alerts}, "记录路由事件失败")
}

// RecordRiskRejected 记录风控拒单。
func (s *Service) RecordRiskRejected(ctx context.Context, intent execution.OrderIntent, lock risk.Signal) {
	s.record(ctx, EventRiskRejected, RiskRejectedPayload{Intent: intent, Lock: lock}, "记录风控事件失败")
}

// RecordCancelled 记录撤单。
func (s *Service) RecordCancelled(ctx context.Context, report execution.ExecutionReport) {
	s.record(ctx, EventCancelled, CancelledPayload{Report: report}, "记录撤单事件失败")
}

// RecordPersistenceFailure 记录落库失败，供人工对账。
func (s *Service) RecordPersistenceFailure(ctx context.Context, report execution.ExecutionReport, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.record(ctx, EventPersistenceFailed, PersistenceFailedPayload{Report: report, Error: msg}, "记录落库失败事件失败")
}

// RecordModeChange 记录模式变更。
func (s *Service) RecordModeChange(ctx context.Context, from, to string, dailyLimit float64) {
	s.record(ctx, EventModeChanged, ModeChangedPayload{From: from, To: to, DailyNotionalLimit: dailyLimit}, "记录模式变更事件失败")
}

func (s *Service) record(ctx context.Context, typ EventType, payload interface{}, failMsg string) {
	if err := s.Record(ctx, Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn(failMsg, zap.String("event", string(typ)), zap.Error(err))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
