package monitor

import (
	"time"

	"trade-router/internal/execution"
	"trade-router/internal/risk"
)

// EventType 表示路由事件类型。
type EventType string

const (
	EventRouted            EventType = "routed"
	EventRiskRejected      EventType = "risk_rejected"
	EventCancelled         EventType = "cancelled"
	EventPersistenceFailed EventType = "persistence_failed"
	EventModeChanged       EventType = "mode_changed"
)

// Event 封装通用路由事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RoutedPayload 记录一次成功路由。
type RoutedPayload struct {
	CorrelationID string                    `json:"correlation_id,omitempty"`
	Report        execution.ExecutionReport `json:"report"`
	Alerts        []risk.Signal             `json:"alerts,omitempty"`
}

// RiskRejectedPayload 记录风控拒单。
type RiskRejectedPayload struct {
	Intent execution.OrderIntent `json:"intent"`
	Lock   risk.Signal           `json:"lock"`
}

// CancelledPayload 记录撤单。
type CancelledPayload struct {
	Report execution.ExecutionReport `json:"report"`
}

// PersistenceFailedPayload 为对账线索：场所已接受但本地未落库。
type PersistenceFailedPayload struct {
	Report execution.ExecutionReport `json:"report"`
	Error  string                    `json:"error"`
}

// ModeChangedPayload 记录模式或限额变更。
type ModeChangedPayload struct {
	From               string  `json:"from"`
	To                 string  `json:"to"`
	DailyNotionalLimit float64 `json:"daily_notional_limit"`
}
