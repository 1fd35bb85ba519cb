package risk

import (
	"context"
	"time"

	"trade-router/internal/execution"
)

// Severity 为风控信号级别。
type Severity string

const (
	// SeverityAlert 仅用于观测，不阻断。
	SeverityAlert Severity = "ALERT"
	// SeverityLock 阻断下单。
	SeverityLock Severity = "LOCK"
)

// Signal 为单条规则的评估输出，不落库。
type Signal struct {
	RuleID   string                 `json:"rule_id"`
	Severity Severity               `json:"severity"`
	Message  string                 `json:"message"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Context 为规则评估上下文。
type Context struct {
	AccountID string
	Broker    string
	Venue     string
	// ReferencePrice 由路由器解析，恒为正。
	ReferencePrice float64
	RealizedPnL    float64
	UnrealizedPnL  float64
	// StopLossOverride 为单次调用的止损阈值覆盖。
	StopLossOverride *float64
	// DailyLoss 调用方提供的当日累计亏损，为空时由 DailyTracker 读取。
	DailyLoss     *float64
	EstimatedLoss float64
	Now           time.Time
}

// ContextFromIntent 从交易意图中提取风控上下文。
func ContextFromIntent(intent execution.OrderIntent, refPrice float64, now time.Time) Context {
	rc := Context{
		AccountID:        intent.AccountID,
		Broker:           intent.Broker,
		ReferencePrice:   refPrice,
		StopLossOverride: intent.Risk.StopLoss,
		Now:              now,
	}
	if intent.Risk.RealizedPnL != nil {
		rc.RealizedPnL = *intent.Risk.RealizedPnL
	}
	if intent.Risk.UnrealizedPnL != nil {
		rc.UnrealizedPnL = *intent.Risk.UnrealizedPnL
	}
	if intent.Risk.EstimatedLoss != nil {
		rc.EstimatedLoss = *intent.Risk.EstimatedLoss
	}
	return rc
}

// Rule 为单条风控规则。
type Rule interface {
	ID() string
	Evaluate(ctx context.Context, order execution.OrderIntent, rc Context) ([]Signal, error)
}

// ExecutionRegistrar 为有成交后状态的规则实现。
type ExecutionRegistrar interface {
	RegisterExecution(ctx context.Context, order execution.OrderIntent, report execution.ExecutionReport) error
}

// Decision 为一次评估的汇总结果。
type Decision struct {
	Signals []Signal
	// Lock 为第一条 LOCK 信号，nil 表示放行。
	Lock *Signal
}

// Locked 是否被阻断。
func (d Decision) Locked() bool {
	return d.Lock != nil
}

// Alerts 返回 ALERT 信号。
func (d Decision) Alerts() []Signal {
	alerts := make([]Signal, 0, len(d.Signals))
	for _, s := range d.Signals {
		if s.Severity == SeverityAlert {
			alerts = append(alerts, s)
		}
	}
	return alerts
}

func lock(rule, message string, meta map[string]interface{}) Signal {
	return Signal{RuleID: rule, Severity: SeverityLock, Message: message, Metadata: meta}
}

func alert(rule, message string, meta map[string]interface{}) Signal {
	return Signal{RuleID: rule, Severity: SeverityAlert, Message: message, Metadata: meta}
}
