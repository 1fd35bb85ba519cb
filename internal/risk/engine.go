package risk

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"trade-router/internal/execution"
)

// Engine 按注册顺序依次执行规则。
type Engine struct {
	rules  []Rule
	alerts *AlertLog
	logger *zap.Logger
}

// NewEngine 创建风控引擎，alerts 可为空。
func NewEngine(logger *zap.Logger, alerts *AlertLog, rules ...Rule) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		rules:  rules,
		alerts: alerts,
		logger: logger,
	}
}

// Rules 返回已注册规则。
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate 执行全部规则并拼接信号，第一条 LOCK 决定拒绝原因。规则出错时整体失败。
func (e *Engine) Evaluate(ctx context.Context, order execution.OrderIntent, rc Context) (Decision, error) {
	var decision Decision
	for _, rule := range e.rules {
		signals, err := rule.Evaluate(ctx, order, rc)
		if err != nil {
			return Decision{}, fmt.Errorf("risk: 规则 %s 评估失败: %w", rule.ID(), err)
		}
		decision.Signals = append(decision.Signals, signals...)
	}

	for i := range decision.Signals {
		if decision.Signals[i].Severity == SeverityLock {
			first := decision.Signals[i]
			decision.Lock = &first
			break
		}
	}

	if alerts := decision.Alerts(); len(alerts) > 0 {
		for _, a := range alerts {
			e.logger.Info("风控预警",
				zap.String("rule", a.RuleID),
				zap.String("account", rc.AccountID),
				zap.String("symbol", order.Symbol),
				zap.String("message", a.Message),
			)
		}
		e.alerts.Add(rc.AccountID, order.Broker, order.Symbol, rc.Now, alerts)
	}
	if decision.Locked() {
		e.logger.Warn("风控拒绝下单",
			zap.String("rule", decision.Lock.RuleID),
			zap.String("account", rc.AccountID),
			zap.String("symbol", order.Symbol),
			zap.String("message", decision.Lock.Message),
		)
	}
	return decision, nil
}

// RegisterExecution 通知有成交后状态的规则。
func (e *Engine) RegisterExecution(ctx context.Context, order execution.OrderIntent, report execution.ExecutionReport) error {
	var errs error
	for _, rule := range e.rules {
		registrar, ok := rule.(ExecutionRegistrar)
		if !ok {
			continue
		}
		if err := registrar.RegisterExecution(ctx, order, report); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("risk: 规则 %s 登记成交失败: %w", rule.ID(), err))
		}
	}
	return errs
}
