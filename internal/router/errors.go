package router

import (
	"errors"
	"fmt"

	"trade-router/internal/execution"
	"trade-router/internal/risk"
)

// ValidationError 入参非法、交易对未知或超过沙盒数量上限，不重试。
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("router: 参数校验失败: %s: %v", e.Reason, e.Err)
	}
	return "router: 参数校验失败: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// RiskLockedError 风控阻断，订单未到达任何场所。
type RiskLockedError struct {
	Lock    risk.Signal
	Signals []risk.Signal
}

func (e *RiskLockedError) Error() string {
	return fmt.Sprintf("router: 风控拒绝 [%s]: %s", e.Lock.RuleID, e.Lock.Message)
}

// NotFoundError 券商、订单或持仓不存在。
type NotFoundError struct {
	Kind string
	Key  string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("router: %s 不存在: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// DailyLimitError 本单会使当日名义价值超过上限。
type DailyLimitError struct {
	Limit     float64
	Used      float64
	Requested float64
}

func (e *DailyLimitError) Error() string {
	return fmt.Sprintf("router: 当日名义价值 %.2f + %.2f 超过上限 %.2f", e.Used, e.Requested, e.Limit)
}

// VenueError 场所拒单，或重试耗尽后仍不可达。
type VenueError struct {
	Broker string
	Report *execution.ExecutionReport
	Err    error
}

func (e *VenueError) Error() string {
	if e.Err == nil && e.Report != nil {
		return fmt.Sprintf("router: 场所 %s 拒单: %s", e.Broker, e.Report.Message)
	}
	return fmt.Sprintf("router: 场所 %s 调用失败: %v", e.Broker, e.Err)
}

func (e *VenueError) Unwrap() error { return e.Err }

// PersistenceError 场所已接受订单但落库失败，需要对照场所订单簿人工对账。
type PersistenceError struct {
	Report execution.ExecutionReport
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("router: 订单 %s/%s 已在场所生效但落库失败: %v", e.Report.Broker, e.Report.VenueOrderID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence 判断是否为落库失败。
func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}
