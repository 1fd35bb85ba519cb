package execution

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide 解析方向，大小写不敏感。
func ParseSide(raw string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(raw))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("execution: 无效的下单方向 %q", raw)
}

// Sign 买为 +1，卖为 -1。
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 为委托类型。
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Status 为执行回报状态。
//
//	accepted ─┬─> partially_filled ─┬─> filled
//	          │                     └─> cancelled
//	          ├─> filled
//	          ├─> cancelled
//	          └─> rejected
type Status string

const (
	StatusAccepted        Status = "accepted"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
	StatusRejected        Status = "rejected"
)

// IsTerminal 终态不可再变更。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// CanTransition 判断状态迁移是否合法，同状态视为合法。
func (s Status) CanTransition(to Status) bool {
	if s == to {
		return true
	}
	switch s {
	case StatusAccepted:
		return to == StatusPartiallyFilled || to == StatusFilled || to == StatusCancelled || to == StatusRejected
	case StatusPartiallyFilled:
		return to == StatusFilled || to == StatusCancelled
	}
	return false
}

// Cancellable 只有未终结的订单可以撤销。
func (s Status) Cancellable() bool {
	return s == StatusAccepted || s == StatusPartiallyFilled
}

// RiskOverrides 为调用方附带的风控上下文。
type RiskOverrides struct {
	StopLoss      *float64 `json:"stop_loss,omitempty"`
	RealizedPnL   *float64 `json:"realized_pnl,omitempty"`
	UnrealizedPnL *float64 `json:"unrealized_pnl,omitempty"`
	// EstimatedLoss 由调用方估算，直接计入当日亏损。
	EstimatedLoss *float64 `json:"estimated_loss,omitempty"`
}

// OrderIntent 为一次交易意图，提交后不可修改。
type OrderIntent struct {
	Broker        string        `json:"broker"`
	AccountID     string        `json:"account_id,omitempty"`
	Symbol        string        `json:"symbol"`
	Side          Side          `json:"side"`
	Quantity      float64       `json:"quantity"`
	OrderType     OrderType     `json:"order_type"`
	LimitPrice    *float64      `json:"limit_price,omitempty"`
	TimeInForce   string        `json:"time_in_force,omitempty"`
	LastPrice     *float64      `json:"last_price,omitempty"`
	ClientOrderID string        `json:"client_order_id,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	Risk          RiskOverrides `json:"risk,omitempty"`
}

// Validate 检查意图的基本合法性。
func (i OrderIntent) Validate() error {
	var errs []error
	if strings.TrimSpace(i.Broker) == "" {
		errs = append(errs, errors.New("broker 不能为空"))
	}
	if strings.TrimSpace(i.Symbol) == "" {
		errs = append(errs, errors.New("symbol 不能为空"))
	}
	if i.Side != SideBuy && i.Side != SideSell {
		errs = append(errs, fmt.Errorf("side 无效: %q", i.Side))
	}
	if !(i.Quantity > 0) {
		errs = append(errs, fmt.Errorf("quantity 必须大于 0: %v", i.Quantity))
	}
	switch i.OrderType {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if i.LimitPrice == nil || !(*i.LimitPrice > 0) {
			errs = append(errs, errors.New("限价单必须提供正的 limit_price"))
		}
	default:
		errs = append(errs, fmt.Errorf("order_type 无效: %q", i.OrderType))
	}
	if i.LimitPrice != nil && *i.LimitPrice <= 0 {
		errs = append(errs, errors.New("limit_price 必须大于 0"))
	}
	return errors.Join(errs...)
}

// Fill 为一笔成交。
type Fill struct {
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionReport 为适配器归一化后的执行回报，生成后不可修改，撤单会产生新的回报。
type ExecutionReport struct {
	VenueOrderID      string    `json:"venue_order_id"`
	ClientOrderID     string    `json:"client_order_id,omitempty"`
	Status            Status    `json:"status"`
	Broker            string    `json:"broker"`
	Venue             string    `json:"venue"`
	AccountID         string    `json:"account_id,omitempty"`
	Symbol            string    `json:"symbol"`
	Side              Side      `json:"side"`
	OrderType         OrderType `json:"order_type,omitempty"`
	RequestedQuantity float64   `json:"requested_quantity"`
	FilledQuantity    float64   `json:"filled_quantity"`
	AveragePrice      *float64  `json:"average_price"`
	SubmittedAt       time.Time `json:"submitted_at"`
	Fills             []Fill    `json:"fills"`
	Tags              []string  `json:"tags,omitempty"`
	Mode              string    `json:"mode,omitempty"`
	Simulated         bool      `json:"simulated,omitempty"`
	Message           string    `json:"message,omitempty"`
}

// Notional 返回已成交名义价值。
func (r ExecutionReport) Notional() float64 {
	if r.AveragePrice == nil {
		return 0
	}
	return r.FilledQuantity * *r.AveragePrice
}
