package api

import (
	"strings"
	"time"

	"trade-router/internal/execution"
	"trade-router/internal/router"
	"trade-router/internal/store"
)

// RiskRequest 为调用方附带的风控上下文。
type RiskRequest struct {
	StopLoss      *float64 `json:"stop_loss" validate:"omitempty,gte=0"`
	RealizedPnL   *float64 `json:"realized_pnl"`
	UnrealizedPnL *float64 `json:"unrealized_pnl"`
	EstimatedLoss *float64 `json:"estimated_loss" validate:"omitempty,gte=0"`
}

func (r RiskRequest) overrides() execution.RiskOverrides {
	return execution.RiskOverrides{
		StopLoss:      r.StopLoss,
		RealizedPnL:   r.RealizedPnL,
		UnrealizedPnL: r.UnrealizedPnL,
		EstimatedLoss: r.EstimatedLoss,
	}
}

// PlaceOrderRequest 为 POST /orders 请求体，broker 与 venue 二选一。
type PlaceOrderRequest struct {
	Broker        string      `json:"broker" validate:"required_without=Venue"`
	Venue         string      `json:"venue" validate:"required_without=Broker"`
	AccountID     string      `json:"account_id"`
	Symbol        string      `json:"symbol" validate:"required"`
	Side          string      `json:"side" validate:"required,oneof=buy sell BUY SELL"`
	Quantity      float64     `json:"quantity" validate:"required,gt=0"`
	OrderType     string      `json:"order_type" validate:"omitempty,oneof=market limit MARKET LIMIT"`
	LimitPrice    *float64    `json:"limit_price" validate:"omitempty,gt=0"`
	TimeInForce   string      `json:"time_in_force"`
	LastPrice     *float64    `json:"last_price" validate:"omitempty,gt=0"`
	ClientOrderID string      `json:"client_order_id" validate:"omitempty,max=64"`
	Tags          []string    `json:"tags" validate:"omitempty,dive,required"`
	Strategy      string      `json:"strategy"`
	Notes         string      `json:"notes"`
	CorrelationID string      `json:"correlation_id"`
	DailyLoss     *float64    `json:"daily_loss" validate:"omitempty,gte=0"`
	Risk          RiskRequest `json:"risk"`
}

func (r PlaceOrderRequest) intent() execution.OrderIntent {
	broker := r.Broker
	if broker == "" {
		broker = r.Venue
	}
	orderType := execution.OrderTypeMarket
	if r.OrderType != "" {
		orderType = execution.OrderType(strings.ToLower(r.OrderType))
	}
	tags := append([]string(nil), r.Tags...)
	if s := strings.TrimSpace(r.Strategy); s != "" {
		tags = append(tags, store.StrategyTag(s))
	}
	return execution.OrderIntent{
		Broker:        strings.TrimSpace(broker),
		AccountID:     r.AccountID,
		Symbol:        strings.TrimSpace(r.Symbol),
		Side:          execution.Side(strings.ToLower(r.Side)),
		Quantity:      r.Quantity,
		OrderType:     orderType,
		LimitPrice:    r.LimitPrice,
		TimeInForce:   r.TimeInForce,
		LastPrice:     r.LastPrice,
		ClientOrderID: r.ClientOrderID,
		Tags:          tags,
		Notes:         r.Notes,
		Risk:          r.Risk.overrides(),
	}
}

// CancelOrderRequest 为撤单请求体。
type CancelOrderRequest struct {
	OrderID string `json:"order_id" validate:"required"`
}

// ClosePositionRequest 为平仓或调仓请求体，target_quantity 缺省为全部平仓。
type ClosePositionRequest struct {
	Broker         string      `json:"broker" validate:"required"`
	TargetQuantity float64     `json:"target_quantity"`
	LastPrice      *float64    `json:"last_price" validate:"omitempty,gt=0"`
	Tags           []string    `json:"tags"`
	Notes          string      `json:"notes"`
	Risk           RiskRequest `json:"risk"`
}

// ModeRequest 为 POST /mode 请求体，只允许非实盘模式。
type ModeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=sandbox dry_run"`
}

// StateRequest 为 PUT /state 请求体。
type StateRequest struct {
	Mode               *string  `json:"mode" validate:"omitempty,oneof=sandbox live dry_run"`
	DailyNotionalLimit *float64 `json:"daily_notional_limit" validate:"omitempty,gt=0"`
	ResetDailyNotional bool     `json:"reset_daily_notional"`
}

func (r StateRequest) update() router.StateUpdate {
	update := router.StateUpdate{
		DailyNotionalLimit: r.DailyNotionalLimit,
		ResetDailyNotional: r.ResetDailyNotional,
	}
	if r.Mode != nil {
		m := router.Mode(*r.Mode)
		update.Mode = &m
	}
	return update
}

// ThresholdRequest 为账户止损阈值。
type ThresholdRequest struct {
	Threshold float64 `json:"threshold" validate:"gte=0"`
}

// OrderView 为订单历史的对外表示。
type OrderView struct {
	ID            int64                     `json:"id"`
	CorrelationID string                    `json:"correlation_id,omitempty"`
	TimeInForce   string                    `json:"time_in_force,omitempty"`
	LimitPrice    *float64                  `json:"limit_price,omitempty"`
	Notes         string                    `json:"notes,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
	Report        execution.ExecutionReport `json:"report"`
}

func orderView(o store.Order) OrderView {
	return OrderView{
		ID:            o.ID,
		CorrelationID: o.CorrelationID,
		TimeInForce:   o.TimeInForce,
		LimitPrice:    o.LimitPrice,
		Notes:         o.Notes,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		Report:        router.ReportFromOrder(o),
	}
}

// ExecutionView 为成交历史的对外表示。
type ExecutionView struct {
	ID           int64     `json:"id"`
	OrderID      int64     `json:"order_id"`
	Kind         string    `json:"kind"`
	AccountID    string    `json:"account_id,omitempty"`
	Broker       string    `json:"broker"`
	Venue        string    `json:"venue"`
	VenueOrderID string    `json:"venue_order_id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Quantity     float64   `json:"quantity"`
	Price        float64   `json:"price"`
	Tags         []string  `json:"tags,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	ExecutedAt   time.Time `json:"executed_at"`
}

func executionView(e store.ExecutionView) ExecutionView {
	return ExecutionView{
		ID:           e.ID,
		OrderID:      e.OrderID,
		Kind:         e.Kind,
		AccountID:    e.AccountID,
		Broker:       e.Broker,
		Venue:        e.Venue,
		VenueOrderID: e.VenueOrderID,
		Symbol:       e.Symbol,
		Side:         e.Side,
		Quantity:     e.Quantity,
		Price:        e.Price,
		Tags:         e.Tags,
		Notes:        e.Notes,
		ExecutedAt:   e.ExecutedAt,
	}
}

// SimulatedView 为 dry_run 模拟成交的对外表示。
type SimulatedView struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	AccountID     string    `json:"account_id,omitempty"`
	Broker        string    `json:"broker"`
	Venue         string    `json:"venue"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	OrderType     string    `json:"order_type"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	Tags          []string  `json:"tags,omitempty"`
	ExecutedAt    time.Time `json:"executed_at"`
}

func simulatedView(s store.SimulatedExecution) SimulatedView {
	return SimulatedView{
		ID:            s.ID,
		CorrelationID: s.CorrelationID,
		AccountID:     s.AccountID,
		Broker:        s.Broker,
		Venue:         s.Venue,
		Symbol:        s.Symbol,
		Side:          s.Side,
		OrderType:     s.OrderType,
		Quantity:      s.Quantity,
		Price:         s.Price,
		Tags:          s.Tags,
		ExecutedAt:    s.ExecutedAt,
	}
}
