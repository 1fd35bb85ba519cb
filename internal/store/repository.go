package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("store: record not found")

const (
	// ExecutionKindFill 为真实成交。
	ExecutionKindFill = "fill"
	// ExecutionKindCancel 为撤单审计记录，数量恒为 0。
	ExecutionKindCancel = "cancel"

	defaultListLimit = 100
	maxListLimit     = 1000
)

// Order 为持久化的订单记录，一个订单拥有零到多条 Execution。
type Order struct {
	ID             int64
	ClientOrderID  string
	CorrelationID  string
	AccountID      string
	Broker         string
	Venue          string
	VenueOrderID   string
	Symbol         string
	Side           string
	OrderType      string
	TimeInForce    string
	Quantity       float64
	LimitPrice     *float64
	Status         string
	FilledQuantity float64
	AveragePrice   *float64
	Mode           string
	Tags           []string
	Notes          string
	SubmittedAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Executions     []Execution
}

// Execution 为订单下的单笔成交或撤单审计。
type Execution struct {
	ID         int64
	OrderID    int64
	Kind       string
	Quantity   float64
	Price      float64
	ExecutedAt time.Time
	Notes      string
	CreatedAt  time.Time
}

// ExecutionView 为带订单上下文的成交视图。
type ExecutionView struct {
	Execution
	AccountID    string
	Broker       string
	Venue        string
	VenueOrderID string
	Symbol       string
	Side         string
	Tags         []string
}

// SimulatedExecution 为 dry_run 模式下的模拟成交流水。
type SimulatedExecution struct {
	ID            string
	CorrelationID string
	AccountID     string
	Broker        string
	Venue         string
	Symbol        string
	Side          string
	OrderType     string
	Quantity      float64
	Price         float64
	Tags          []string
	ExecutedAt    time.Time
	CreatedAt     time.Time
}

// LedgerFill 为仓位回放所需的最小成交信息。
type LedgerFill struct {
	AccountID  string
	Symbol     string
	Side       string
	Quantity   float64
	Price      float64
	ExecutedAt time.Time
}

// Cancellation 为撤单落库内容，带回场所撤单回报里的最新成交。
type Cancellation struct {
	Status         string
	FilledQuantity float64
	// AveragePrice 为空时保留订单原有均价。
	AveragePrice *float64
	// Fills 为下单落库之后新增的成交。
	Fills []Execution
	Audit Execution
}

// Filter 控制历史查询的过滤与分页。
type Filter struct {
	AccountID string
	Symbol    string
	Broker    string
	Tag       string
	Strategy  string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// OrderRepository 抽象订单与成交的持久化，生产使用 SQLite，测试可用内存实现。
type OrderRepository interface {
	// CreateOrder 在单个事务内写入订单及其全部成交，并回填 ID。
	CreateOrder(ctx context.Context, order *Order) error
	LoadOrder(ctx context.Context, broker, venueOrderID string) (Order, error)
	// RecordCancellation 幂等地记录撤单及撤单前新增的成交；已存在撤单记录时返回 false。
	RecordCancellation(ctx context.Context, orderID int64, cancel Cancellation) (bool, error)
	ListOrders(ctx context.Context, filter Filter) ([]Order, error)
	ListExecutions(ctx context.Context, filter Filter) ([]ExecutionView, error)
	LedgerFills(ctx context.Context) ([]LedgerFill, error)

	CreateSimulated(ctx context.Context, exec *SimulatedExecution) error
	LoadSimulated(ctx context.Context, id string) (SimulatedExecution, error)
	ListSimulated(ctx context.Context, filter Filter) ([]SimulatedExecution, error)
	SimulatedFills(ctx context.Context) ([]LedgerFill, error)
}

// StrategyTag 返回策略标签的规范写法。
func StrategyTag(strategy string) string {
	return "strategy:" + strategy
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (f Filter) matches(accountID, broker, symbol string, tags []string, ts time.Time) bool {
	if f.AccountID != "" && f.AccountID != accountID {
		return false
	}
	if f.Broker != "" && !strings.EqualFold(f.Broker, broker) {
		return false
	}
	if f.Symbol != "" && !strings.EqualFold(f.Symbol, symbol) {
		return false
	}
	if f.Tag != "" && !containsTag(tags, f.Tag) {
		return false
	}
	if f.Strategy != "" && !containsTag(tags, StrategyTag(f.Strategy)) {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func page[T any](items []T, f Filter) []T {
	if f.Offset >= len(items) {
		return []T{}
	}
	end := f.Offset + f.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[f.Offset:end]
}
