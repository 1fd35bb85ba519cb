package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository 为基于内存 map 的 OrderRepository，用于测试与本地演示。
type MemoryRepository struct {
	mu        sync.Mutex
	nextOrder int64
	nextExec  int64
	orders    map[int64]*Order
	byVenueID map[string]int64
	simulated map[string]SimulatedExecution

	// FailCreate 非空时 CreateOrder 返回该错误，用于模拟落库失败。
	FailCreate error
}

var _ OrderRepository = (*MemoryRepository)(nil)

// NewMemoryRepository 创建内存仓储。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:    make(map[int64]*Order),
		byVenueID: make(map[string]int64),
		simulated: make(map[string]SimulatedExecution),
	}
}

func venueKey(broker, venueOrderID string) string {
	return broker + "\x00" + venueOrderID
}

func (m *MemoryRepository) CreateOrder(_ context.Context, order *Order) error {
	if order == nil {
		return errors.New("store: order 不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreate != nil {
		return m.FailCreate
	}

	key := venueKey(order.Broker, order.VenueOrderID)
	if _, exists := m.byVenueID[key]; exists {
		return fmt.Errorf("store: 订单 %s/%s 已存在", order.Broker, order.VenueOrderID)
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	m.nextOrder++
	order.ID = m.nextOrder
	for i := range order.Executions {
		m.nextExec++
		order.Executions[i].ID = m.nextExec
		order.Executions[i].OrderID = order.ID
		if order.Executions[i].Kind == "" {
			order.Executions[i].Kind = ExecutionKindFill
		}
		if order.Executions[i].CreatedAt.IsZero() {
			order.Executions[i].CreatedAt = now
		}
	}

	stored := cloneOrder(*order)
	m.orders[order.ID] = &stored
	m.byVenueID[key] = order.ID
	return nil
}

func (m *MemoryRepository) LoadOrder(_ context.Context, broker, venueOrderID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byVenueID[venueKey(broker, venueOrderID)]
	if !ok {
		return Order{}, ErrNotFound
	}
	return cloneOrder(*m.orders[id]), nil
}

func (m *MemoryRepository) RecordCancellation(_ context.Context, orderID int64, c Cancellation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return false, ErrNotFound
	}
	for _, exec := range order.Executions {
		if exec.Kind == ExecutionKindCancel {
			return false, nil
		}
	}

	now := time.Now().UTC()
	for _, fill := range c.Fills {
		m.nextExec++
		fill.ID = m.nextExec
		fill.OrderID = orderID
		fill.Kind = ExecutionKindFill
		if fill.CreatedAt.IsZero() {
			fill.CreatedAt = now
		}
		order.Executions = append(order.Executions, fill)
	}

	audit := c.Audit
	m.nextExec++
	audit.ID = m.nextExec
	audit.OrderID = orderID
	audit.Kind = ExecutionKindCancel
	audit.Quantity = 0
	if audit.ExecutedAt.IsZero() {
		audit.ExecutedAt = now
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = now
	}
	order.Executions = append(order.Executions, audit)

	order.Status = c.Status
	order.FilledQuantity = c.FilledQuantity
	if c.AveragePrice != nil {
		avg := *c.AveragePrice
		order.AveragePrice = &avg
	}
	order.UpdatedAt = now
	return true, nil
}

func (m *MemoryRepository) ListOrders(_ context.Context, filter Filter) ([]Order, error) {
	filter = filter.normalized()

	m.mu.Lock()
	orders := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		if filter.matches(o.AccountID, o.Broker, o.Symbol, o.Tags, o.SubmittedAt) {
			orders = append(orders, cloneOrder(*o))
		}
	}
	m.mu.Unlock()

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].SubmittedAt.Equal(orders[j].SubmittedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].SubmittedAt.After(orders[j].SubmittedAt)
	})
	return page(orders, filter), nil
}

func (m *MemoryRepository) ListExecutions(_ context.Context, filter Filter) ([]ExecutionView, error) {
	filter = filter.normalized()

	m.mu.Lock()
	views := make([]ExecutionView, 0)
	for _, o := range m.orders {
		for _, e := range o.Executions {
			if !filter.matches(o.AccountID, o.Broker, o.Symbol, o.Tags, e.ExecutedAt) {
				continue
			}
			views = append(views, ExecutionView{
				Execution:    e,
				AccountID:    o.AccountID,
				Broker:       o.Broker,
				Venue:        o.Venue,
				VenueOrderID: o.VenueOrderID,
				Symbol:       o.Symbol,
				Side:         o.Side,
				Tags:         append([]string(nil), o.Tags...),
			})
		}
	}
	m.mu.Unlock()

	sort.Slice(views, func(i, j int) bool {
		if views[i].ExecutedAt.Equal(views[j].ExecutedAt) {
			return views[i].ID > views[j].ID
		}
		return views[i].ExecutedAt.After(views[j].ExecutedAt)
	})
	return page(views, filter), nil
}

func (m *MemoryRepository) LedgerFills(_ context.Context) ([]LedgerFill, error) {
	type seqFill struct {
		fill LedgerFill
		id   int64
	}

	m.mu.Lock()
	items := make([]seqFill, 0)
	for _, o := range m.orders {
		for _, e := range o.Executions {
			if e.Kind != ExecutionKindFill || e.Quantity <= 0 {
				continue
			}
			items = append(items, seqFill{
				fill: LedgerFill{
					AccountID:  o.AccountID,
					Symbol:     o.Symbol,
					Side:       o.Side,
					Quantity:   e.Quantity,
					Price:      e.Price,
					ExecutedAt: e.ExecutedAt,
				},
				id: e.ID,
			})
		}
	}
	m.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].fill.ExecutedAt.Equal(items[j].fill.ExecutedAt) {
			return items[i].id < items[j].id
		}
		return items[i].fill.ExecutedAt.Before(items[j].fill.ExecutedAt)
	})

	fills := make([]LedgerFill, 0, len(items))
	for _, item := range items {
		fills = append(fills, item.fill)
	}
	return fills, nil
}

func (m *MemoryRepository) CreateSimulated(_ context.Context, exec *SimulatedExecution) error {
	if exec == nil {
		return errors.New("store: simulated execution 不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.simulated[exec.ID]; exists {
		return fmt.Errorf("store: 模拟成交 %s 已存在", exec.ID)
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	stored := *exec
	stored.Tags = append([]string(nil), exec.Tags...)
	m.simulated[exec.ID] = stored
	return nil
}

func (m *MemoryRepository) LoadSimulated(_ context.Context, id string) (SimulatedExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.simulated[id]
	if !ok {
		return SimulatedExecution{}, ErrNotFound
	}
	return exec, nil
}

func (m *MemoryRepository) ListSimulated(_ context.Context, filter Filter) ([]SimulatedExecution, error) {
	filter = filter.normalized()

	m.mu.Lock()
	execs := make([]SimulatedExecution, 0, len(m.simulated))
	for _, e := range m.simulated {
		if filter.matches(e.AccountID, e.Broker, e.Symbol, e.Tags, e.ExecutedAt) {
			execs = append(execs, e)
		}
	}
	m.mu.Unlock()

	sort.Slice(execs, func(i, j int) bool {
		return execs[i].ExecutedAt.After(execs[j].ExecutedAt)
	})
	return page(execs, filter), nil
}

func (m *MemoryRepository) SimulatedFills(_ context.Context) ([]LedgerFill, error) {
	m.mu.Lock()
	execs := make([]SimulatedExecution, 0, len(m.simulated))
	for _, e := range m.simulated {
		execs = append(execs, e)
	}
	m.mu.Unlock()

	sort.Slice(execs, func(i, j int) bool {
		if execs[i].ExecutedAt.Equal(execs[j].ExecutedAt) {
			return execs[i].CreatedAt.Before(execs[j].CreatedAt)
		}
		return execs[i].ExecutedAt.Before(execs[j].ExecutedAt)
	})

	fills := make([]LedgerFill, 0, len(execs))
	for _, e := range execs {
		fills = append(fills, LedgerFill{
			AccountID:  e.AccountID,
			Symbol:     e.Symbol,
			Side:       e.Side,
			Quantity:   e.Quantity,
			Price:      e.Price,
			ExecutedAt: e.ExecutedAt,
		})
	}
	return fills, nil
}

// OrderCount 返回已落库订单数，测试辅助。
func (m *MemoryRepository) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func cloneOrder(o Order) Order {
	out := o
	out.Tags = append([]string(nil), o.Tags...)
	out.Executions = append([]Execution(nil), o.Executions...)
	if o.LimitPrice != nil {
		v := *o.LimitPrice
		out.LimitPrice = &v
	}
	if o.AveragePrice != nil {
		v := *o.AveragePrice
		out.AveragePrice = &v
	}
	return out
}
