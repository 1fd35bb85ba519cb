package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperAdapter 不连接任何场所，按参考价全部成交，用于本地联调。
type PaperAdapter struct {
	name string
	now  func() time.Time

	mu     sync.Mutex
	orders map[string]ExecutionReport
}

// NewPaperAdapter 创建纸面适配器。
func NewPaperAdapter(name string) *PaperAdapter {
	if name == "" {
		name = "paper"
	}
	return &PaperAdapter{
		name:   name,
		now:    func() time.Time { return time.Now().UTC() },
		orders: make(map[string]ExecutionReport),
	}
}

func (a *PaperAdapter) Name() string  { return a.name }
func (a *PaperAdapter) Venue() string { return "paper" }

func (a *PaperAdapter) PlaceOrder(_ context.Context, intent OrderIntent, refPrice float64) (ExecutionReport, error) {
	if refPrice <= 0 {
		return ExecutionReport{}, errors.New("execution: paper 模式需要正的参考价")
	}

	ts := a.now()
	price := refPrice
	report := ExecutionReport{
		VenueOrderID:      "paper-" + uuid.NewString(),
		ClientOrderID:     intent.ClientOrderID,
		Status:            StatusFilled,
		Broker:            a.name,
		Venue:             a.Venue(),
		AccountID:         intent.AccountID,
		Symbol:            intent.Symbol,
		Side:              intent.Side,
		OrderType:         intent.OrderType,
		RequestedQuantity: intent.Quantity,
		FilledQuantity:    intent.Quantity,
		AveragePrice:      &price,
		SubmittedAt:       ts,
		Fills:             []Fill{{Quantity: intent.Quantity, Price: price, Timestamp: ts}},
		Tags:              intent.Tags,
	}

	a.mu.Lock()
	a.orders[report.VenueOrderID] = report
	a.mu.Unlock()
	return report, nil
}

// CancelOrder 纸面订单立即成交，撤单原样返回终态回报。
func (a *PaperAdapter) CancelOrder(_ context.Context, venueOrderID, _ string) (ExecutionReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	report, ok := a.orders[venueOrderID]
	if !ok {
		return ExecutionReport{}, fmt.Errorf("%w: %s", ErrOrderNotFound, venueOrderID)
	}
	return report, nil
}
