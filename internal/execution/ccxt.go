package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"trade-router/internal/exchange"
)

type orderClient interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (ccxt.Order, error)
	CancelOrder(ctx context.Context, id, symbol string) (ccxt.Order, error)
}

var ccxtStatuses = statusTable{
	"open":      StatusAccepted,
	"closed":    StatusFilled,
	"canceled":  StatusCancelled,
	"cancelled": StatusCancelled,
	"expired":   StatusCancelled,
	"rejected":  StatusRejected,
}

// CCXTAdapter 通过 ccxt 统一接口下单。
type CCXTAdapter struct {
	name   string
	venue  string
	client orderClient
}

// NewCCXTAdapter 创建 ccxt 适配器。
func NewCCXTAdapter(name, venueName string, client orderClient) *CCXTAdapter {
	return &CCXTAdapter{name: name, venue: venueName, client: client}
}

func (a *CCXTAdapter) Name() string  { return a.name }
func (a *CCXTAdapter) Venue() string { return a.venue }

func (a *CCXTAdapter) PlaceOrder(ctx context.Context, intent OrderIntent, refPrice float64) (ExecutionReport, error) {
	req := exchange.OrderRequest{
		Symbol: intent.Symbol,
		Side:   string(intent.Side),
		Type:   string(intent.OrderType),
		Amount: intent.Quantity,
		Params: make(map[string]interface{}),
	}
	if intent.OrderType == OrderTypeLimit && intent.LimitPrice != nil {
		req.Price = *intent.LimitPrice
	}
	if intent.TimeInForce != "" {
		req.Params["timeInForce"] = strings.ToLower(intent.TimeInForce)
	}
	if intent.ClientOrderID != "" {
		req.Params["clientOrderId"] = intent.ClientOrderID
	}

	order, err := a.client.PlaceOrder(ctx, req)
	if err != nil {
		return ExecutionReport{}, fmt.Errorf("execution: %s 下单失败: %w", a.name, err)
	}
	return a.normalize(order, intent, refPrice), nil
}

func (a *CCXTAdapter) CancelOrder(ctx context.Context, venueOrderID, symbol string) (ExecutionReport, error) {
	order, err := a.client.CancelOrder(ctx, venueOrderID, symbol)
	if err != nil {
		var ccxtErr *ccxt.Error
		if errors.As(err, &ccxtErr) && ccxtErr.Type == ccxt.OrderNotFoundErrType {
			return ExecutionReport{}, fmt.Errorf("%w: %s", ErrOrderNotFound, venueOrderID)
		}
		return ExecutionReport{}, fmt.Errorf("execution: %s 撤单失败: %w", a.name, err)
	}
	report := a.normalize(order, OrderIntent{Symbol: symbol}, 0)
	if report.VenueOrderID == "" {
		report.VenueOrderID = venueOrderID
	}
	if order.Status == nil {
		report.Status = StatusCancelled
	}
	return report, nil
}

// normalize ccxt 统一订单结构只给聚合数量与均价，成交明细合成一笔。
func (a *CCXTAdapter) normalize(order ccxt.Order, intent OrderIntent, refPrice float64) ExecutionReport {
	submitted := time.Now().UTC()
	if order.Timestamp != nil && *order.Timestamp > 0 {
		submitted = time.UnixMilli(*order.Timestamp).UTC()
	}

	symbol := derefString(order.Symbol)
	if symbol == "" {
		symbol = intent.Symbol
	}
	side := intent.Side
	if s, err := ParseSide(derefString(order.Side)); err == nil {
		side = s
	}
	requested := parseNumeric(order.Amount)
	if requested == 0 {
		requested = intent.Quantity
	}

	venueAvg := optionalPositive(parseNumeric(order.Average))
	if venueAvg == nil && order.Cost != nil && parseNumeric(order.Filled) > 0 {
		venueAvg = optionalPositive(*order.Cost / parseNumeric(order.Filled))
	}

	report := ExecutionReport{
		VenueOrderID:      derefString(order.Id),
		ClientOrderID:     derefString(order.ClientOrderId),
		Status:            ccxtStatuses.lookup(derefString(order.Status), StatusAccepted),
		Broker:            a.name,
		Venue:             a.venue,
		AccountID:         intent.AccountID,
		Symbol:            symbol,
		Side:              side,
		OrderType:         intent.OrderType,
		RequestedQuantity: requested,
		FilledQuantity:    parseNumeric(order.Filled),
		SubmittedAt:       submitted,
		Tags:              intent.Tags,
	}
	if report.ClientOrderID == "" {
		report.ClientOrderID = intent.ClientOrderID
	}
	return finalize(report, nil, venueAvg, refPrice)
}
