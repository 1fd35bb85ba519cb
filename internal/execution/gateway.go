package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trade-router/internal/venue"
)

type gatewayClient interface {
	PlaceOrder(ctx context.Context, req venue.GatewayOrderRequest) (venue.GatewayOrder, error)
	CancelOrder(ctx context.Context, variety, orderID string) (venue.GatewayOrder, error)
}

var gatewayStatuses = statusTable{
	"open":                   StatusAccepted,
	"pending":                StatusAccepted,
	"open pending":           StatusAccepted,
	"validation pending":     StatusAccepted,
	"put order req received": StatusAccepted,
	"trigger pending":        StatusAccepted,
	"modified":               StatusAccepted,
	"complete":               StatusFilled,
	"cancelled":              StatusCancelled,
	"rejected":               StatusRejected,
}

const (
	gatewayDefaultExchange = "NSE"
	gatewayVariety         = "NORMAL"
	gatewayProduct         = "INTRADAY"
)

// GatewayAdapter 对接会话型券商网关。网关只返回聚合成交，明细由适配器合成。
type GatewayAdapter struct {
	name   string
	venue  string
	client gatewayClient
}

// NewGatewayAdapter 创建网关适配器。
func NewGatewayAdapter(name, venueName string, client gatewayClient) *GatewayAdapter {
	return &GatewayAdapter{name: name, venue: venueName, client: client}
}

func (a *GatewayAdapter) Name() string  { return a.name }
func (a *GatewayAdapter) Venue() string { return a.venue }

func (a *GatewayAdapter) PlaceOrder(ctx context.Context, intent OrderIntent, refPrice float64) (ExecutionReport, error) {
	exchange, tradingSymbol, token := splitGatewaySymbol(intent.Symbol)

	req := venue.GatewayOrderRequest{
		Variety:         gatewayVariety,
		TradingSymbol:   tradingSymbol,
		SymbolToken:     token,
		TransactionType: strings.ToUpper(string(intent.Side)),
		Exchange:        exchange,
		OrderType:       strings.ToUpper(string(intent.OrderType)),
		ProductType:     gatewayProduct,
		Duration:        strings.ToUpper(intent.TimeInForce),
		Price:           "0",
		Quantity:        formatFloat(intent.Quantity),
		OrderTag:        intent.ClientOrderID,
	}
	if req.Duration == "" || req.Duration == "GTC" {
		req.Duration = "DAY"
	}
	if intent.OrderType == OrderTypeLimit && intent.LimitPrice != nil {
		req.Price = formatFloat(*intent.LimitPrice)
	}

	order, err := a.client.PlaceOrder(ctx, req)
	if err != nil {
		if venue.IsRejected(err) {
			return a.rejected(intent, err), nil
		}
		return ExecutionReport{}, fmt.Errorf("execution: %s 下单失败: %w", a.name, err)
	}
	return a.normalize(order, intent, refPrice), nil
}

func (a *GatewayAdapter) CancelOrder(ctx context.Context, venueOrderID, symbol string) (ExecutionReport, error) {
	order, err := a.client.CancelOrder(ctx, gatewayVariety, venueOrderID)
	if err != nil {
		if venue.IsRejected(err) {
			return ExecutionReport{}, fmt.Errorf("%w: %s: %v", ErrOrderNotFound, venueOrderID, err)
		}
		return ExecutionReport{}, fmt.Errorf("execution: %s 撤单失败: %w", a.name, err)
	}
	if order.Status == "" {
		order.Status = "cancelled"
	}
	return a.normalize(order, OrderIntent{Symbol: symbol}, 0), nil
}

func (a *GatewayAdapter) normalize(order venue.GatewayOrder, intent OrderIntent, refPrice float64) ExecutionReport {
	submitted := time.Now().UTC()
	if order.UpdateTime != "" {
		if ts, err := time.Parse("02-Jan-2006 15:04:05", order.UpdateTime); err == nil {
			submitted = ts.UTC()
		}
	}

	requested := parseNumeric(order.Quantity)
	if requested == 0 {
		requested = intent.Quantity
	}

	report := ExecutionReport{
		VenueOrderID:      order.OrderID,
		ClientOrderID:     intent.ClientOrderID,
		Status:            gatewayStatuses.lookup(order.Status, StatusAccepted),
		Broker:            a.name,
		Venue:             a.venue,
		AccountID:         intent.AccountID,
		Symbol:            intent.Symbol,
		Side:              intent.Side,
		OrderType:         intent.OrderType,
		RequestedQuantity: requested,
		FilledQuantity:    parseNumeric(order.FilledShares),
		SubmittedAt:       submitted,
		Tags:              intent.Tags,
		Message:           order.Text,
	}
	return finalize(report, nil, optionalPositive(parseNumeric(order.AveragePrice)), refPrice)
}

func (a *GatewayAdapter) rejected(intent OrderIntent, err error) ExecutionReport {
	return ExecutionReport{
		Status:            StatusRejected,
		Broker:            a.name,
		Venue:             a.venue,
		AccountID:         intent.AccountID,
		Symbol:            intent.Symbol,
		Side:              intent.Side,
		OrderType:         intent.OrderType,
		RequestedQuantity: intent.Quantity,
		SubmittedAt:       time.Now().UTC(),
		Fills:             []Fill{},
		Tags:              intent.Tags,
		Message:           err.Error(),
	}
}

// splitGatewaySymbol 解析 "NSE:SBIN-EQ[:3045]" 形式的代码。
func splitGatewaySymbol(symbol string) (exchange, tradingSymbol, token string) {
	parts := strings.Split(symbol, ":")
	switch len(parts) {
	case 1:
		return gatewayDefaultExchange, parts[0], ""
	case 2:
		return strings.ToUpper(parts[0]), parts[1], ""
	default:
		return strings.ToUpper(parts[0]), parts[1], parts[2]
	}
}
