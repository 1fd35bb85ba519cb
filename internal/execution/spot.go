package execution

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trade-router/internal/venue"
)

type spotClient interface {
	PlaceOrder(ctx context.Context, req venue.SpotOrderRequest) (venue.SpotOrderResponse, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (venue.SpotOrderResponse, error)
}

var spotStatuses = statusTable{
	"new":              StatusAccepted,
	"pending_new":      StatusAccepted,
	"partially_filled": StatusPartiallyFilled,
	"filled":           StatusFilled,
	"canceled":         StatusCancelled,
	"pending_cancel":   StatusAccepted,
	"expired":          StatusCancelled,
	"expired_in_match": StatusCancelled,
	"rejected":         StatusRejected,
}

// SpotAdapter 对接 HMAC 签名的现货场所。
type SpotAdapter struct {
	name   string
	venue  string
	client spotClient
}

// NewSpotAdapter 创建现货适配器。
func NewSpotAdapter(name, venueName string, client spotClient) *SpotAdapter {
	return &SpotAdapter{name: name, venue: venueName, client: client}
}

func (a *SpotAdapter) Name() string  { return a.name }
func (a *SpotAdapter) Venue() string { return a.venue }

func (a *SpotAdapter) PlaceOrder(ctx context.Context, intent OrderIntent, refPrice float64) (ExecutionReport, error) {
	req := venue.SpotOrderRequest{
		Symbol:        intent.Symbol,
		Side:          string(intent.Side),
		Type:          string(intent.OrderType),
		Quantity:      intent.Quantity,
		ClientOrderID: intent.ClientOrderID,
	}
	if intent.OrderType == OrderTypeLimit {
		req.Price = intent.LimitPrice
		req.TimeInForce = intent.TimeInForce
		if req.TimeInForce == "" {
			req.TimeInForce = "GTC"
		}
	}

	resp, err := a.client.PlaceOrder(ctx, req)
	if err != nil {
		return ExecutionReport{}, fmt.Errorf("execution: %s 下单失败: %w", a.name, err)
	}
	return a.normalize(resp, intent, refPrice), nil
}

func (a *SpotAdapter) CancelOrder(ctx context.Context, venueOrderID, symbol string) (ExecutionReport, error) {
	resp, err := a.client.CancelOrder(ctx, symbol, venueOrderID)
	if err != nil {
		// -2011: Unknown order sent.
		if venue.StatusCode(err) == http.StatusNotFound || strings.Contains(err.Error(), "-2011") {
			return ExecutionReport{}, fmt.Errorf("%w: %s", ErrOrderNotFound, venueOrderID)
		}
		return ExecutionReport{}, fmt.Errorf("execution: %s 撤单失败: %w", a.name, err)
	}
	report := a.normalize(resp, OrderIntent{Symbol: symbol}, 0)
	if report.VenueOrderID == "" {
		report.VenueOrderID = venueOrderID
	}
	return report, nil
}

func (a *SpotAdapter) normalize(resp venue.SpotOrderResponse, intent OrderIntent, refPrice float64) ExecutionReport {
	submitted := time.Now().UTC()
	if resp.TransactTime > 0 {
		submitted = time.UnixMilli(resp.TransactTime).UTC()
	}

	side := intent.Side
	if s, err := ParseSide(resp.Side); err == nil {
		side = s
	}
	symbol := resp.Symbol
	if symbol == "" {
		symbol = intent.Symbol
	}

	requested := parseNumeric(resp.OrigQty)
	if requested == 0 {
		requested = intent.Quantity
	}
	filled := parseNumeric(resp.ExecutedQty)

	fills := make([]Fill, 0, len(resp.Fills))
	for _, f := range resp.Fills {
		fills = append(fills, Fill{
			Quantity:  parseNumeric(f.Qty),
			Price:     parseNumeric(f.Price),
			Timestamp: submitted,
		})
	}

	var venueAvg *float64
	if quote := parseNumeric(resp.CummulativeQuoteQty); quote > 0 && filled > 0 {
		v := quote / filled
		venueAvg = &v
	}

	report := ExecutionReport{
		VenueOrderID:      venueOrderID(resp.OrderID),
		ClientOrderID:     resp.ClientOrderID,
		Status:            spotStatuses.lookup(resp.Status, StatusAccepted),
		Broker:            a.name,
		Venue:             a.venue,
		AccountID:         intent.AccountID,
		Symbol:            strings.ToUpper(symbol),
		Side:              side,
		OrderType:         OrderType(strings.ToLower(resp.Type)),
		RequestedQuantity: requested,
		FilledQuantity:    filled,
		SubmittedAt:       submitted,
		Tags:              intent.Tags,
	}
	if report.OrderType == "" {
		report.OrderType = intent.OrderType
	}
	return finalize(report, fills, venueAvg, refPrice)
}

func venueOrderID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
